package signup

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/pkg/metrics"
	"github.com/ledgerline/site/internal/store"
)

var (
	ErrInvalidEmail  = errors.New("a valid email address is required")
	ErrInvalidFunnel = errors.New("unknown signup funnel")
	ErrIDExhausted   = errors.New("no free signup id")
)

const (
	maxFieldLen      = 200
	maxClaimAttempts = 50
)

// Submission is the user-supplied part of a signup.
type Submission struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Interest string `json:"interest"`
}

// Recorder writes signups in the layout the reconciler reads back.
type Recorder struct {
	store store.Store
	now   func() time.Time
}

// NewRecorder creates a Recorder on s.
func NewRecorder(s store.Store) *Recorder {
	return &Recorder{store: s, now: time.Now}
}

// Submit validates and stores one signup. The entry hash is written first;
// the aggregate sets and interest key follow and a failure there is returned
// but leaves the hash in place.
func (r *Recorder) Submit(ctx context.Context, funnel keyspace.Funnel, sub Submission) (Record, error) {
	if !funnel.Valid() {
		return Record{}, ErrInvalidFunnel
	}

	rec := Record{
		Email:  clean(sub.Email),
		Name:   clean(sub.Name),
		Funnel: funnel,
	}
	if funnel == keyspace.Newsletter {
		// ":" would split the interest key into extra segments
		rec.Interest = strings.ReplaceAll(strings.ToLower(clean(sub.Interest)), ":", "-")
	}
	if !rec.Complete() {
		return Record{}, ErrInvalidEmail
	}

	entryKey, err := r.claim(ctx, &rec)
	if err != nil {
		return Record{}, err
	}

	fields := map[string]string{
		"name":      rec.Name,
		"timestamp": rec.ID,
	}
	if funnel == keyspace.Newsletter {
		fields["interest"] = rec.Interest
	}
	if err := r.store.HSet(ctx, entryKey, fields); err != nil {
		return Record{}, fmt.Errorf("writing %s: %w", entryKey, err)
	}

	if err := r.store.SAdd(ctx, keyspace.SetKey(funnel, keyspace.SetEmails), rec.Email); err != nil {
		return rec, fmt.Errorf("adding to %s emails: %w", funnel, err)
	}
	if rec.Name != "" {
		if err := r.store.SAdd(ctx, keyspace.SetKey(funnel, keyspace.SetNames), rec.Name); err != nil {
			return rec, fmt.Errorf("adding to %s names: %w", funnel, err)
		}
	}
	if rec.Interest != "" {
		if err := r.store.Set(ctx, keyspace.InterestKey(funnel, rec.Interest, rec.ID), rec.Email); err != nil {
			return rec, fmt.Errorf("writing interest tag: %w", err)
		}
		if err := r.store.SAdd(ctx, keyspace.SetKey(funnel, keyspace.SetInterests), rec.Interest); err != nil {
			return rec, fmt.Errorf("adding to %s interests: %w", funnel, err)
		}
	}

	metrics.SignupsTotal.WithLabelValues(string(funnel)).Inc()
	logger.Info("signup recorded", "funnel", funnel, "id", rec.ID, "email", rec.Email)
	return rec, nil
}

// claim picks the entry id. The id is the current Unix millis; when another
// signup already holds that id the next millisecond is tried. The email field
// is written with HSETNX so two concurrent submits cannot share an entry.
func (r *Recorder) claim(ctx context.Context, rec *Record) (string, error) {
	ts := r.now().UnixMilli()
	for i := 0; i < maxClaimAttempts; i++ {
		id := strconv.FormatInt(ts+int64(i), 10)
		key := keyspace.EntryKey(rec.Funnel, id)
		ok, err := r.store.HSetNX(ctx, key, "email", rec.Email)
		if err != nil && strings.Contains(err.Error(), "WRONGTYPE") {
			// a legacy value occupies the key; leave it for the repair tool
			continue
		}
		if err != nil {
			return "", fmt.Errorf("claiming %s: %w", key, err)
		}
		if ok {
			rec.ID = id
			rec.Timestamp = ts + int64(i)
			return key, nil
		}
	}
	return "", fmt.Errorf("%w: %s ids from %d", ErrIDExhausted, rec.Funnel, ts)
}

// clean trims s, replaces control characters with spaces and caps it at
// maxFieldLen runes.
func clean(s string) string {
	s = strings.Map(func(c rune) rune {
		if unicode.IsControl(c) {
			return ' '
		}
		return c
	}, s)
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) > maxFieldLen {
		s = strings.TrimSpace(string([]rune(s)[:maxFieldLen]))
	}
	return s
}

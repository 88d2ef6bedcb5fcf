// Package reconcile rebuilds signup records from the keyspace.
//
// The keyspace mixes hashes, legacy string fragments and aggregate sets, and
// any key may hold a value of the wrong type. Reconcile never lets one key's
// failure stop the scan: every problem becomes a Warning and the loop moves on.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/pkg/metrics"
	"github.com/ledgerline/site/internal/signup"
	"github.com/ledgerline/site/internal/store"
)

// Code classifies a Warning.
type Code string

const (
	CodeShapeMismatch Code = "shape_mismatch"
	CodeReadFailed    Code = "read_failed"
	CodeMissingEmail  Code = "missing_email"
	CodeIncomplete    Code = "incomplete_record"
	CodeDenylisted    Code = "denylisted"
)

// Warning is a per-key diagnostic. Warnings are never returned as errors.
type Warning struct {
	Key     string `json:"key"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

// Result is the output of one reconciliation pass.
type Result struct {
	Records     []signup.Record      // complete records, newest first
	Tags        []signup.InterestTag // deduplicated interest tags
	Warnings    []Warning
	KeysScanned int
}

// WarningCounts tallies warnings by code.
func (r Result) WarningCounts() map[Code]int {
	counts := make(map[Code]int)
	for _, w := range r.Warnings {
		counts[w.Code]++
	}
	return counts
}

// Reconciler reads the keyspace through a store.Store.
type Reconciler struct {
	store    store.Store
	denylist map[string]struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDenylist skips the given keys without any store call.
func WithDenylist(keys ...string) Option {
	return func(r *Reconciler) {
		for _, k := range keys {
			r.denylist[k] = struct{}{}
		}
	}
}

// New creates a Reconciler.
func New(s store.Store, opts ...Option) *Reconciler {
	r := &Reconciler{store: s, denylist: make(map[string]struct{})}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ReconcileAll pings the store, lists every key and reconciles them. Failing
// to reach the store or list keys is fatal and wraps store.ErrUnavailable.
func (r *Reconciler) ReconcileAll(ctx context.Context) (Result, error) {
	if err := r.store.Ping(ctx); err != nil {
		return Result{}, unavailable("ping", err)
	}
	keys, err := r.store.Keys(ctx, "*")
	if err != nil {
		return Result{}, unavailable("listing keys", err)
	}

	res := r.Reconcile(ctx, keys)
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

type entryID struct {
	funnel keyspace.Funnel
	id     string
}

type pass struct {
	r        *Reconciler
	warnings []Warning
}

func (p *pass) warn(key string, code Code, format string, args ...interface{}) {
	w := Warning{Key: key, Code: code, Message: fmt.Sprintf(format, args...)}
	p.warnings = append(p.warnings, w)
	metrics.ReconcileWarningsTotal.WithLabelValues(string(code)).Inc()
	logger.Warn("reconcile: key skipped", "key", key, "code", code, "detail", w.Message)
}

// Reconcile classifies keys and rebuilds records from them. Keys matching no
// known family, and the aggregate set keys, are ignored.
func (r *Reconciler) Reconcile(ctx context.Context, keys []string) Result {
	p := &pass{r: r}

	var entries, emails, names, interests []keyspace.Key
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)
	for _, raw := range sorted {
		k := keyspace.Parse(raw)
		switch k.Kind {
		case keyspace.HashEntry:
			entries = append(entries, k)
		case keyspace.EmailFragment:
			emails = append(emails, k)
		case keyspace.NameFragment:
			names = append(names, k)
		case keyspace.InterestFragment:
			interests = append(interests, k)
		}
	}

	records := make(map[entryID]*signup.Record)
	tags := make(map[signup.InterestTag]struct{})

	for _, k := range entries {
		if ctx.Err() != nil {
			break
		}
		if p.denied(k) {
			continue
		}
		rec, ok := p.readEntry(ctx, k)
		if !ok {
			continue
		}
		records[entryID{k.Funnel, k.ID}] = rec
	}

	emailFrags := p.readFragments(ctx, emails)
	nameFrags := p.readFragments(ctx, names)

	for _, k := range interests {
		if p.denied(k) {
			continue
		}
		tags[signup.InterestTag{Funnel: k.Funnel, ID: k.ID, Label: k.Interest}] = struct{}{}
	}

	mergeFragments(records, emailFrags, nameFrags)
	attachInterests(records, tags)

	res := Result{KeysScanned: len(keys)}
	for _, rec := range records {
		if !rec.Complete() {
			p.warn(keyspace.EntryKey(rec.Funnel, rec.ID), CodeIncomplete, "no usable email (got %q)", rec.Email)
			continue
		}
		// hash interest fields count only for records that survive
		if rec.Interest != "" {
			tags[signup.InterestTag{Funnel: rec.Funnel, ID: rec.ID, Label: rec.Interest}] = struct{}{}
		}
		res.Records = append(res.Records, *rec)
	}
	SortNewestFirst(res.Records)

	res.Tags = make([]signup.InterestTag, 0, len(tags))
	for tag := range tags {
		res.Tags = append(res.Tags, tag)
	}
	sort.Slice(res.Tags, func(i, j int) bool {
		a, b := res.Tags[i], res.Tags[j]
		if a.Funnel != b.Funnel {
			return a.Funnel < b.Funnel
		}
		if a.ID != b.ID {
			return a.ID < b.ID
		}
		return a.Label < b.Label
	})

	res.Warnings = p.warnings
	logger.Info("reconcile complete",
		"keys", len(keys),
		"records", len(res.Records),
		"interest_tags", len(res.Tags),
		"warnings", len(res.Warnings))
	return res
}

func (p *pass) denied(k keyspace.Key) bool {
	if _, ok := p.r.denylist[k.Raw]; ok {
		p.warn(k.Raw, CodeDenylisted, "key is on the reconcile denylist")
		return true
	}
	return false
}

// readEntry checks the key type before reading, so a non-hash key is skipped
// without a WRONGTYPE round trip.
func (p *pass) readEntry(ctx context.Context, k keyspace.Key) (*signup.Record, bool) {
	var typ string
	if err := guard(func() (err error) {
		typ, err = p.r.store.Type(ctx, k.Raw)
		return err
	}); err != nil {
		p.warn(k.Raw, CodeReadFailed, "type check failed: %v", err)
		return nil, false
	}
	if keyspace.Shape(typ) != keyspace.ShapeHash {
		p.warn(k.Raw, CodeShapeMismatch, "expected hash, found %s", typ)
		return nil, false
	}

	var fields map[string]string
	if err := guard(func() (err error) {
		fields, err = p.r.store.HGetAll(ctx, k.Raw)
		return err
	}); err != nil {
		p.warn(k.Raw, CodeReadFailed, "hgetall failed: %v", err)
		return nil, false
	}

	email, ok := fields["email"]
	if !ok || email == "" {
		p.warn(k.Raw, CodeMissingEmail, "hash has no email field")
		return nil, false
	}

	rec := &signup.Record{
		ID:        k.ID,
		Email:     email,
		Name:      fields["name"],
		Timestamp: k.Timestamp(),
		Funnel:    k.Funnel,
	}
	if k.Funnel == keyspace.Newsletter {
		rec.Interest = fields["interest"]
	}
	return rec, true
}

// readFragments GETs legacy string fragments. Empty values mean no data.
func (p *pass) readFragments(ctx context.Context, keys []keyspace.Key) map[entryID]string {
	out := make(map[entryID]string)
	for _, k := range keys {
		if ctx.Err() != nil {
			break
		}
		if p.denied(k) {
			continue
		}
		var val string
		if err := guard(func() (err error) {
			val, err = p.r.store.Get(ctx, k.Raw)
			return err
		}); err != nil {
			code := CodeReadFailed
			if strings.Contains(err.Error(), "WRONGTYPE") {
				code = CodeShapeMismatch
			}
			p.warn(k.Raw, code, "get failed: %v", err)
			continue
		}
		if val == "" {
			continue
		}
		out[entryID{k.Funnel, k.ID}] = val
	}
	return out
}

// mergeFragments fills blanks on hash records and builds records for ids that
// only exist as fragments.
func mergeFragments(records map[entryID]*signup.Record, emails, names map[entryID]string) {
	ids := make(map[entryID]struct{}, len(emails)+len(names))
	for id := range emails {
		ids[id] = struct{}{}
	}
	for id := range names {
		ids[id] = struct{}{}
	}

	for id := range ids {
		rec, ok := records[id]
		if !ok {
			rec = &signup.Record{
				ID:        id.id,
				Funnel:    id.funnel,
				Timestamp: keyspace.Key{ID: id.id}.Timestamp(),
			}
			records[id] = rec
		}
		if rec.Email == "" {
			rec.Email = emails[id]
		}
		if rec.Name == "" {
			rec.Name = names[id]
		}
	}
}

// attachInterests gives newsletter records without an interest field the
// label of a matching interest key. With several labels the smallest wins.
func attachInterests(records map[entryID]*signup.Record, tags map[signup.InterestTag]struct{}) {
	best := make(map[entryID]string)
	for tag := range tags {
		id := entryID{tag.Funnel, tag.ID}
		if cur, ok := best[id]; !ok || tag.Label < cur {
			best[id] = tag.Label
		}
	}
	for id, label := range best {
		rec, ok := records[id]
		if !ok || rec.Funnel != keyspace.Newsletter || rec.Interest != "" {
			continue
		}
		rec.Interest = label
	}
}

// SortNewestFirst orders records by timestamp descending, then funnel and id.
func SortNewestFirst(records []signup.Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		if a.Funnel != b.Funnel {
			return a.Funnel < b.Funnel
		}
		return a.ID < b.ID
	})
}

// guard turns a panicking store call into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func unavailable(op string, err error) error {
	if errors.Is(err, store.ErrUnavailable) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %v", op, store.ErrUnavailable, err)
}

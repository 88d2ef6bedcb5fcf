// Package export writes a reconciled, aggregated snapshot of the signups as a
// set of text, CSV and JSON files. Each run lives under its own timestamp token.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ledgerline/site/internal/aggregate"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/signup"
	"github.com/ledgerline/site/internal/storage"
)

// Logical file names of a run.
const (
	FileWaitlistEmails   = "waitlist-emails.txt"
	FileWaitlistNames    = "waitlist-names.txt"
	FileNewsletterEmails = "newsletter-emails.txt"
	FileNewsletterNames  = "newsletter-names.txt"
	FileUniqueEmails     = "all-unique-emails.txt"
	FileCombinedCSV      = "emails-names-interests.csv"
	FileInterestsCSV     = "interests.csv"
	FileManifest         = "manifest.json"
)

// DataFiles are written in this order; the manifest always comes after them.
var DataFiles = []string{
	FileWaitlistEmails,
	FileWaitlistNames,
	FileNewsletterEmails,
	FileNewsletterNames,
	FileUniqueEmails,
	FileCombinedCSV,
	FileInterestsCSV,
}

// TokenLayout formats run tokens. Tokens sort in creation order.
const TokenLayout = "20060102T150405.000000000Z"

// DownloadPath is the route that serves run files.
const DownloadPath = "/api/admin/export/download"

const reserveAttempts = 3

var (
	ErrInvalidFile = errors.New("invalid export file or timestamp")

	tokenPattern = regexp.MustCompile(`^\d{8}T\d{6}\.\d{9}Z$`)
)

// FileWriteError is returned when a run file cannot be written. No manifest
// exists for a run that failed this way.
type FileWriteError struct {
	File string
	Err  error
}

func (e *FileWriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.File, e.Err)
}

func (e *FileWriteError) Unwrap() error { return e.Err }

// Manifest describes one completed run.
type Manifest struct {
	Timestamp   string                    `json:"timestamp"`
	RunID       string                    `json:"runId"`
	GeneratedAt time.Time                 `json:"generatedAt"`
	Files       []string                  `json:"files"`
	Stats       aggregate.Stats           `json:"stats"`
	Interests   []aggregate.InterestCount `json:"interests"`
	Records     int                       `json:"records"`
	Warnings    int                       `json:"warnings"`
}

// Run is the result of a successful export.
type Run struct {
	Token    string
	Manifest Manifest
	// Files maps each logical file name to its download path.
	Files map[string]string
}

// Exporter writes runs to a storage.Destination.
type Exporter struct {
	dest  storage.Destination
	now   func() time.Time
	newID func() string
}

// New creates an Exporter.
func New(dest storage.Destination) *Exporter {
	return &Exporter{
		dest:  dest,
		now:   time.Now,
		newID: uuid.NewString,
	}
}

var (
	tokenMu   sync.Mutex
	lastToken time.Time
)

// nextToken returns a token strictly later than any other issued in this
// process, even when the clock has not advanced.
func (e *Exporter) nextToken() string {
	tokenMu.Lock()
	defer tokenMu.Unlock()

	t := e.now().UTC()
	if !t.After(lastToken) {
		t = lastToken.Add(time.Nanosecond)
	}
	lastToken = t
	return t.Format(TokenLayout)
}

// reserve claims a fresh run, retrying with a new token on collision.
func (e *Exporter) reserve(ctx context.Context) (string, error) {
	var err error
	for i := 0; i < reserveAttempts; i++ {
		token := e.nextToken()
		if err = e.dest.Reserve(ctx, token); err == nil {
			return token, nil
		}
		if !errors.Is(err, storage.ErrRunExists) {
			return "", err
		}
	}
	return "", err
}

// ExportAll writes every data file, then the manifest. The first failed write
// aborts the run with a *FileWriteError.
func (e *Exporter) ExportAll(ctx context.Context, records []signup.Record, agg aggregate.Result, warnings int) (*Run, error) {
	token, err := e.reserve(ctx)
	if err != nil {
		return nil, &FileWriteError{File: "run directory", Err: err}
	}

	contents, err := renderFiles(records, agg)
	if err != nil {
		return nil, err
	}

	run := &Run{Token: token, Files: make(map[string]string, len(DataFiles)+1)}
	for _, name := range DataFiles {
		if err := e.dest.Write(ctx, token, name, contents[name]); err != nil {
			logger.Error("export file write failed", "run", token, "file", name, "error", err)
			return nil, &FileWriteError{File: name, Err: err}
		}
		run.Files[name] = RetrievalPath(token, name)
	}

	run.Manifest = Manifest{
		Timestamp:   token,
		RunID:       e.newID(),
		GeneratedAt: e.now().UTC(),
		Files:       append([]string(nil), DataFiles...),
		Stats:       agg.Stats,
		Interests:   agg.RankedInterests(),
		Records:     len(records),
		Warnings:    warnings,
	}
	manifest, err := json.MarshalIndent(run.Manifest, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding manifest: %w", err)
	}
	if err := e.dest.Write(ctx, token, FileManifest, manifest); err != nil {
		logger.Error("export manifest write failed", "run", token, "error", err)
		return nil, &FileWriteError{File: FileManifest, Err: err}
	}
	run.Files[FileManifest] = RetrievalPath(token, FileManifest)

	logger.Info("export complete",
		"run", token,
		"location", e.dest.Location(token, FileManifest),
		"unique_emails", agg.Stats.UniqueEmails,
		"records", len(records),
		"warnings", warnings)
	return run, nil
}

// Open returns a run file for download. Both arguments are validated before
// storage is touched.
func (e *Exporter) Open(ctx context.Context, token, name string) (io.ReadCloser, error) {
	if !ValidToken(token) || !KnownFile(name) {
		return nil, ErrInvalidFile
	}
	return e.dest.Open(ctx, token, name)
}

// ValidToken reports whether s has the run token format.
func ValidToken(s string) bool { return tokenPattern.MatchString(s) }

// KnownFile reports whether name is one of a run's files.
func KnownFile(name string) bool {
	if name == FileManifest {
		return true
	}
	for _, f := range DataFiles {
		if f == name {
			return true
		}
	}
	return false
}

// RetrievalPath builds the download URL path for a run file.
func RetrievalPath(token, name string) string {
	q := url.Values{}
	q.Set("file", name)
	q.Set("timestamp", token)
	return DownloadPath + "?" + q.Encode()
}

// ContentType infers the MIME type served for a run file.
func ContentType(name string) string { return storage.ContentType(name) }

func renderFiles(records []signup.Record, agg aggregate.Result) (map[string][]byte, error) {
	combined, err := combinedCSV(records)
	if err != nil {
		return nil, &FileWriteError{File: FileCombinedCSV, Err: err}
	}
	interests, err := interestsCSV(agg.RankedInterests())
	if err != nil {
		return nil, &FileWriteError{File: FileInterestsCSV, Err: err}
	}
	return map[string][]byte{
		FileWaitlistEmails:   lines(FileWaitlistEmails, agg.WaitlistEmails),
		FileWaitlistNames:    lines(FileWaitlistNames, agg.WaitlistNames),
		FileNewsletterEmails: lines(FileNewsletterEmails, agg.NewsletterEmails),
		FileNewsletterNames:  lines(FileNewsletterNames, agg.NewsletterNames),
		FileUniqueEmails:     lines(FileUniqueEmails, agg.UniqueEmails),
		FileCombinedCSV:      combined,
		FileInterestsCSV:     interests,
	}, nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// lines writes one value per line. Embedded line breaks are flattened to a
// space so the line count always matches the value count.
func lines(file string, values []string) []byte {
	if len(values) == 0 {
		return []byte{}
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = lineBreaks.Replace(v)
		if out[i] != v {
			logger.Warn("export: line break flattened", "file", file, "line", i+1)
		}
	}
	return []byte(strings.Join(out, "\n") + "\n")
}

func combinedCSV(records []signup.Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Email", "Name", "Interest", "Source"}); err != nil {
		return nil, err
	}
	for _, r := range records {
		if !r.Complete() {
			continue
		}
		if err := w.Write([]string{r.Email, r.Name, r.Interest, string(r.Funnel)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func interestsCSV(counts []aggregate.InterestCount) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Interest", "Count"}); err != nil {
		return nil, err
	}
	for _, c := range counts {
		if err := w.Write([]string{c.Label, strconv.Itoa(c.Count)}); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

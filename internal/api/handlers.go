package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/ledgerline/site/internal/aggregate"
	"github.com/ledgerline/site/internal/chat"
	"github.com/ledgerline/site/internal/export"
	"github.com/ledgerline/site/internal/keyspace"
	"github.com/ledgerline/site/internal/pages"
	"github.com/ledgerline/site/internal/pkg/httputil"
	"github.com/ledgerline/site/internal/pkg/logger"
	"github.com/ledgerline/site/internal/reconcile"
	"github.com/ledgerline/site/internal/signup"
	"github.com/ledgerline/site/internal/storage"
	"github.com/ledgerline/site/internal/store"
)

// Handlers contains the HTTP handlers for the public site and the admin API.
type Handlers struct {
	recorder   *signup.Recorder
	reconciler *reconcile.Reconciler
	pipeline   *export.Pipeline
	bot        *chat.Bot
	pages      *pages.Renderer
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(
	recorder *signup.Recorder,
	reconciler *reconcile.Reconciler,
	pipeline *export.Pipeline,
	bot *chat.Bot,
	renderer *pages.Renderer,
) *Handlers {
	return &Handlers{
		recorder:   recorder,
		reconciler: reconciler,
		pipeline:   pipeline,
		bot:        bot,
		pages:      renderer,
	}
}

// ---------------------------------------------------------------------------
// Public signup
// ---------------------------------------------------------------------------

type signupResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// HandleWaitlist records a waitlist signup.
//
//	POST /api/waitlist
func (h *Handlers) HandleWaitlist(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, keyspace.Waitlist, "You're on the waitlist!")
}

// HandleNewsletter records a newsletter subscription.
//
//	POST /api/newsletter
func (h *Handlers) HandleNewsletter(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, keyspace.Newsletter, "Thanks for subscribing!")
}

func (h *Handlers) submit(w http.ResponseWriter, r *http.Request, funnel keyspace.Funnel, message string) {
	var sub signup.Submission
	if !httputil.Decode(w, r, &sub) {
		return
	}

	if _, err := h.recorder.Submit(r.Context(), funnel, sub); err != nil {
		if errors.Is(err, signup.ErrInvalidEmail) {
			httputil.BadRequest(w, err.Error())
			return
		}
		respondSafeError(w, http.StatusServiceUnavailable, err, "Signup is temporarily unavailable, please try again")
		return
	}

	httputil.Created(w, signupResponse{Success: true, Message: message})
}

// ---------------------------------------------------------------------------
// Chat
// ---------------------------------------------------------------------------

type chatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

// HandleChat answers one chat message.
//
//	POST /api/chat
func (h *Handlers) HandleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if !httputil.Decode(w, r, &req) {
		return
	}
	httputil.OK(w, h.bot.Reply(r.Context(), req.Message, req.History))
}

// ---------------------------------------------------------------------------
// Pages
// ---------------------------------------------------------------------------

// HandlePage serves one rendered informational page.
func (h *Handlers) HandlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := h.pages.Render(name)
		if err != nil {
			logger.Error("page render failed", "page", name, "error", err)
			http.Error(w, "page unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write(body)
	}
}

// ---------------------------------------------------------------------------
// Admin: export
// ---------------------------------------------------------------------------

type exportResponse struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Files     map[string]string `json:"files,omitempty"`
	Stats     *aggregate.Stats  `json:"stats,omitempty"`
	Error     string            `json:"error,omitempty"`
	Cause     string            `json:"cause,omitempty"`
}

// HandleExport runs one full export.
//
//	POST /api/admin/export
func (h *Handlers) HandleExport(w http.ResponseWriter, r *http.Request) {
	run, err := h.pipeline.Run(r.Context())
	if err != nil {
		respondExportFailure(w, err)
		return
	}

	m := run.Manifest
	httputil.OK(w, exportResponse{
		Success:   true,
		Message:   fmt.Sprintf("Exported %d unique emails across %d files", m.Stats.UniqueEmails, len(run.Files)),
		Timestamp: run.Token,
		Files:     run.Files,
		Stats:     &m.Stats,
	})
}

func respondExportFailure(w http.ResponseWriter, err error) {
	var fwe *export.FileWriteError
	switch {
	case errors.Is(err, store.ErrUnavailable):
		msg := sanitizedError(http.StatusServiceUnavailable, err, "Signup store is unavailable")
		httputil.JSON(w, http.StatusServiceUnavailable, exportResponse{Error: msg})
	case errors.As(err, &fwe):
		msg := sanitizedError(http.StatusInternalServerError, err, "Export failed while writing files")
		cause := fwe.File + ": " + safeErrorMessage(http.StatusInternalServerError, fwe.Err)
		httputil.JSON(w, http.StatusInternalServerError, exportResponse{Error: msg, Cause: cause})
	default:
		msg := sanitizedError(http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		httputil.JSON(w, http.StatusInternalServerError, exportResponse{Error: msg})
	}
}

// HandleDownload streams one file of a finished export run.
//
//	GET /api/admin/export/download?file=<name>&timestamp=<token>
func (h *Handlers) HandleDownload(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("file")
	token := r.URL.Query().Get("timestamp")

	rc, err := h.pipeline.Exporter().Open(r.Context(), token, name)
	switch {
	case errors.Is(err, export.ErrInvalidFile):
		httputil.BadRequest(w, "invalid file or timestamp")
		return
	case errors.Is(err, storage.ErrNotFound):
		httputil.NotFound(w, "export file not found")
		return
	case err != nil:
		respondSafeError(w, http.StatusInternalServerError, err, safeErrorMessage(http.StatusInternalServerError, err))
		return
	}
	defer rc.Close()

	if err := httputil.Attachment(w, name, export.ContentType(name), rc); err != nil {
		logger.Warn("download interrupted", "file", name, "timestamp", token, "error", err)
	}
}

// ---------------------------------------------------------------------------
// Admin: signups
// ---------------------------------------------------------------------------

type signupsResponse struct {
	Records       []signup.Record           `json:"records"`
	Stats         aggregate.Stats           `json:"stats"`
	Interests     []aggregate.InterestCount `json:"interests"`
	Warnings      int                       `json:"warnings"`
	WarningCounts map[reconcile.Code]int    `json:"warningCounts"`
	KeysScanned   int                       `json:"keysScanned"`
}

// HandleSignups lists reconciled signups, newest first.
//
//	GET /api/admin/signups
func (h *Handlers) HandleSignups(w http.ResponseWriter, r *http.Request) {
	res, err := h.reconciler.ReconcileAll(r.Context())
	if err != nil {
		respondSafeError(w, http.StatusServiceUnavailable, err, "Signup store is unavailable")
		return
	}

	records := res.Records
	if records == nil {
		records = []signup.Record{}
	}
	agg := aggregate.Aggregate(res.Records, res.Tags...)
	httputil.OK(w, signupsResponse{
		Records:       records,
		Stats:         agg.Stats,
		Interests:     agg.RankedInterests(),
		Warnings:      len(res.Warnings),
		WarningCounts: res.WarningCounts(),
		KeysScanned:   res.KeysScanned,
	})
}

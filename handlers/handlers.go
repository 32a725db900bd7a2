// handlers/handlers.go
package handlers

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"newton/shared"
	"newton/streaming"
	t "newton/temporal"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Workflows is the part of the Temporal gateway the front end needs.
type Workflows interface {
	Start(ctx context.Context, requestText string) (string, error)
	Status(ctx context.Context, workflowID string) (*t.Status, error)
	Cancel(ctx context.Context, workflowID string) error
}

// RunReader reads persisted runs and their event history.
type RunReader interface {
	GetRun(ctx context.Context, workflowID string) (*shared.RunRecord, error)
	Events(ctx context.Context, workflowID string, after int64) ([]shared.Event, error)
}

// Handler holds dependencies for HTTP handlers
type Handler struct {
	Workflows Workflows
	Runs      RunReader
	Hub       streaming.EventHub // nil disables live streaming
	Template  *template.Template
	logger    *slog.Logger

	// PollInterval bounds how long an event stream waits on a quiet hub
	// before re-reading the store. Zero means five seconds.
	PollInterval time.Duration
}

// NewHandler parses the embedded page template.
func NewHandler(wf Workflows, runs RunReader, hub streaming.EventHub, logger *slog.Logger) (*Handler, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/index.html.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to parse template: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		Workflows: wf,
		Runs:      runs,
		Hub:       hub,
		Template:  tmpl,
		logger:    logger,
	}, nil
}

// RegisterRoutes mounts every route on r. timeout applies to every route
// except the event stream.
func (h *Handler) RegisterRoutes(r chi.Router, timeout time.Duration) {
	r.Group(func(r chi.Router) {
		if timeout > 0 {
			r.Use(middleware.Timeout(timeout))
		}
		r.Get("/", h.HandleIndex)
		r.Post("/submit", h.HandleSubmit)
		r.Get("/status/{workflowID}", h.HandleStatus)

		r.Post("/api/generate", h.HandleGenerate)
		r.Get("/runs/{workflowID}", h.HandleRun)
		r.Post("/runs/{workflowID}/cancel", h.HandleCancel)
	})
	r.Get("/runs/{workflowID}/events", h.HandleEvents)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

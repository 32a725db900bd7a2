package handlers

import (
	"errors"
	"fmt"
	"html"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"newton/shared"
	t "newton/temporal"
)

// HandleIndex serves the main page.
func (h *Handler) HandleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := h.Template.Execute(w, nil); err != nil {
		h.logger.Error("Error executing template", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// HandleSubmit receives the prompt and starts the workflow. The response is
// an HTMX fragment that polls /status until the run ends.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		h.logger.Warn("Error parsing form", "error", err)
		http.Error(w, "Bad Request", http.StatusBadRequest)
		return
	}
	prompt := r.FormValue("prompt")

	workflowID, err := h.Workflows.Start(r.Context(), prompt)
	if errors.Is(err, t.ErrEmptyRequest) {
		http.Error(w, "Prompt cannot be empty", http.StatusBadRequest)
		return
	}
	if err != nil {
		h.logger.Error("Error starting workflow", "error", err)
		http.Error(w, "Failed to start generation task", http.StatusInternalServerError)
		return
	}
	h.logger.Info("Workflow submitted", "workflow_id", workflowID)

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, pollingFragment(workflowID, "Task submitted. Planning the scene..."))
}

// HandleStatus reports the state of a workflow as an HTMX fragment. Running
// workflows get a fragment that polls again.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	st, err := h.Workflows.Status(r.Context(), workflowID)
	if err != nil {
		h.logger.Warn("Error describing workflow", "workflow_id", workflowID, "error", err)
		fmt.Fprintf(w, `<div id="workflow-%s" class="error">Error checking status for %s: %s</div>`,
			html.EscapeString(workflowID), html.EscapeString(workflowID), html.EscapeString(err.Error()))
		return
	}

	if st.Running() {
		msg := "Processing..."
		if h.Runs != nil {
			if evs, err := h.Runs.Events(r.Context(), workflowID, 0); err == nil && len(evs) > 0 {
				msg = fmt.Sprintf("Processing [%s]: %s", evs[len(evs)-1].Stage, evs[len(evs)-1].Message)
			}
		}
		fmt.Fprint(w, pollingFragment(workflowID, msg))
		return
	}
	fmt.Fprint(w, resultFragment(workflowID, st))
}

func pollingFragment(workflowID, msg string) string {
	id := html.EscapeString(workflowID)
	return fmt.Sprintf(`<div id="workflow-%s" class="processing"
     hx-get="/status/%s"
     hx-trigger="load delay:3s"
     hx-swap="outerHTML">
     <p>%s (ID: %s)</p>
</div>`, id, id, html.EscapeString(msg), id)
}

func resultFragment(workflowID string, st *t.Status) string {
	id := html.EscapeString(workflowID)
	label := html.EscapeString(st.Label())
	s := st.State
	if s == nil {
		return fmt.Sprintf(`<div id="workflow-%s" class="error"><p><strong>Status: %s</strong></p></div>`, id, label)
	}

	var b strings.Builder
	class := "success"
	switch s.Phase {
	case shared.PhaseSucceededWithWarning:
		class = "warning"
	case shared.PhaseFailed:
		class = "error"
	}
	fmt.Fprintf(&b, `<div id="workflow-%s" class="%s"><p><strong>Status: %s</strong> (repairs: %d, fix: %s)</p>`,
		id, class, label, s.RetryCount, html.EscapeString(string(s.FixMethod)))
	switch {
	case s.OutputPath != "":
		fmt.Fprintf(&b, `<p>Video: <code>%s</code></p>`, html.EscapeString(s.OutputPath))
	case s.UnvalidatedOutputPath != "":
		fmt.Fprintf(&b, `<p>Unvalidated video: <code>%s</code></p>`, html.EscapeString(s.UnvalidatedOutputPath))
	}
	if s.ErrorKind != shared.ErrorKindNone {
		fmt.Fprintf(&b, `<p>Error: %s</p>`, html.EscapeString(string(s.ErrorKind)))
	}
	if len(s.ValidationIssues) > 0 {
		fmt.Fprintf(&b, `<p>Issues: %s</p>`, html.EscapeString(strings.Join(s.ValidationIssues, "; ")))
	}
	if s.Artifact != "" {
		fmt.Fprintf(&b, `<pre><code>%s</code></pre>`, html.EscapeString(s.Artifact))
	}
	b.WriteString(`</div>`)
	return b.String()
}

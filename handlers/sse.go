package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"newton/shared"
	"newton/streaming"
)

// defaultEventPollInterval is how long the stream waits on a quiet hub before
// re-reading the store.
const defaultEventPollInterval = 5 * time.Second

// HandleEvents streams a run's events as Server-Sent Events: the persisted
// history first, then live events from the hub. The stream ends after the
// final event. Last-Event-ID resumes after the given sequence.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	workflowID := chi.URLParam(r, "workflowID")
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	ctx := r.Context()

	// Subscribe before reading history so nothing falls between the two.
	var live <-chan shared.Event
	if h.Hub != nil {
		ch, unsub, err := h.Hub.Subscribe(ctx, streaming.EventFilter{WorkflowID: workflowID})
		if err != nil {
			http.Error(w, "subscribe failed", http.StatusInternalServerError)
			return
		}
		defer unsub()
		live = ch
	}

	var last int64
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			last = n
		}
	}
	history, err := h.Runs.Events(ctx, workflowID, last)
	if err != nil {
		h.logger.Error("Error loading events", "workflow_id", workflowID, "error", err)
		http.Error(w, "failed to load events", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	// send writes ev unless it was already sent and reports whether the
	// stream is finished.
	send := func(ev shared.Event) bool {
		if ev.Sequence <= last {
			return false
		}
		writeSSE(w, ev)
		flusher.Flush()
		last = ev.Sequence
		return ev.Final()
	}

	for _, ev := range history {
		if send(ev) {
			return
		}
	}
	if live == nil {
		return
	}

	// catchUp sends stored events below before (all of them when before is 0)
	// and reports whether the final one was among them.
	catchUp := func(before int64) bool {
		missed, err := h.Runs.Events(ctx, workflowID, last)
		if err != nil {
			h.logger.Warn("Error backfilling events", "workflow_id", workflowID, "error", err)
			return false
		}
		for _, m := range missed {
			if before > 0 && m.Sequence >= before {
				break
			}
			if send(m) {
				return true
			}
		}
		return false
	}

	interval := h.PollInterval
	if interval <= 0 {
		interval = defaultEventPollInterval
	}
	idle := time.NewTicker(interval)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-idle.C:
			// The hub may have dropped the final event.
			if catchUp(0) {
				return
			}
		case ev, ok := <-live:
			if !ok {
				return
			}
			idle.Reset(interval)
			if ev.Sequence > last+1 && catchUp(ev.Sequence) {
				return
			}
			if send(ev) {
				return
			}
		}
	}
}

func writeSSE(w http.ResponseWriter, ev shared.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", ev.Sequence, ev.Type, data)
}

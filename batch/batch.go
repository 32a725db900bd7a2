// Package batch runs many generation requests and aggregates how the
// pipeline fared: first-attempt successes, healed successes, reused fixes
// and the distinct failures left over.
package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"newton/knowledge"
	"newton/shared"
)

// Generator runs one request to completion.
type Generator interface {
	Run(ctx context.Context, requestText string) (*shared.WorkflowState, error)
}

// Item is one concept to animate.
type Item struct {
	Topic   string
	Concept string
	Cues    string
}

func (it Item) Name() string { return it.Topic + " - " + it.Concept }

// Prompt is the request text sent for the item.
func (it Item) Prompt() string {
	p := fmt.Sprintf("Create a detailed, cinematic animation explaining %s in the context of %s.", it.Concept, it.Topic)
	if cues := strings.TrimSpace(it.Cues); cues != "" {
		p += " " + cues
	}
	return p
}

// LoadItems reads a physics knowledge file and keeps the entries that name a
// concept.
func LoadItems(r io.Reader) ([]Item, error) {
	var concepts []knowledge.Concept
	if err := json.NewDecoder(r).Decode(&concepts); err != nil {
		return nil, fmt.Errorf("decode batch input: %w", err)
	}
	items := make([]Item, 0, len(concepts))
	for _, c := range concepts {
		if strings.TrimSpace(c.Concept) == "" {
			continue
		}
		topic := c.Topic
		if topic == "" {
			topic = "Unknown"
		}
		items = append(items, Item{Topic: topic, Concept: c.Concept, Cues: c.ManimVisualCues})
	}
	return items, nil
}

// Select shuffles items with a fixed seed and keeps the first n, so repeated
// runs compare the same sample. n <= 0 keeps everything.
func Select(items []Item, n int, seed int64) []Item {
	out := make([]Item, len(items))
	copy(out, items)
	rnd := rand.New(rand.NewSource(seed))
	rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	if n > 0 && n < len(out) {
		out = out[:n]
	}
	return out
}

// ItemResult is the outcome of one item.
type ItemResult struct {
	Concept       string           `json:"concept"`
	Status        string           `json:"status"`
	RetryCount    int              `json:"retry_count"`
	FixMethod     shared.FixMethod `json:"fix_method"`
	OutputPath    string           `json:"output_path,omitempty"`
	OriginalError string           `json:"original_error,omitempty"`
	FinalError    string           `json:"final_error,omitempty"`
}

const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// RunStats aggregates one pass over the selected items.
type RunStats struct {
	RunIndex            int            `json:"run_index"`
	TotalItems          int            `json:"total_items"`
	Processed           int            `json:"processed"`
	Success             int            `json:"success"`
	Failed              int            `json:"failed"`
	FirstAttemptSuccess int            `json:"first_attempt_success"`
	HealedSuccess       int            `json:"healed_success"`
	RetrievedFixesUsed  int            `json:"retrieved_fixes_used"`
	UniqueErrors        map[string]int `json:"unique_errors"`
	Details             []ItemResult   `json:"details"`
}

func newRunStats(index, total int) *RunStats {
	return &RunStats{
		RunIndex:     index,
		TotalItems:   total,
		UniqueErrors: make(map[string]int),
		Details:      make([]ItemResult, total),
	}
}

func (s *RunStats) record(i int, res ItemResult) {
	s.Processed++
	s.Details[i] = res
	if res.Status == StatusSuccess {
		s.Success++
		if res.RetryCount == 0 {
			s.FirstAttemptSuccess++
		} else {
			s.HealedSuccess++
		}
		if res.FixMethod == shared.FixMethodRetrieved {
			s.RetrievedFixesUsed++
		}
		return
	}
	s.Failed++
	s.UniqueErrors[errorKey(res.FinalError)]++
}

// errorKey reduces an error text to its last line for aggregation.
func errorKey(text string) string {
	lines := strings.Split(strings.TrimSpace(text), "\n")
	key := strings.TrimSpace(lines[len(lines)-1])
	if key == "" {
		return "Unknown Error"
	}
	return key
}

// Report is every run of one batch invocation.
type Report struct {
	Timestamp time.Time   `json:"timestamp"`
	Runs      []*RunStats `json:"runs"`
}

// Save writes the report as indented JSON.
func (r *Report) Save(path string) error {
	b, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("encode batch report: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write batch report: %w", err)
	}
	return nil
}

type Runner struct {
	gen         Generator
	concurrency int
	delay       time.Duration
	logger      *slog.Logger
}

// NewRunner runs up to concurrency items at once, waiting delay before each
// item starts.
func NewRunner(gen Generator, concurrency int, delay time.Duration, logger *slog.Logger) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{gen: gen, concurrency: concurrency, delay: delay, logger: logger}
}

// Run processes items and returns their statistics. A failing item is
// recorded, not returned; only cancellation of ctx aborts the run.
func (r *Runner) Run(ctx context.Context, runIndex int, items []Item) (*RunStats, error) {
	stats := newRunStats(runIndex, len(items))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i, it := range items {
		g.Go(func() error {
			if r.delay > 0 {
				select {
				case <-gctx.Done():
					return gctx.Err()
				case <-time.After(r.delay):
				}
			}
			if err := gctx.Err(); err != nil {
				return err
			}
			r.logger.Info("Processing batch item", "run", runIndex, "item", i+1, "of", len(items), "concept", it.Name())
			res := r.runItem(gctx, it)

			mu.Lock()
			stats.record(i, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return stats, err
	}
	r.logger.Info("Batch run finished", "run", runIndex,
		"success", stats.Success, "failed", stats.Failed,
		"healed", stats.HealedSuccess, "retrieved_fixes", stats.RetrievedFixesUsed)
	return stats, nil
}

func (r *Runner) runItem(ctx context.Context, it Item) ItemResult {
	res := ItemResult{Concept: it.Name(), Status: StatusFailed, FixMethod: shared.FixMethodNone}
	st, err := r.gen.Run(ctx, it.Prompt())
	if err != nil {
		r.logger.Warn("Batch item crashed", "concept", res.Concept, "error", err)
		res.FinalError = err.Error()
		return res
	}
	res.RetryCount = st.RetryCount
	res.FixMethod = st.FixMethod
	res.OriginalError = st.OriginalErrorText
	if st.OutputPath != "" {
		res.Status = StatusSuccess
		res.OutputPath = st.OutputPath
		return res
	}
	res.FinalError = st.ExecutionLogs
	if strings.TrimSpace(res.FinalError) == "" {
		res.FinalError = string(st.ErrorKind)
	}
	r.logger.Warn("Batch item failed", "concept", res.Concept, "error_kind", st.ErrorKind)
	return res
}

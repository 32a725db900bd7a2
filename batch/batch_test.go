package batch

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newton/shared"
)

type generatorFunc func(ctx context.Context, text string) (*shared.WorkflowState, error)

func (f generatorFunc) Run(ctx context.Context, text string) (*shared.WorkflowState, error) {
	return f(ctx, text)
}

func TestLoadItemsSkipsEntriesWithoutConcept(t *testing.T) {
	items, err := LoadItems(strings.NewReader(`[
        {"topic": "Mechanics", "concept": "Pendulum", "manim_visual_cues": "Show the bob swinging."},
        {"topic": "Waves"},
        {"concept": "Doppler"}
    ]`))
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "Mechanics - Pendulum", items[0].Name())
	assert.Equal(t, "Unknown", items[1].Topic)
	assert.Equal(t,
		"Create a detailed, cinematic animation explaining Pendulum in the context of Mechanics. Show the bob swinging.",
		items[0].Prompt())
}

func TestSelectIsDeterministic(t *testing.T) {
	var items []Item
	for _, c := range []string{"a", "b", "c", "d", "e", "f"} {
		items = append(items, Item{Topic: "T", Concept: c})
	}
	first := Select(items, 3, 42)
	assert.Len(t, first, 3)
	assert.Equal(t, first, Select(items, 3, 42))
	assert.Len(t, Select(items, 0, 42), 6)
	assert.Equal(t, "a", items[0].Concept, "input must not be reordered")
}

func TestRunAggregatesOutcomes(t *testing.T) {
	outcomes := map[string]*shared.WorkflowState{
		"first":     {OutputPath: "/v/1.mp4", FixMethod: shared.FixMethodNone},
		"healed":    {OutputPath: "/v/2.mp4", RetryCount: 1, FixMethod: shared.FixMethodGenerated},
		"retrieved": {OutputPath: "/v/3.mp4", RetryCount: 1, FixMethod: shared.FixMethodRetrieved},
		"failed": {
			ErrorKind:     shared.ErrorKindMaxRetriesExceeded,
			ExecutionLogs: "Traceback\nAttributeError: 'Dot' object has no attribute 'set_glow'\n",
			RetryCount:    1,
		},
		"failed2": {
			ErrorKind:     shared.ErrorKindMaxRetriesExceeded,
			ExecutionLogs: "other frames\nAttributeError: 'Dot' object has no attribute 'set_glow'",
			RetryCount:    1,
		},
		"warning": {ErrorKind: shared.ErrorKindVisualValidation, UnvalidatedOutputPath: "/v/6.mp4"},
	}
	gen := generatorFunc(func(_ context.Context, text string) (*shared.WorkflowState, error) {
		for concept, st := range outcomes {
			if strings.Contains(text, "explaining "+concept+" ") {
				return st, nil
			}
		}
		return nil, errors.New("worker unavailable")
	})

	var items []Item
	for _, c := range []string{"first", "healed", "retrieved", "failed", "failed2", "warning", "crash"} {
		items = append(items, Item{Topic: "Mechanics", Concept: c})
	}
	stats, err := NewRunner(gen, 3, 0, nil).Run(context.Background(), 1, items)
	require.NoError(t, err)

	assert.Equal(t, 7, stats.TotalItems)
	assert.Equal(t, 7, stats.Processed)
	assert.Equal(t, 3, stats.Success)
	assert.Equal(t, 4, stats.Failed)
	assert.Equal(t, 1, stats.FirstAttemptSuccess)
	assert.Equal(t, 2, stats.HealedSuccess)
	assert.Equal(t, 1, stats.RetrievedFixesUsed)
	assert.Equal(t, map[string]int{
		"AttributeError: 'Dot' object has no attribute 'set_glow'": 2,
		string(shared.ErrorKindVisualValidation):                   1,
		"worker unavailable":                                       1,
	}, stats.UniqueErrors)

	require.Len(t, stats.Details, 7)
	assert.Equal(t, "Mechanics - first", stats.Details[0].Concept)
	assert.Equal(t, StatusSuccess, stats.Details[0].Status)
	assert.Equal(t, StatusFailed, stats.Details[6].Status)
}

func TestRunRespectsConcurrencyLimit(t *testing.T) {
	var inFlight, peak atomic.Int32
	gen := generatorFunc(func(context.Context, string) (*shared.WorkflowState, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		inFlight.Add(-1)
		return &shared.WorkflowState{OutputPath: "/v.mp4"}, nil
	})
	items := make([]Item, 8)
	for i := range items {
		items[i] = Item{Topic: "T", Concept: "c"}
	}
	stats, err := NewRunner(gen, 2, 0, nil).Run(context.Background(), 1, items)
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Success)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestRunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	gen := generatorFunc(func(context.Context, string) (*shared.WorkflowState, error) {
		t.Fatal("no item should start after cancellation")
		return nil, nil
	})
	_, err := NewRunner(gen, 1, time.Millisecond, nil).Run(ctx, 1, []Item{{Concept: "x"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReportSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch_statistics.json")
	stats := newRunStats(1, 1)
	stats.record(0, ItemResult{Concept: "a", Status: StatusFailed, FinalError: ""})
	r := &Report{Timestamp: time.Now(), Runs: []*RunStats{stats}}
	require.NoError(t, r.Save(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	var back Report
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back.Runs, 1)
	assert.Equal(t, 1, back.Runs[0].UniqueErrors["Unknown Error"])
}

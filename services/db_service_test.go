package services

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"newton/db"
	"newton/shared"
)

func newTestDB(t *testing.T) *DBService {
	t.Helper()
	d, err := db.InitDB(filepath.Join(t.TempDir(), "newton.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	return NewDBService(d, nil)
}

func TestRunLifecycle(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	require.NoError(t, s.CreatePendingRun(ctx, "wf-1", "simple pendulum"))
	require.NoError(t, s.CreatePendingRun(ctx, "wf-1", "ignored"))

	rec, err := s.GetRun(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "simple pendulum", rec.Prompt)
	assert.Equal(t, shared.RunStatusPending, rec.Status)
	assert.Nil(t, rec.State)

	state := shared.NewWorkflowState("wf-1", "simple pendulum")
	state.Phase = shared.PhaseSucceeded
	state.OutputPath = "/out/PhysicsScene.mp4"
	state.RetryCount = 1
	state.FixMethod = shared.FixMethodGenerated
	require.NoError(t, s.SaveRun(ctx, shared.RunRecord{
		WorkflowID: "wf-1",
		Phase:      state.Phase,
		Status:     shared.RunStatusFor(state.Phase),
		OutputPath: state.OutputPath,
		RetryCount: state.RetryCount,
		FixMethod:  state.FixMethod,
		State:      state,
	}))

	rec, err = s.GetRun(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "simple pendulum", rec.Prompt, "empty prompt keeps the stored one")
	assert.Equal(t, shared.RunStatusCompleted, rec.Status)
	assert.Equal(t, shared.FixMethodGenerated, rec.FixMethod)
	require.NotNil(t, rec.State)
	assert.Equal(t, "/out/PhysicsScene.mp4", rec.State.OutputPath)

	_, err = s.GetRun(ctx, "missing")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestEventsAreOrderedAndDeduplicated(t *testing.T) {
	s := newTestDB(t)
	ctx := context.Background()

	for _, seq := range []int64{2, 1, 3, 2} {
		require.NoError(t, s.AppendEvent(ctx, shared.Event{
			WorkflowID: "wf-2",
			Sequence:   seq,
			Type:       shared.EventUpdate,
			Stage:      "stage",
			Payload:    map[string]any{"seq": seq},
		}))
	}
	require.NoError(t, s.AppendEvent(ctx, shared.Event{WorkflowID: "other", Sequence: 1, Type: shared.EventUpdate, Stage: "x"}))

	evs, err := s.Events(ctx, "wf-2", 0)
	require.NoError(t, err)
	require.Len(t, evs, 3)
	for i, ev := range evs {
		assert.Equal(t, int64(i+1), ev.Sequence)
	}
	assert.EqualValues(t, 1, evs[0].Payload["seq"])

	evs, err = s.Events(ctx, "wf-2", 2)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, int64(3), evs[0].Sequence)
}

package activities

import (
	"context"
	"fmt"
	"time"

	"go.temporal.io/sdk/activity"

	"newton/autofix"
	"newton/healer"
	"newton/shared"
)

const (
	ActivityName_AutoFix  = "AutoFixActivity"
	ActivityName_Execute  = "ExecuteActivity"
	ActivityName_Validate = "ValidateActivity"
	ActivityName_Heal     = "HealActivity"
)

// heartbeatInterval must stay well under the workflow's HeartbeatTimeout.
const heartbeatInterval = 10 * time.Second

// Executor renders an artifact. *execution.Adapter satisfies it.
type Executor interface {
	Execute(ctx context.Context, artifact string) (shared.ExecutionResult, error)
}

// ContentValidator judges a rendered output. *validator.Validator satisfies it.
type ContentValidator interface {
	Validate(ctx context.Context, path string) (shared.ValidationResult, error)
}

// PipelineActivities wraps the non-generative stages of a run.
type PipelineActivities struct {
	Fixer     *autofix.Fixer
	Executor  Executor
	Validator ContentValidator
	Healer    *healer.Healer
}

func NewPipelineActivities(fixer *autofix.Fixer, exec Executor, v ContentValidator, h *healer.Healer) *PipelineActivities {
	return &PipelineActivities{Fixer: fixer, Executor: exec, Validator: v, Healer: h}
}

// AutoFixActivity applies the static passes and reports spatial problems
// that the passes could not fix.
func (a *PipelineActivities) AutoFixActivity(ctx context.Context, artifact string) (*shared.AutoFixResult, error) {
	res := a.Fixer.Fix(artifact)
	report := autofix.ScanSpatial(ctx, res.Artifact)
	activity.GetLogger(ctx).Info("Auto-fix applied", "Fixes", len(res.FixesApplied), "SpatialIssues", len(report.Issues()))
	return &shared.AutoFixResult{
		Artifact:        res.Artifact,
		FixesApplied:    res.FixesApplied,
		SpatialWarnings: report.Issues(),
	}, nil
}

// ExecuteActivity renders the artifact in the sandbox. Code failures are
// returned in the result; only cancellation is an error.
func (a *PipelineActivities) ExecuteActivity(ctx context.Context, artifact string) (*shared.ExecutionResult, error) {
	stop := startHeartbeat(ctx, "executing")
	defer stop()

	res, err := a.Executor.Execute(ctx, artifact)
	if err != nil {
		return nil, fmt.Errorf("ExecuteActivity failed: %w", err)
	}
	activity.GetLogger(ctx).Info("Execution finished", "Success", res.Success, "ExitCode", res.ExitCode, "ErrorKind", res.ErrorKind)
	return &res, nil
}

func (a *PipelineActivities) ValidateActivity(ctx context.Context, outputPath string) (*shared.ValidationResult, error) {
	stop := startHeartbeat(ctx, "validating")
	defer stop()

	res, err := a.Validator.Validate(ctx, outputPath)
	if err != nil {
		return nil, fmt.Errorf("ValidateActivity failed: %w", err)
	}
	return &res, nil
}

func (a *PipelineActivities) HealActivity(ctx context.Context, input shared.HealInput) (*shared.HealResult, error) {
	stop := startHeartbeat(ctx, "healing")
	defer stop()

	res, err := a.Healer.Heal(ctx, healer.Request{
		Artifact:      input.Artifact,
		ExecutionLogs: input.ExecutionLogs,
		RetryCount:    input.RetryCount,
		HealLimit:     input.HealLimit,
	})
	if err != nil {
		return nil, fmt.Errorf("HealActivity failed: %w", err)
	}
	return &shared.HealResult{
		Artifact:   res.Artifact,
		FixMethod:  res.FixMethod,
		ErrorKind:  res.ErrorKind,
		Similarity: res.Similarity,

		LinesAdded:   res.LinesAdded,
		LinesRemoved: res.LinesRemoved,
	}, nil
}

// startHeartbeat records a heartbeat every heartbeatInterval until stop is
// called, so cancellation reaches long sandbox and model calls.
func startHeartbeat(ctx context.Context, details string) (stop func()) {
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(heartbeatInterval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				activity.RecordHeartbeat(ctx, details)
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()
	return func() { close(done) }
}

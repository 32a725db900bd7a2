package workflows

import (
	"fmt"
	"strings"
	"time"

	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"newton/activities"
	"newton/shared"
)

// Stage names carried by events.
const (
	StagePlan     = "plan"
	StagePhysics  = "physics"
	StageCode     = "code"
	StageAutoFix  = "autofix"
	StageExecute  = "execute"
	StageHeal     = "heal"
	StageValidate = "validate"
	StageComplete = "complete"
)

// maxErrorExcerpt bounds the log excerpt kept as the original error and in
// error records.
const maxErrorExcerpt = 1000

var (
	generationOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:        time.Second,
			BackoffCoefficient:     2.0,
			MaximumInterval:        time.Minute,
			MaximumAttempts:        3,
			NonRetryableErrorTypes: []string{"APIKeyError", "EmptyPlan", "EmptyArtifact"},
		},
	}
	autoFixOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 30 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 2},
	}
	executeOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 10 * time.Minute,
		HeartbeatTimeout:    45 * time.Second,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    5 * time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    2,
		},
	}
	validateOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 3 * time.Minute,
		HeartbeatTimeout:    45 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
	}
	// One attempt: a heal is exactly one generator call and its failure
	// spends the budget.
	healOptions = workflow.ActivityOptions{
		StartToCloseTimeout: 4 * time.Minute,
		HeartbeatTimeout:    45 * time.Second,
		RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 1},
	}
	bookkeepingOptions = workflow.ActivityOptions{
		StartToCloseTimeout: time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumAttempts:    3,
		},
	}
)

// GenerationWorkflow turns a request into a rendered, validated scene. It
// only returns an error for invalid input; every downstream failure ends up
// in the returned state.
func GenerationWorkflow(ctx workflow.Context, input shared.WorkflowInput) (*shared.WorkflowState, error) {
	if strings.TrimSpace(input.RequestText) == "" {
		return nil, temporal.NewNonRetryableApplicationError("request text is empty", "InvalidRequest", nil)
	}
	logger := workflow.GetLogger(ctx)
	workflowID := workflow.GetInfo(ctx).WorkflowExecution.ID
	logger.Info("GenerationWorkflow started", "Request", input.RequestText)

	healLimit := input.HealLimit
	if healLimit <= 0 {
		healLimit = shared.DefaultHealLimit
	}

	runCtx, cancelRun := workflow.WithCancel(ctx)
	defer cancelRun()

	disconnected, _ := workflow.NewDisconnectedContext(ctx)
	r := &run{
		ctx:       runCtx,
		eventCtx:  workflow.WithActivityOptions(disconnected, bookkeepingOptions),
		logger:    logger,
		state:     shared.NewWorkflowState(workflowID, input.RequestText),
		healLimit: healLimit,
	}

	if input.Deadline > 0 {
		workflow.Go(runCtx, func(gctx workflow.Context) {
			if err := workflow.NewTimer(gctx, input.Deadline).Get(gctx, nil); err == nil {
				logger.Warn("Request deadline reached, cancelling run", "Deadline", input.Deadline)
				r.deadlineHit = true
				cancelRun()
			}
		})
	}

	r.createPendingRun()
	defer func() {
		if panicked := recover(); panicked != nil {
			logger.Error("Workflow panicked", "PanicError", panicked)
			r.state.Phase = shared.PhaseFailed
			r.saveRun()
			panic(panicked)
		}
		r.saveRun()
	}()

	r.execute()
	logger.Info("GenerationWorkflow finished", "Phase", r.state.Phase, "ErrorKind", r.state.ErrorKind, "RetryCount", r.state.RetryCount)
	return r.state, nil
}

// run is the mutable bookkeeping of one workflow execution.
type run struct {
	ctx         workflow.Context
	eventCtx    workflow.Context // disconnected, so terminal events survive cancellation
	logger      log.Logger
	state       *shared.WorkflowState
	healLimit   int
	seq         int64
	deadlineHit bool
}

func (r *run) execute() {
	if !r.generate() {
		return
	}
	if !r.autoFix() {
		return
	}

	for {
		r.state.Phase = shared.PhaseExecuting
		var res shared.ExecutionResult
		actx := workflow.WithActivityOptions(r.ctx, executeOptions)
		if err := workflow.ExecuteActivity(actx, activities.ActivityName_Execute, r.state.Artifact).Get(actx, &res); err != nil {
			if r.cancelled(err) {
				r.cancel(err)
				return
			}
			// the sandbox could not be driven at all; route it like a code failure
			res = shared.ExecutionResult{ExitCode: 1, Stderr: "Executor error: " + err.Error(), ErrorKind: shared.ErrorKindSandboxDaemon}
		}
		r.state.ExecutionLogs = res.Logs()

		if !res.Success {
			r.emit(shared.EventUpdate, StageExecute, fmt.Sprintf("Execution failed (%s)", res.ErrorKind), map[string]any{
				"error_kind": string(res.ErrorKind),
				"exit_code":  res.ExitCode,
			})
			r.recordFailure(res.ErrorKind, r.state.ExecutionLogs)
			if !r.heal() {
				return
			}
			continue
		}
		r.emit(shared.EventUpdate, StageExecute, "Scene rendered", map[string]any{"output_path": res.OutputPath})

		r.state.Phase = shared.PhaseContentValidating
		var v shared.ValidationResult
		vctx := workflow.WithActivityOptions(r.ctx, validateOptions)
		if err := workflow.ExecuteActivity(vctx, activities.ActivityName_Validate, res.OutputPath).Get(vctx, &v); err != nil {
			if r.cancelled(err) {
				r.cancel(err)
				return
			}
			v = shared.ValidationResult{Issues: []string{"CRITICAL: Validator error: " + err.Error()}}
		}
		r.state.ValidationIssues = v.Issues

		if v.Valid {
			r.state.OutputPath = res.OutputPath
			r.state.UnvalidatedOutputPath = ""
			r.state.ErrorKind = shared.ErrorKindNone
			r.state.Phase = shared.PhaseSucceeded
			r.emit(shared.EventUpdate, StageValidate, "Content validation passed", map[string]any{"issues": v.Issues})
			r.recordFix()
			r.emit(shared.EventResult, StageComplete, "Scene ready", map[string]any{
				"output_path": r.state.OutputPath,
				"retry_count": r.state.RetryCount,
				"fix_method":  string(r.state.FixMethod),
			})
			return
		}

		r.state.UnvalidatedOutputPath = res.OutputPath
		r.state.ExecutionLogs = strings.Join(v.Issues, "\n")
		r.emit(shared.EventUpdate, StageValidate, "Content validation failed", map[string]any{"issues": v.Issues})
		r.recordFailure(shared.ErrorKindVisualValidation, r.state.ExecutionLogs)
		if r.state.RetryCount >= r.healLimit {
			r.state.Phase = shared.PhaseSucceededWithWarning
			r.state.OutputPath = ""
			r.emit(shared.EventError, StageComplete, "Rendered scene failed content validation", map[string]any{
				"error_kind":       string(shared.ErrorKindVisualValidation),
				"unvalidated_path": r.state.UnvalidatedOutputPath,
				"issues":           v.Issues,
			})
			return
		}
		if !r.heal() {
			return
		}
	}
}

func (r *run) generate() bool {
	r.state.Phase = shared.PhaseGenerating
	gctx := workflow.WithActivityOptions(r.ctx, generationOptions)

	var plan shared.PlanSceneResult
	if err := workflow.ExecuteActivity(gctx, activities.ActivityName_PlanScene, r.state.RequestText).Get(gctx, &plan); err != nil {
		return r.generationFailed(StagePlan, err)
	}
	r.state.Plan = plan.Plan
	r.emit(shared.EventUpdate, StagePlan, "Scene planned", map[string]any{"plan": plan.Plan})

	var spec shared.PhysicsSpec
	in := shared.DeriveSpecInput{RequestText: r.state.RequestText, Plan: r.state.Plan}
	if err := workflow.ExecuteActivity(gctx, activities.ActivityName_DeriveSpec, in).Get(gctx, &spec); err != nil {
		return r.generationFailed(StagePhysics, err)
	}
	r.state.DerivedSpec = &spec
	r.emit(shared.EventUpdate, StagePhysics, "Physics derived: "+spec.Principle, map[string]any{
		"principle": spec.Principle,
		"equations": spec.Equations,
	})

	var code string
	win := shared.WriteArtifactInput{RequestText: r.state.RequestText, Plan: r.state.Plan, Spec: r.state.DerivedSpec}
	if err := workflow.ExecuteActivity(gctx, activities.ActivityName_WriteArtifact, win).Get(gctx, &code); err != nil {
		return r.generationFailed(StageCode, err)
	}
	r.state.Artifact = code
	r.emit(shared.EventUpdate, StageCode, "Scene code written", map[string]any{"length": len(code)})
	return true
}

func (r *run) generationFailed(stage string, err error) bool {
	if r.cancelled(err) {
		r.cancel(err)
		return false
	}
	r.logger.Error("Generation failed", "Stage", stage, "Error", err)
	r.state.ExecutionLogs = err.Error()
	r.fail(shared.ErrorKindGeneration, fmt.Sprintf("Generation failed at %s: %v", stage, err))
	return false
}

// autoFix runs the static passes once. A failure here keeps the artifact
// as generated.
func (r *run) autoFix() bool {
	r.state.Phase = shared.PhaseAutoFixing
	actx := workflow.WithActivityOptions(r.ctx, autoFixOptions)

	var res shared.AutoFixResult
	if err := workflow.ExecuteActivity(actx, activities.ActivityName_AutoFix, r.state.Artifact).Get(actx, &res); err != nil {
		if r.cancelled(err) {
			r.cancel(err)
			return false
		}
		r.logger.Warn("Auto-fix failed, continuing with generated artifact", "Error", err)
		r.emit(shared.EventUpdate, StageAutoFix, "Auto-fix skipped", nil)
		return true
	}
	r.state.Artifact = res.Artifact
	r.state.FixesApplied = res.FixesApplied
	r.state.SpatialWarnings = res.SpatialWarnings
	r.emit(shared.EventUpdate, StageAutoFix, fmt.Sprintf("Applied %d fixes", len(res.FixesApplied)), map[string]any{
		"fixes_applied":    res.FixesApplied,
		"spatial_warnings": res.SpatialWarnings,
	})
	return true
}

// heal spends one unit of the heal budget. It reports whether execution
// should be attempted again.
func (r *run) heal() bool {
	if r.state.RetryCount >= r.healLimit {
		r.fail(shared.ErrorKindMaxRetriesExceeded, fmt.Sprintf("Heal limit of %d reached", r.healLimit))
		return false
	}
	r.state.Phase = shared.PhaseHealing

	in := shared.HealInput{
		Artifact:      r.state.Artifact,
		ExecutionLogs: r.state.ExecutionLogs,
		RetryCount:    r.state.RetryCount,
		HealLimit:     r.healLimit,
	}
	var res shared.HealResult
	hctx := workflow.WithActivityOptions(r.ctx, healOptions)
	err := workflow.ExecuteActivity(hctx, activities.ActivityName_Heal, in).Get(hctx, &res)
	r.state.RetryCount++
	if err != nil {
		if r.cancelled(err) {
			r.cancel(err)
			return false
		}
		r.logger.Error("Healer failed", "Error", err)
		r.state.ExecutionLogs += "\nHealer error: " + err.Error()
		r.fail(shared.ErrorKindMaxRetriesExceeded, "Healer failed: "+err.Error())
		return false
	}
	if res.ErrorKind == shared.ErrorKindMaxRetriesExceeded {
		r.fail(shared.ErrorKindMaxRetriesExceeded, "Healer refused: heal limit reached")
		return false
	}

	r.state.Artifact = res.Artifact
	r.state.FixMethod = res.FixMethod
	r.emit(shared.EventUpdate, StageHeal, fmt.Sprintf("Healed (%s)", res.FixMethod), map[string]any{
		"fix_method":    string(res.FixMethod),
		"retry_count":   r.state.RetryCount,
		"similarity":    res.Similarity,
		"lines_added":   res.LinesAdded,
		"lines_removed": res.LinesRemoved,
	})
	return true
}

// recordFailure marks the state failed-recoverable and appends an error record.
// The first failure of the run is kept as the key for a later fix record.
func (r *run) recordFailure(kind shared.ErrorKind, logs string) {
	r.state.ErrorKind = kind
	excerpt := shared.Tail(logs, maxErrorExcerpt)
	if r.state.OriginalErrorText == "" {
		r.state.OriginalErrorText = excerpt
		r.state.OriginalArtifact = r.state.Artifact
	}
	rec := shared.ErrorRecord{
		Timestamp:        workflow.Now(r.ctx).UTC(),
		ErrorKind:        kind,
		ErrorExcerpt:     excerpt,
		ArtifactSnapshot: r.state.Artifact,
		Topic:            r.state.Topic(),
	}
	if err := workflow.ExecuteActivity(r.eventCtx, activities.ActivityName_LogError, rec).Get(r.eventCtx, nil); err != nil {
		r.logger.Warn("Failed to log error record", "Error", err)
	}
}

// recordFix stores the artifact that resolved the run's first failure.
func (r *run) recordFix() {
	if r.state.RetryCount == 0 || r.state.OriginalErrorText == "" {
		return
	}
	rec := shared.FixRecord{
		OriginalErrorText: r.state.OriginalErrorText,
		OriginalArtifact:  r.state.OriginalArtifact,
		FixedArtifact:     r.state.Artifact,
		FixMethod:         r.state.FixMethod,
		Attempts:          r.state.RetryCount,
		Topic:             r.state.Topic(),
		Timestamp:         workflow.Now(r.ctx).UTC(),
	}
	var res shared.LogFixResult
	if err := workflow.ExecuteActivity(r.eventCtx, activities.ActivityName_LogFix, rec).Get(r.eventCtx, &res); err != nil {
		r.logger.Warn("Failed to store fix record", "Error", err)
		return
	}
	r.logger.Info("Fix recorded", "ErrorID", res.ErrorID, "Stored", res.Stored)
}

func (r *run) fail(kind shared.ErrorKind, message string) {
	r.state.Phase = shared.PhaseFailed
	r.state.ErrorKind = kind
	r.emit(shared.EventError, StageComplete, message, map[string]any{"error_kind": string(kind)})
}

func (r *run) cancelled(err error) bool {
	return temporal.IsCanceledError(err) || r.ctx.Err() != nil
}

func (r *run) cancel(err error) {
	msg := "Run cancelled"
	if r.deadlineHit {
		msg = "Request deadline exceeded"
	}
	if r.state.ExecutionLogs == "" {
		r.state.ExecutionLogs = msg + ": " + err.Error()
	}
	r.fail(shared.ErrorKindCancelled, msg)
}

// emit publishes the next event of the run. Events are awaited one by one so
// consumers see them in sequence order.
func (r *run) emit(typ shared.EventType, stage, message string, payload map[string]any) {
	r.seq++
	ev := shared.Event{
		WorkflowID: r.state.WorkflowID,
		Sequence:   r.seq,
		Type:       typ,
		Stage:      stage,
		Message:    message,
		Payload:    payload,
		Timestamp:  workflow.Now(r.ctx).UTC(),
	}
	if err := workflow.ExecuteActivity(r.eventCtx, activities.ActivityName_PublishEvent, ev).Get(r.eventCtx, nil); err != nil {
		r.logger.Warn("Failed to publish event", "Stage", stage, "Sequence", r.seq, "Error", err)
	}
}

func (r *run) createPendingRun() {
	in := activities.CreatePendingRunInput{WorkflowID: r.state.WorkflowID, Prompt: r.state.RequestText}
	if err := workflow.ExecuteActivity(r.eventCtx, activities.ActivityName_CreatePendingRun, in).Get(r.eventCtx, nil); err != nil {
		r.logger.Warn("Failed to create pending run record", "Error", err)
	}
}

// saveRun persists the final state. It runs on the disconnected context so a
// cancelled run is still recorded.
func (r *run) saveRun() {
	rec := shared.RunRecord{
		WorkflowID: r.state.WorkflowID,
		Prompt:     r.state.RequestText,
		Phase:      r.state.Phase,
		Status:     shared.RunStatusFor(r.state.Phase),
		OutputPath: r.state.OutputPath,
		ErrorKind:  r.state.ErrorKind,
		RetryCount: r.state.RetryCount,
		FixMethod:  r.state.FixMethod,
		State:      r.state,
	}
	if err := workflow.ExecuteActivity(r.eventCtx, activities.ActivityName_SaveRun, rec).Get(r.eventCtx, nil); err != nil {
		r.logger.Error("Final run save failed", "Error", err)
	}
}

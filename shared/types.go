// shared/types.go
package shared

import (
	"time"
)

// DefaultHealLimit is the number of healing attempts allowed across the whole
// pipeline, shared between execution failures and content validation failures.
const DefaultHealLimit = 1

// WorkflowInput defines the input for the generation workflow.
type WorkflowInput struct {
	RequestText string
	HealLimit   int           // 0 means DefaultHealLimit
	Deadline    time.Duration // 0 means no per-request deadline
}

// --- Error taxonomy ---

// ErrorKind classifies a failure. The empty value means "no error".
type ErrorKind string

const (
	ErrorKindNone               ErrorKind = ""
	ErrorKindTimeout            ErrorKind = "Timeout"
	ErrorKindSyntaxOrMarkup     ErrorKind = "SyntaxOrMarkupError"
	ErrorKindRuntimeAttribute   ErrorKind = "RuntimeAttributeError"
	ErrorKindImport             ErrorKind = "ImportError"
	ErrorKindMemory             ErrorKind = "MemoryError"
	ErrorKindSandboxDaemon      ErrorKind = "SandboxDaemonError"
	ErrorKindPartialOutput      ErrorKind = "PartialOutput"
	ErrorKindRuntime            ErrorKind = "RuntimeError"
	ErrorKindMissingOutput      ErrorKind = "MissingOutput"
	ErrorKindVisualValidation   ErrorKind = "VisualValidationError"
	ErrorKindUnknown            ErrorKind = "Unknown"
	ErrorKindMaxRetriesExceeded ErrorKind = "MaxRetriesExceeded"
	ErrorKindGeneration         ErrorKind = "GenerationError"
	ErrorKindCancelled          ErrorKind = "Cancelled"
)

// FixMethod records how the current artifact was last repaired.
type FixMethod string

const (
	FixMethodNone      FixMethod = "none"
	FixMethodRetrieved FixMethod = "retrieved"
	FixMethodGenerated FixMethod = "generated"
)

// Phase is the orchestrator state the workflow is in.
type Phase string

const (
	PhaseGenerating           Phase = "GENERATING"
	PhaseAutoFixing           Phase = "AUTO_FIXING"
	PhaseExecuting            Phase = "EXECUTING"
	PhaseHealing              Phase = "HEALING"
	PhaseContentValidating    Phase = "CONTENT_VALIDATING"
	PhaseSucceeded            Phase = "TERMINAL_SUCCESS"
	PhaseSucceededWithWarning Phase = "TERMINAL_SUCCESS_WITH_WARNING"
	PhaseFailed               Phase = "TERMINAL_FAILED"
)

// Terminal reports whether no further transition can happen from p.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseSucceededWithWarning, PhaseFailed:
		return true
	}
	return false
}

// --- Workflow state ---

// PhysicsSpec is the physicist's structured output (the derived spec).
type PhysicsSpec struct {
	Principle   string            `json:"principle"`
	Equations   []string          `json:"equations"`
	Explanation string            `json:"explanation"`
	Variables   map[string]string `json:"variables"`
	Placement   string            `json:"placement"`
}

// WorkflowState is the single record threaded through every stage of one request.
// It is owned by exactly one workflow run and never shared.
type WorkflowState struct {
	WorkflowID  string
	RequestText string
	Phase       Phase

	Plan        string
	DerivedSpec *PhysicsSpec

	Artifact        string
	FixesApplied    []string
	SpatialWarnings []string

	ExecutionLogs string
	OutputPath    string
	// UnvalidatedOutputPath keeps the rendered file when content validation
	// rejected it and no heal budget was left.
	UnvalidatedOutputPath string
	ValidationIssues      []string

	RetryCount int
	ErrorKind  ErrorKind

	OriginalErrorText string
	OriginalArtifact  string
	FixMethod         FixMethod
}

// NewWorkflowState creates the state for a fresh request.
func NewWorkflowState(workflowID, requestText string) *WorkflowState {
	return &WorkflowState{
		WorkflowID:  workflowID,
		RequestText: requestText,
		Phase:       PhaseGenerating,
		FixMethod:   FixMethodNone,
	}
}

// Topic is the subject used to tag error and fix records.
func (s *WorkflowState) Topic() string {
	if s.DerivedSpec != nil && s.DerivedSpec.Principle != "" {
		return s.DerivedSpec.Principle
	}
	return "General"
}

// --- Execution / validation results ---

// ExecutionResult is the classified outcome of running an artifact in the sandbox.
type ExecutionResult struct {
	Success    bool
	Stdout     string
	Stderr     string
	ExitCode   int
	OutputPath string
	ErrorKind  ErrorKind
}

// Logs returns the combined output the healer and the audit log work from.
func (r ExecutionResult) Logs() string {
	return r.Stdout + "\n" + r.Stderr
}

// FrameMetrics describes one sampled frame of the output video.
type FrameMetrics struct {
	Position       float64 `json:"position"`
	MeanBrightness float64 `json:"mean_brightness"`
	Contrast       float64 `json:"contrast"`
	Blank          bool    `json:"blank"`
	LowContrast    bool    `json:"low_contrast"`
}

// ValidationResult is the content validator verdict.
type ValidationResult struct {
	Valid   bool
	Issues  []string
	Samples []FrameMetrics
}

// --- Knowledge records ---

// ErrorRecord is one line of the append-only error audit log.
type ErrorRecord struct {
	ErrorID          string    `json:"error_id"`
	Timestamp        time.Time `json:"timestamp"`
	ErrorKind        ErrorKind `json:"error_kind"`
	ErrorExcerpt     string    `json:"error_excerpt"`
	ArtifactSnapshot string    `json:"artifact_snapshot"`
	Topic            string    `json:"topic"`
}

// FixRecord maps a normalized error to the artifact that finally resolved it.
type FixRecord struct {
	ErrorID           string    `json:"error_id"`
	EmbeddingVector   []float32 `json:"-"`
	OriginalErrorText string    `json:"original_error"`
	OriginalArtifact  string    `json:"original_artifact"`
	FixedArtifact     string    `json:"fixed_artifact"`
	FixMethod         FixMethod `json:"fix_method"`
	Attempts          int       `json:"attempts"`
	Topic             string    `json:"topic"`
	Timestamp         time.Time `json:"timestamp"`
}

// FixMatch is a past fix similar enough to the current error to reuse.
type FixMatch struct {
	ErrorID           string
	Similarity        float64
	OriginalErrorText string
	OriginalArtifact  string
	FixedArtifact     string
	FixMethod         FixMethod
}

// --- Event stream ---

type EventType string

const (
	EventUpdate EventType = "update"
	EventResult EventType = "result"
	EventError  EventType = "error"
)

// Event is emitted once per stage completion. Consumers see events of one
// workflow in Sequence order.
type Event struct {
	WorkflowID string         `json:"workflow_id"`
	Sequence   int64          `json:"sequence"`
	Type       EventType      `json:"type"`
	Stage      string         `json:"stage"`
	Message    string         `json:"message"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Final reports whether e is the last event of its workflow. Only the
// terminal transition emits result or error events.
func (e Event) Final() bool {
	return e.Type == EventResult || e.Type == EventError
}

// RunRecord is the persisted summary of a workflow run.
type RunRecord struct {
	WorkflowID string
	Prompt     string
	Phase      Phase
	Status     string
	OutputPath string
	ErrorKind  ErrorKind
	RetryCount int
	FixMethod  FixMethod
	State      *WorkflowState
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Run statuses, as stored in the runs table.
const (
	RunStatusPending   = "PENDING"
	RunStatusRunning   = "RUNNING"
	RunStatusCompleted = "COMPLETED"
	RunStatusWarning   = "COMPLETED_WITH_WARNING"
	RunStatusFailed    = "FAILED"
)

// RunStatusFor maps a terminal phase onto the stored run status.
func RunStatusFor(p Phase) string {
	switch p {
	case PhaseSucceeded:
		return RunStatusCompleted
	case PhaseSucceededWithWarning:
		return RunStatusWarning
	case PhaseFailed:
		return RunStatusFailed
	}
	return RunStatusRunning
}

// --- Activity I/O ---

// PlanSceneResult is the output of the director/architect stage.
type PlanSceneResult struct {
	Vision string
	Plan   string
}

// DeriveSpecInput feeds the physicist stage.
type DeriveSpecInput struct {
	RequestText string
	Plan        string
}

// WriteArtifactInput feeds the coder stage.
type WriteArtifactInput struct {
	RequestText string
	Plan        string
	Spec        *PhysicsSpec
}

// AutoFixResult is the output of the static auto-fixer stage.
type AutoFixResult struct {
	Artifact        string
	FixesApplied    []string
	SpatialWarnings []string
}

// HealInput feeds the healer stage.
type HealInput struct {
	Artifact      string
	ExecutionLogs string
	RetryCount    int
	HealLimit     int
}

// HealResult is the healer's output. ErrorKind is MaxRetriesExceeded when the
// budget was already spent and the artifact was left unchanged.
type HealResult struct {
	Artifact   string
	FixMethod  FixMethod
	ErrorKind  ErrorKind
	Similarity float64

	LinesAdded   int
	LinesRemoved int
}

// LogFixResult reports whether a fix record was written.
type LogFixResult struct {
	Stored  bool
	ErrorID string
}

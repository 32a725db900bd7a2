package temporal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	"go.temporal.io/sdk/client"

	"newton/shared"
	"newton/workflows"
)

// ErrEmptyRequest is returned before anything is started for a blank request.
var ErrEmptyRequest = errors.New("request text cannot be empty")

// Status is a snapshot of one generation workflow as seen by the server.
type Status struct {
	WorkflowID string
	Execution  enumspb.WorkflowExecutionStatus
	// State is set once the workflow has completed.
	State *shared.WorkflowState
}

// Running reports whether the workflow has not reached a final state yet.
func (s *Status) Running() bool {
	return s.Execution == enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING ||
		s.Execution == enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED
}

// Label is the short, human readable form of the execution status.
func (s *Status) Label() string {
	switch s.Execution {
	case enumspb.WORKFLOW_EXECUTION_STATUS_RUNNING, enumspb.WORKFLOW_EXECUTION_STATUS_UNSPECIFIED:
		return shared.RunStatusRunning
	case enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED:
		if s.State != nil {
			return shared.RunStatusFor(s.State.Phase)
		}
		return shared.RunStatusCompleted
	case enumspb.WORKFLOW_EXECUTION_STATUS_CANCELED:
		return "CANCELED"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TIMED_OUT:
		return "TIMED_OUT"
	case enumspb.WORKFLOW_EXECUTION_STATUS_TERMINATED:
		return "TERMINATED"
	}
	return shared.RunStatusFailed
}

// Gateway starts generation workflows and reports on them. Front ends talk to
// Temporal only through it.
type Gateway struct {
	client    client.Client
	taskQueue string
	healLimit int
	deadline  time.Duration
	newID     func() string
	logger    *slog.Logger
}

func NewGateway(c client.Client, taskQueue string, healLimit int, deadline time.Duration, logger *slog.Logger) *Gateway {
	if taskQueue == "" {
		taskQueue = DefaultTaskQueue
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		client:    c,
		taskQueue: taskQueue,
		healLimit: healLimit,
		deadline:  deadline,
		newID:     func() string { return WorkflowIDPrefix + uuid.NewString() },
		logger:    logger,
	}
}

func (g *Gateway) options() client.StartWorkflowOptions {
	opts := client.StartWorkflowOptions{
		ID:        g.newID(),
		TaskQueue: g.taskQueue,
	}
	if g.deadline > 0 {
		opts.WorkflowExecutionTimeout = g.deadline + executionTimeoutMargin
	}
	return opts
}

func (g *Gateway) start(ctx context.Context, requestText string) (client.WorkflowRun, error) {
	requestText = strings.TrimSpace(requestText)
	if requestText == "" {
		return nil, ErrEmptyRequest
	}
	opts := g.options()
	input := shared.WorkflowInput{
		RequestText: requestText,
		HealLimit:   g.healLimit,
		Deadline:    g.deadline,
	}
	we, err := g.client.ExecuteWorkflow(ctx, opts, workflows.GenerationWorkflow, input)
	if err != nil {
		return nil, fmt.Errorf("start workflow: %w", err)
	}
	g.logger.Info("Started workflow", "workflow_id", we.GetID(), "run_id", we.GetRunID())
	return we, nil
}

// Start launches a workflow for requestText and returns its ID without waiting.
func (g *Gateway) Start(ctx context.Context, requestText string) (string, error) {
	we, err := g.start(ctx, requestText)
	if err != nil {
		return "", err
	}
	return we.GetID(), nil
}

// Run launches a workflow and blocks until its final state is known.
func (g *Gateway) Run(ctx context.Context, requestText string) (*shared.WorkflowState, error) {
	we, err := g.start(ctx, requestText)
	if err != nil {
		return nil, err
	}
	var state shared.WorkflowState
	if err := we.Get(ctx, &state); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", we.GetID(), err)
	}
	return &state, nil
}

// Status describes the workflow and, when it completed, loads its final state.
func (g *Gateway) Status(ctx context.Context, workflowID string) (*Status, error) {
	resp, err := g.client.DescribeWorkflowExecution(ctx, workflowID, "")
	if err != nil {
		return nil, fmt.Errorf("describe workflow %s: %w", workflowID, err)
	}
	st := &Status{
		WorkflowID: workflowID,
		Execution:  resp.GetWorkflowExecutionInfo().GetStatus(),
	}
	if st.Execution == enumspb.WORKFLOW_EXECUTION_STATUS_COMPLETED {
		var state shared.WorkflowState
		if err := g.client.GetWorkflow(ctx, workflowID, "").Get(ctx, &state); err != nil {
			return nil, fmt.Errorf("load result of %s: %w", workflowID, err)
		}
		st.State = &state
	}
	return st, nil
}

// Cancel asks the server to cancel a running workflow. The workflow still
// emits its final event and saves its run record.
func (g *Gateway) Cancel(ctx context.Context, workflowID string) error {
	if err := g.client.CancelWorkflow(ctx, workflowID, ""); err != nil {
		return fmt.Errorf("cancel workflow %s: %w", workflowID, err)
	}
	g.logger.Info("Requested workflow cancellation", "workflow_id", workflowID)
	return nil
}

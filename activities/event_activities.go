package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"newton/shared"
	"newton/streaming"
)

const (
	ActivityName_PublishEvent     = "PublishEventActivity"
	ActivityName_SaveRun          = "SaveRunActivity"
	ActivityName_CreatePendingRun = "CreatePendingRunActivity"
)

// RunStore persists runs and their events. *services.DBService satisfies it.
type RunStore interface {
	CreatePendingRun(ctx context.Context, workflowID, prompt string) error
	SaveRun(ctx context.Context, rec shared.RunRecord) error
	AppendEvent(ctx context.Context, ev shared.Event) error
}

type CreatePendingRunInput struct {
	WorkflowID string
	Prompt     string
}

// EventActivities persists events and fans them out to live subscribers.
// Either dependency may be nil.
type EventActivities struct {
	Runs RunStore
	Hub  streaming.EventHub
}

func NewEventActivities(runs RunStore, hub streaming.EventHub) *EventActivities {
	return &EventActivities{Runs: runs, Hub: hub}
}

// PublishEventActivity stores ev, then publishes it. Persistence errors are
// retried; a failed live publish is only logged.
func (a *EventActivities) PublishEventActivity(ctx context.Context, ev shared.Event) error {
	if a.Runs != nil {
		if err := a.Runs.AppendEvent(ctx, ev); err != nil {
			return fmt.Errorf("PublishEventActivity failed: %w", err)
		}
	}
	if a.Hub != nil {
		if err := a.Hub.Publish(ctx, ev); err != nil {
			activity.GetLogger(ctx).Warn("Live publish failed", "WorkflowID", ev.WorkflowID, "Sequence", ev.Sequence, "Error", err)
		}
	}
	return nil
}

func (a *EventActivities) SaveRunActivity(ctx context.Context, rec shared.RunRecord) error {
	if a.Runs == nil {
		return nil
	}
	if err := a.Runs.SaveRun(ctx, rec); err != nil {
		return fmt.Errorf("SaveRunActivity failed: %w", err)
	}
	return nil
}

func (a *EventActivities) CreatePendingRunActivity(ctx context.Context, input CreatePendingRunInput) error {
	if a.Runs == nil {
		return nil
	}
	if err := a.Runs.CreatePendingRun(ctx, input.WorkflowID, input.Prompt); err != nil {
		return fmt.Errorf("CreatePendingRunActivity failed: %w", err)
	}
	return nil
}

package activities

import (
	"context"
	"fmt"

	"go.temporal.io/sdk/activity"

	"newton/shared"
)

const (
	ActivityName_LogError = "LogErrorActivity"
	ActivityName_LogFix   = "LogFixActivity"
)

// FixLog is the write side of the knowledge store. *knowledge.Store satisfies it.
type FixLog interface {
	LogError(ctx context.Context, rec shared.ErrorRecord) error
	LogFix(ctx context.Context, rec shared.FixRecord) (bool, string, error)
}

type KnowledgeActivities struct {
	Store FixLog
}

func NewKnowledgeActivities(store FixLog) *KnowledgeActivities {
	return &KnowledgeActivities{Store: store}
}

func (a *KnowledgeActivities) LogErrorActivity(ctx context.Context, rec shared.ErrorRecord) error {
	if err := a.Store.LogError(ctx, rec); err != nil {
		return fmt.Errorf("LogErrorActivity failed: %w", err)
	}
	return nil
}

func (a *KnowledgeActivities) LogFixActivity(ctx context.Context, rec shared.FixRecord) (*shared.LogFixResult, error) {
	stored, id, err := a.Store.LogFix(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("LogFixActivity failed: %w", err)
	}
	activity.GetLogger(ctx).Info("Fix recorded", "Stored", stored, "ErrorID", id, "Method", rec.FixMethod)
	return &shared.LogFixResult{Stored: stored, ErrorID: id}, nil
}

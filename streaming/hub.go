// Package streaming fans workflow events out to live subscribers.
package streaming

import (
	"context"

	"newton/shared"
)

// EventFilter selects the events a subscriber receives. Zero fields match all.
type EventFilter struct {
	WorkflowID string
	Types      []shared.EventType
}

// EventHub is a pub/sub channel for workflow events. Publish never blocks on
// a slow subscriber.
type EventHub interface {
	Publish(ctx context.Context, event shared.Event) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan shared.Event, func(), error)
}

func (f EventFilter) match(e shared.Event) bool {
	if f.WorkflowID != "" && f.WorkflowID != e.WorkflowID {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if t == e.Type {
			return true
		}
	}
	return false
}

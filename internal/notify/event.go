// Package notify delivers workflow events to email and queue sinks off the
// caller's goroutine.
package notify

import (
	"context"
	"time"

	"taskflow/api/internal/workflow"
)

type EventType string

const (
	EventCreated    EventType = "created"
	EventTransition EventType = "transition"
	EventAssigned   EventType = "assigned"
)

type Event struct {
	Type          EventType      `json:"type"`
	Kind          workflow.Kind  `json:"kind"`
	EntityID      string         `json:"entityId"`
	Title         string         `json:"title"`
	Team          string         `json:"team"`
	AssignedTo    string         `json:"assignedTo"`
	PreviousState workflow.State `json:"previousState,omitempty"`
	NewState      workflow.State `json:"newState"`
	ActorID       string         `json:"actorId"`
	ActorName     string         `json:"actorName,omitempty"`
	Reason        string         `json:"reason,omitempty"`
	OccurredAt    time.Time      `json:"occurredAt"`
}

// Sink receives events from the dispatcher's workers.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

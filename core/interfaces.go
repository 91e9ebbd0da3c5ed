package core

import (
	"context"

	"github.com/google/uuid"
)

// Event describes a committed change to one or more resources of a single type
type Event struct {
	AppID        int64
	Type         string
	Action       Action
	ResourceIDs  []int64
	AuthorIDs    []uuid.UUID
	Recipients   []string
	Subscribable bool
}

// Notifier is an interface to receive resource change notifications.
//
// Notify must not block the caller and must not fail the request that triggered it.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// NotifierFunc adapts a function to the Notifier interface
type NotifierFunc func(ctx context.Context, event Event)

// Notify calls f(ctx, event)
func (f NotifierFunc) Notify(ctx context.Context, event Event) {
	f(ctx, event)
}

package browser

import (
	"context"
	"errors"

	"tab-relay/internal/models"
)

// ErrTabNotFound is returned when a tab no longer exists.
var ErrTabNotFound = errors.New("tab not found")

// ErrAgentUnavailable is returned when the page has no extraction agent to receive a message.
var ErrAgentUnavailable = errors.New("extraction agent not available in page")

// Ready states reported in TabState.Status.
const (
	StatusLoading  = "loading"
	StatusComplete = "complete"
)

// TabState is a snapshot of a tab.
type TabState struct {
	ID     string
	URL    string
	Status string
}

// EventKind classifies tab events.
type EventKind int

const (
	EventLoaded EventKind = iota + 1
	EventNavigated
	EventClosed
)

// TabEvent is a lifecycle notification for one tab.
type TabEvent struct {
	Kind EventKind
	URL  string
}

// Tabs is the browser surface the orchestrator drives.
type Tabs interface {
	// Open creates a foreground tab navigating to url.
	Open(ctx context.Context, url string) (TabState, error)
	// Get returns the current state of a tab or ErrTabNotFound.
	Get(ctx context.Context, id string) (TabState, error)
	// Close closes a tab. Closing an unknown tab returns ErrTabNotFound.
	Close(ctx context.Context, id string) error
	// SendMessage delivers the search context to the page agent.
	SendMessage(ctx context.Context, id string, msg models.SearchContext) error
	// Subscribe streams events of a tab until the returned cancel func is called or the tab closes.
	Subscribe(id string) (<-chan TabEvent, func())
}

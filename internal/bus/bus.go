// Package bus announces tree lifecycle events to other services.
package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Handler is a function that handles events.
type Handler func(ctx context.Context, event Event) error

// Bus defines the interface for event bus implementations.
type Bus interface {
	// Publish publishes an event to a topic.
	Publish(ctx context.Context, topic string, event Event) error

	// Subscribe subscribes to events on a topic.
	Subscribe(ctx context.Context, topic string, handler Handler) error

	// Close closes the bus and releases resources.
	Close() error
}

// Event represents a bus event.
type Event struct {
	// ID is the unique event identifier.
	ID string `json:"id"`

	// Type is the event type, one of the topic names.
	Type string `json:"type"`

	// Source is the service that generated the event.
	Source string `json:"source"`

	// Timestamp is when the event was created, in unix milliseconds.
	Timestamp int64 `json:"timestamp"`

	// CorrelationID links events of one run (fit, score and predict).
	CorrelationID string `json:"correlation_id,omitempty"`

	// Payload contains the event data.
	Payload any `json:"payload"`
}

// NewEvent creates an event with a fresh id.
func NewEvent(typ, source, correlationID string, payload any) Event {
	return Event{
		ID:            uuid.NewString(),
		Type:          typ,
		Source:        source,
		Timestamp:     time.Now().UnixMilli(),
		CorrelationID: correlationID,
		Payload:       payload,
	}
}

// DecodePayload returns the payload of e as a T. Events that crossed a
// process boundary carry decoded JSON rather than the original struct, so
// those are re-encoded into T.
func DecodePayload[T any](e Event) (T, error) {
	var p T
	switch v := e.Payload.(type) {
	case T:
		return v, nil
	case *T:
		if v != nil {
			return *v, nil
		}
	}

	data, err := json.Marshal(e.Payload)
	if err != nil {
		return p, fmt.Errorf("failed to encode payload: %w", err)
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to decode %s payload: %w", e.Type, err)
	}
	return p, nil
}

// Topics for tree lifecycle events.
const (
	TopicTreeFitted    = "tree.fitted"
	TopicTreeScored    = "tree.scored"
	TopicTreePredicted = "tree.predicted"
	TopicTreeSaved     = "tree.saved"
	TopicTreeDeleted   = "tree.deleted"
)

// FittedPayload describes a newly fitted tree.
type FittedPayload struct {
	Tree    string  `json:"tree,omitempty"`
	Formula string  `json:"formula"`
	Groups  int     `json:"groups"`
	Nodes   int     `json:"nodes"`
	Splits  int     `json:"splits"`
	LogLik  float64 `json:"loglik"`
	DF      int     `json:"df"`
	AIC     float64 `json:"aic"`
}

// ScoredPayload reports an information criterion.
type ScoredPayload struct {
	Tree     string  `json:"tree,omitempty"`
	AIC      float64 `json:"aic"`
	LogLik   float64 `json:"loglik"`
	DF       int     `json:"df"`
	Groups   int     `json:"groups"`
	InSample bool    `json:"in_sample"`
}

// PredictedPayload summarises a prediction run.
type PredictedPayload struct {
	Tree   string `json:"tree,omitempty"`
	Type   string `json:"type"`
	Groups int    `json:"groups"`
}

// TreePayload names a stored tree.
type TreePayload struct {
	Tree string `json:"tree"`
}

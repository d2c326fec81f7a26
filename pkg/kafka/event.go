package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/utafrali/authservice/pkg/logger"
)

// TopicPrefix is the prefix shared by every topic the auth service writes to.
const TopicPrefix = "auth"

// Topic joins the given segments under TopicPrefix, e.g. "auth.user.registered".
func Topic(segments ...string) string {
	return strings.Join(append([]string{TopicPrefix}, segments...), ".")
}

// Subject identifies the entity an event is about.
type Subject struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Event is the envelope written to every topic.
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"event_type"`
	Source        string          `json:"source"`
	Subject       Subject         `json:"subject"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent builds an envelope around data. The correlation ID of the
// request in ctx, if any, is carried along.
func NewEvent(ctx context.Context, source, eventType string, subject Subject, data any) (*Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	return &Event{
		ID:            uuid.NewString(),
		Type:          eventType,
		Source:        source,
		Subject:       subject,
		OccurredAt:    time.Now().UTC(),
		CorrelationID: logger.CorrelationIDFromContext(ctx),
		Data:          raw,
	}, nil
}

// Decode parses an envelope previously written by a Producer.
func Decode(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}
	return &e, nil
}

// DecodeData unmarshals the payload into target.
func (e *Event) DecodeData(target any) error {
	return json.Unmarshal(e.Data, target)
}

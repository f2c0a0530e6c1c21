package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is bumped whenever the envelope layout changes incompatibly.
const SchemaVersion = 1

// Aggregate identifies the entity an event describes. Its ID doubles as the
// message key, so events for one aggregate stay ordered on one partition.
type Aggregate struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Envelope is the JSON document written as every message value.
type Envelope struct {
	ID            string            `json:"event_id"`
	Type          string            `json:"event_type"`
	Aggregate     Aggregate         `json:"aggregate"`
	SchemaVersion int               `json:"schema_version"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Source        string            `json:"source"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Data          json.RawMessage   `json:"data"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// EnvelopeOption customizes an envelope built by NewEnvelope.
type EnvelopeOption func(*Envelope)

// WithCorrelation tags the envelope with a request correlation ID. Empty IDs
// are ignored.
func WithCorrelation(id string) EnvelopeOption {
	return func(e *Envelope) { e.CorrelationID = id }
}

// WithMetadata attaches a free-form key/value pair.
func WithMetadata(key, value string) EnvelopeOption {
	return func(e *Envelope) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]string)
		}
		e.Metadata[key] = value
	}
}

// OccurredAt overrides the event time, which otherwise defaults to now.
func OccurredAt(t time.Time) EnvelopeOption {
	return func(e *Envelope) { e.OccurredAt = t.UTC() }
}

// NewEnvelope marshals data and wraps it for publishing.
func NewEnvelope(eventType, source string, agg Aggregate, data any, opts ...EnvelopeOption) (*Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}

	e := &Envelope{
		ID:            uuid.NewString(),
		Type:          eventType,
		Aggregate:     agg,
		SchemaVersion: SchemaVersion,
		OccurredAt:    time.Now().UTC(),
		Source:        source,
		Data:          raw,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Decode unmarshals the payload into dst.
func (e *Envelope) Decode(dst any) error {
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// ParseEnvelope reads an envelope back from a message value.
func ParseEnvelope(value []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(value, &e); err != nil {
		return nil, fmt.Errorf("parse envelope: %w", err)
	}
	if e.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("parse envelope: unsupported schema version %d", e.SchemaVersion)
	}
	return &e, nil
}

package events

import (
    "encoding/json"
    "fmt"
    "time"

    "github.com/google/uuid"
)

// CapturedChangeRow wraps one captured entity together with the operation
// that produced it and its log sequence number in the source-of-record.
// Related rows joined by the capture query live inside Value.
type CapturedChangeRow[T any] struct {
    Value         T
    OperationType OperationType
    Lsn           []byte
}

// EventData is the unit published by the outbox and delivered to subscribers.
type EventData struct {
    ID            uuid.UUID
    Subject       string
    Action        string
    Key           []any
    Value         any
    CorrelationID string
    Username      string
    Timestamp     time.Time
    Lsn           []byte
}

// EventDataOption configures an EventData built by NewEventData.
type EventDataOption func(*EventData)

// WithID replaces the random id of the event.
func WithID(id uuid.UUID) EventDataOption {
    return func(e *EventData) { e.ID = id }
}

func WithCorrelationID(correlationID string) EventDataOption {
    return func(e *EventData) { e.CorrelationID = correlationID }
}

func WithUsername(username string) EventDataOption {
    return func(e *EventData) { e.Username = username }
}

func WithTimestamp(timestamp time.Time) EventDataOption {
    return func(e *EventData) { e.Timestamp = timestamp }
}

// NewEventData builds the event for a captured row. The subject is the prefix
// joined with the key extracted from the row value, and the action is the row
// operation rendered with format.
func NewEventData[T any](prefix string, format ActionFormat, row CapturedChangeRow[T], opts ...EventDataOption) (EventData, error) {
    key, err := ExtractKey(row.Value)
    if err != nil {
        return EventData{}, fmt.Errorf("building event for %s: %w", prefix, err)
    }

    e := EventData{
        ID:        uuid.New(),
        Subject:   BuildSubject(prefix, key),
        Action:    format.Action(row.OperationType),
        Key:       key,
        Value:     row.Value,
        Timestamp: time.Now().UTC(),
        Lsn:       row.Lsn,
    }

    for _, opt := range opts {
        opt(&e)
    }

    return e, nil
}

// wireEvent is the JSON representation of EventData on the transport.
type wireEvent struct {
    ID            uuid.UUID       `json:"id"`
    Subject       string          `json:"subject"`
    Action        string          `json:"action,omitempty"`
    Key           []any           `json:"key,omitempty"`
    Value         json.RawMessage `json:"value,omitempty"`
    CorrelationID string          `json:"correlationId,omitempty"`
    Username      string          `json:"username,omitempty"`
    Timestamp     time.Time       `json:"timestamp"`
    Lsn           []byte          `json:"lsn,omitempty"`
}

// Marshal serializes e into its wire representation.
func Marshal(e EventData) ([]byte, error) {
    var value json.RawMessage
    if e.Value != nil {
        raw, err := json.Marshal(e.Value)
        if err != nil {
            return nil, fmt.Errorf("serializing value of event %s: %w", e.ID, err)
        }
        value = raw
    }
    return json.Marshal(wireEvent{
        ID:            e.ID,
        Subject:       e.Subject,
        Action:        e.Action,
        Key:           e.Key,
        Value:         value,
        CorrelationID: e.CorrelationID,
        Username:      e.Username,
        Timestamp:     e.Timestamp,
        Lsn:           e.Lsn,
    })
}

// Unmarshal decodes a wire event. The value is kept as json.RawMessage, use
// DecodeValue to bind it to a concrete type.
func Unmarshal(data []byte) (EventData, error) {
    var w wireEvent
    if err := json.Unmarshal(data, &w); err != nil {
        return EventData{}, fmt.Errorf("deserializing event: %w", err)
    }
    if w.Subject == "" {
        return EventData{}, ErrSubjectRequired
    }
    e := EventData{
        ID:            w.ID,
        Subject:       w.Subject,
        Action:        w.Action,
        Key:           w.Key,
        CorrelationID: w.CorrelationID,
        Username:      w.Username,
        Timestamp:     w.Timestamp,
        Lsn:           w.Lsn,
    }
    if len(w.Value) > 0 {
        e.Value = w.Value
    }
    return e, nil
}

// DecodeValue binds the event value to T. It accepts values still in wire
// form (json.RawMessage or []byte) and values already of type T.
func DecodeValue[T any](e EventData) (T, error) {
    var out T
    switch v := e.Value.(type) {
    case nil:
        return out, nil
    case T:
        return v, nil
    case json.RawMessage:
        err := json.Unmarshal(v, &out)
        return out, err
    case []byte:
        err := json.Unmarshal(v, &out)
        return out, err
    default:
        raw, err := json.Marshal(v)
        if err != nil {
            return out, err
        }
        err = json.Unmarshal(raw, &out)
        return out, err
    }
}

package outbox

import (
    "context"
    "time"

    "github.com/walletera/cdc-relay/internal/domain/events"
)

// Envelope is one claimed batch of captured changes.
type Envelope struct {
    ID          int64
    CreatedAt   time.Time
    IsCompleted bool
    CompletedAt *time.Time
}

// Claim is what the capture query returns for a single invocation.
//
// A negative ReturnCode means an incomplete envelope exists and blocks new
// claims. A nil Envelope with a non negative ReturnCode means there is no new data.
type Claim[T any] struct {
    ReturnCode int
    Envelope   *Envelope
    Rows       []events.CapturedChangeRow[T]
}

// CaptureStore is the source-of-record side of the outbox.
type CaptureStore[T any] interface {
    // Claim returns the next new envelope, or the most recent incomplete one
    // when incomplete is true, with up to maxBatchSize rows.
    Claim(ctx context.Context, maxBatchSize int, incomplete bool) (Claim[T], error)
    // MarkComplete flags the envelope as completed. Marking an already
    // completed envelope must succeed.
    MarkComplete(ctx context.Context, envelopeID int64) error
}

// Publisher sends a batch of events to the event stream.
type Publisher interface {
    // Publish sends all events in order as a single unit. A partial publish
    // must be reported as an error.
    //
    // The same events may be published again when an envelope is re-claimed
    // after a failure between publish and completion, so consumers must be
    // idempotent.
    Publish(ctx context.Context, events []events.EventData) error
}

// Result is the outcome of one executor invocation.
type Result[T any] struct {
    ReturnCode int
    Envelope   *Envelope
    Rows       []events.CapturedChangeRow[T]
    Events     []events.EventData
}

package outbox

import (
    "errors"
    "fmt"
)

var (
    ErrCaptureStoreRequired = errors.New("capture store is required")
    ErrPublisherRequired    = errors.New("publisher is required")
    ErrEnvelopeMalformed    = errors.New("envelope is malformed")
)

// CaptureError indicates the capture query failed.
type CaptureError struct {
    Incomplete bool
    Err        error
}

func (e *CaptureError) Error() string {
    return fmt.Sprintf("claiming envelope (incomplete=%t): %v", e.Incomplete, e.Err)
}

func (e *CaptureError) Unwrap() error { return e.Err }

// PublishError indicates the events of an envelope could not be published.
// The envelope is left incomplete.
type PublishError struct {
    EnvelopeID int64
    Err        error
}

func (e *PublishError) Error() string {
    return fmt.Sprintf("publishing events of envelope %d: %v", e.EnvelopeID, e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// MarkCompleteError indicates the envelope was published but could not be
// marked complete. It will be re-claimed as incomplete and re-published.
type MarkCompleteError struct {
    EnvelopeID int64
    Err        error
}

func (e *MarkCompleteError) Error() string {
    return fmt.Sprintf("marking envelope %d complete: %v", e.EnvelopeID, e.Err)
}

func (e *MarkCompleteError) Unwrap() error { return e.Err }

package memory

import (
    "context"
    "sync"
    "time"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/outbox"
)

// CaptureStore is an in-process outbox.CaptureStore. Envelopes are added with
// Capture and claimed in order. Like the relational capture query, it refuses
// to claim a new envelope while a claimed one is incomplete.
type CaptureStore[T any] struct {
    mu        sync.Mutex
    nextID    int64
    pending   []*capturedEnvelope[T]
    claimed   []*capturedEnvelope[T]
    completed []int64
}

type capturedEnvelope[T any] struct {
    envelope outbox.Envelope
    rows     []events.CapturedChangeRow[T]
}

var _ outbox.CaptureStore[any] = (*CaptureStore[any])(nil)

func NewCaptureStore[T any]() *CaptureStore[T] {
    return &CaptureStore[T]{}
}

// Capture queues an envelope with rows and returns its id.
func (s *CaptureStore[T]) Capture(rows ...events.CapturedChangeRow[T]) int64 {
    s.mu.Lock()
    defer s.mu.Unlock()

    s.nextID++
    s.pending = append(s.pending, &capturedEnvelope[T]{
        envelope: outbox.Envelope{ID: s.nextID, CreatedAt: time.Now().UTC()},
        rows:     rows,
    })
    return s.nextID
}

// CaptureWithID queues an envelope using the given id.
func (s *CaptureStore[T]) CaptureWithID(id int64, rows ...events.CapturedChangeRow[T]) {
    s.mu.Lock()
    defer s.mu.Unlock()

    if id > s.nextID {
        s.nextID = id
    }
    s.pending = append(s.pending, &capturedEnvelope[T]{
        envelope: outbox.Envelope{ID: id, CreatedAt: time.Now().UTC()},
        rows:     rows,
    })
}

func (s *CaptureStore[T]) Claim(_ context.Context, maxBatchSize int, incomplete bool) (outbox.Claim[T], error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    last := s.lastIncomplete()

    if incomplete {
        if last == nil {
            return outbox.Claim[T]{}, nil
        }
        return claimOf(last), nil
    }

    if last != nil {
        return outbox.Claim[T]{ReturnCode: -1}, nil
    }

    if len(s.pending) == 0 {
        return outbox.Claim[T]{}, nil
    }

    next := s.pending[0]
    s.pending = s.pending[1:]
    if maxBatchSize > 0 && len(next.rows) > maxBatchSize {
        rest := &capturedEnvelope[T]{envelope: outbox.Envelope{CreatedAt: next.envelope.CreatedAt}, rows: next.rows[maxBatchSize:]}
        s.nextID++
        rest.envelope.ID = s.nextID
        next.rows = next.rows[:maxBatchSize]
        s.pending = append([]*capturedEnvelope[T]{rest}, s.pending...)
    }
    s.claimed = append(s.claimed, next)
    return claimOf(next), nil
}

func (s *CaptureStore[T]) MarkComplete(_ context.Context, envelopeID int64) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    for _, e := range s.claimed {
        if e.envelope.ID == envelopeID && !e.envelope.IsCompleted {
            now := time.Now().UTC()
            e.envelope.IsCompleted = true
            e.envelope.CompletedAt = &now
            s.completed = append(s.completed, envelopeID)
        }
    }
    return nil
}

// Completed returns the ids of the completed envelopes in completion order.
func (s *CaptureStore[T]) Completed() []int64 {
    s.mu.Lock()
    defer s.mu.Unlock()

    return append([]int64(nil), s.completed...)
}

func (s *CaptureStore[T]) lastIncomplete() *capturedEnvelope[T] {
    for i := len(s.claimed) - 1; i >= 0; i-- {
        if !s.claimed[i].envelope.IsCompleted {
            return s.claimed[i]
        }
    }
    return nil
}

func claimOf[T any](e *capturedEnvelope[T]) outbox.Claim[T] {
    envelope := e.envelope
    return outbox.Claim[T]{
        Envelope: &envelope,
        Rows:     append([]events.CapturedChangeRow[T](nil), e.rows...),
    }
}

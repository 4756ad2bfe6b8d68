package memory

import (
    "context"
    "sync"

    "github.com/walletera/cdc-relay/internal/domain/events"
)

// Publisher records published batches. It is used when no transport is
// configured and by tests.
type Publisher struct {
    mu      sync.Mutex
    batches [][]events.EventData
    err     error
}

func NewPublisher() *Publisher {
    return &Publisher{}
}

// FailWith makes the following Publish calls return err. A nil err restores
// normal behavior.
func (p *Publisher) FailWith(err error) {
    p.mu.Lock()
    defer p.mu.Unlock()
    p.err = err
}

func (p *Publisher) Publish(_ context.Context, evts []events.EventData) error {
    p.mu.Lock()
    defer p.mu.Unlock()

    if p.err != nil {
        return p.err
    }
    p.batches = append(p.batches, append([]events.EventData(nil), evts...))
    return nil
}

// Batches returns the published batches in order.
func (p *Publisher) Batches() [][]events.EventData {
    p.mu.Lock()
    defer p.mu.Unlock()

    return append([][]events.EventData(nil), p.batches...)
}

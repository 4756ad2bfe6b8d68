package subscriber

import (
    "context"

    "github.com/walletera/werrors"

    "github.com/walletera/cdc-relay/internal/domain/events"
)

// RunAs selects the identity a subscriber executes under.
type RunAs int

const (
    // RunAsSystem runs the handler under the configured system identity.
    RunAsSystem RunAs = iota
    // RunAsOriginating runs the handler under the identity carried by the event.
    RunAsOriginating
)

func (r RunAs) String() string {
    if r == RunAsOriginating {
        return "Originating"
    }
    return "System"
}

type Handler interface {
    Handle(ctx context.Context, event events.EventData) werrors.WError
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, event events.EventData) werrors.WError

func (f HandlerFunc) Handle(ctx context.Context, event events.EventData) werrors.WError {
    return f(ctx, event)
}

// Subscriber describes a handler and the events routed to it.
type Subscriber struct {
    Name string
    // Subject is a subject template, see the matching rules on subjectTemplate.
    Subject string
    // Action restricts the subscriber to one action. Empty matches any action.
    Action            string
    RunAs             RunAs
    ExceptionHandling events.ExceptionHandling
    Handler           Handler
}

package subscriber

import (
    "context"
    "log/slog"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const DefaultSystemUsername = "system"

// EventFactory materializes an inbound event. The Host calls it only when a
// subscriber matched.
type EventFactory func() (events.EventData, error)

// Host routes inbound events to at most one registered subscriber. It keeps
// no state between calls.
type Host struct {
    registry       *Registry
    systemUsername string
    logger         *slog.Logger
}

type HostOption func(*Host)

func WithSystemUsername(username string) HostOption {
    return func(h *Host) {
        if username != "" {
            h.systemUsername = username
        }
    }
}

func WithLogger(logger *slog.Logger) HostOption {
    return func(h *Host) { h.logger = logger }
}

func NewHost(registry *Registry, opts ...HostOption) (*Host, error) {
    if registry == nil {
        return nil, ErrRegistryRequired
    }
    h := &Host{
        registry:       registry,
        systemUsername: DefaultSystemUsername,
        logger:         slog.New(slog.DiscardHandler),
    }
    for _, opt := range opts {
        opt(h)
    }
    return h, nil
}

// Receive dispatches the event identified by subject and action. Events no
// subscriber matches are ignored. More than one match is reported as an
// *AmbiguousSubscribersError. A failing subscriber with the Continue policy is
// logged and swallowed, with the Stop policy its error is returned as a
// *HandlerError.
func (h *Host) Receive(ctx context.Context, subject, action string, factory EventFactory) error {
    matched := h.registry.Match(subject, action)
    switch len(matched) {
    case 0:
        h.logger.Debug("no subscriber matched", logattr.Subject(subject), logattr.Action(action))
        return nil
    case 1:
    default:
        names := make([]string, 0, len(matched))
        for _, s := range matched {
            names = append(names, s.Name)
        }
        return &AmbiguousSubscribersError{Subject: subject, Action: action, Subscribers: names}
    }

    s := matched[0]
    event, err := factory()
    if err != nil {
        return &EventFactoryError{Subject: subject, Err: err}
    }

    identity := h.identityFor(s, event)
    logger := h.logger.With(
        logattr.Subscriber(s.Name),
        logattr.Subject(subject),
        logattr.Action(action),
        logattr.EventId(event.ID.String()),
        logattr.CorrelationId(event.CorrelationID),
        logattr.Username(identity.Username),
    )

    werr := s.Handler.Handle(NewContext(ctx, identity), event)
    if werr == nil {
        logger.Debug("event handled")
        return nil
    }

    if s.ExceptionHandling == events.ExceptionHandlingContinue {
        logger.Warn("subscriber failed, continuing", logattr.Error(werr.Message()))
        return nil
    }

    logger.Error("subscriber failed", logattr.Error(werr.Message()))
    return &HandlerError{Subscriber: s.Name, Err: werr}
}

func (h *Host) identityFor(s Subscriber, event events.EventData) Identity {
    if s.RunAs == RunAsOriginating && event.Username != "" {
        return Identity{Username: event.Username, RunAs: RunAsOriginating}
    }
    return Identity{Username: h.systemUsername, RunAs: RunAsSystem}
}

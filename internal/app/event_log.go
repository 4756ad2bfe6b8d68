package app

import (
    "context"
    "log/slog"

    "github.com/walletera/werrors"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/subscriber"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

// newEventLogSubscriber logs every event matching subjectTemplate. It lets an
// operator tap the inbound stream without deploying a handler.
func newEventLogSubscriber(subjectTemplate string, logger *slog.Logger) subscriber.Subscriber {
    return subscriber.Subscriber{
        Name:              "event-log",
        Subject:           subjectTemplate,
        RunAs:             subscriber.RunAsOriginating,
        ExceptionHandling: events.ExceptionHandlingContinue,
        Handler: subscriber.HandlerFunc(func(ctx context.Context, event events.EventData) werrors.WError {
            identity, _ := subscriber.IdentityFromContext(ctx)
            logger.Info("event received",
                logattr.EventId(event.ID.String()),
                logattr.Subject(event.Subject),
                logattr.Action(event.Action),
                logattr.CorrelationId(event.CorrelationID),
                logattr.Username(identity.Username))
            return nil
        }),
    }
}

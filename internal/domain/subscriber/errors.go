package subscriber

import (
    "errors"
    "fmt"
    "strings"

    "github.com/walletera/werrors"
)

var (
    ErrRegistryRequired   = errors.New("subscriber registry is required")
    ErrNameRequired       = errors.New("subscriber name is required")
    ErrHandlerRequired    = errors.New("subscriber handler is required")
    ErrDuplicateName      = errors.New("subscriber name already registered")
    ErrTemplateInvalid    = errors.New("invalid subject template")
    ErrHostRequired       = errors.New("subscriber host is required")
    ErrCoordinatorMissing = errors.New("poison coordinator is required")
)

// AmbiguousSubscribersError is returned by Host.Receive when more than one
// subscriber matches the same subject and action.
type AmbiguousSubscribersError struct {
    Subject     string
    Action      string
    Subscribers []string
}

func (e *AmbiguousSubscribersError) Error() string {
    return fmt.Sprintf("subject %q action %q matches %d subscribers: %s",
        e.Subject, e.Action, len(e.Subscribers), strings.Join(e.Subscribers, ", "))
}

// HandlerError is returned by Host.Receive when a subscriber with the Stop
// exception policy fails.
type HandlerError struct {
    Subscriber string
    Err        werrors.WError
}

func (e *HandlerError) Error() string {
    return fmt.Sprintf("subscriber %s failed: %s", e.Subscriber, e.Err.Error())
}

func (e *HandlerError) Unwrap() error {
    return e.Err
}

// EventFactoryError is returned by Host.Receive when the matched event cannot
// be materialized.
type EventFactoryError struct {
    Subject string
    Err     error
}

func (e *EventFactoryError) Error() string {
    return fmt.Sprintf("materializing event %s: %s", e.Subject, e.Err.Error())
}

func (e *EventFactoryError) Unwrap() error {
    return e.Err
}

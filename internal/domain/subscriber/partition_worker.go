package subscriber

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "time"

    "github.com/cenkalti/backoff/v4"
    "github.com/walletera/werrors"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/poison"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const (
    StatusHandlerFailed = "HandlerFailed"
    StatusUnprocessable = "UnprocessableMessage"
)

// InboundMessage is a message read from one partition of the inbound stream.
// Subject and Action may be empty when the transport does not carry them
// outside the payload, the payload is then decoded up front.
type InboundMessage struct {
    poison.Message
    Subject string
    Action  string
    Payload []byte
}

// Decoder turns an inbound payload into an event.
type Decoder func(payload []byte) (events.EventData, error)

// PartitionWorker processes the messages of one partition in order. It
// consults the poison Coordinator before every delivery and records failures
// with it, so a message that keeps failing is retried with backoff until it
// is skipped.
//
// Each partition must be served by its own PartitionWorker and Coordinator.
type PartitionWorker struct {
    host        *Host
    coordinator *poison.Coordinator
    maxAttempts int
    decode      Decoder
    newBackOff  func() backoff.BackOff
    logger      *slog.Logger
}

type PartitionWorkerOption func(*PartitionWorker)

// WithMaxAttempts sets the attempts after which a failing message is skipped.
// Zero, the default, retries forever.
func WithMaxAttempts(maxAttempts int) PartitionWorkerOption {
    return func(w *PartitionWorker) { w.maxAttempts = maxAttempts }
}

func WithDecoder(decode Decoder) PartitionWorkerOption {
    return func(w *PartitionWorker) { w.decode = decode }
}

// WithRetryBackOff sets the policy that spaces the attempts of a failing
// message. The factory is called once per message.
func WithRetryBackOff(newBackOff func() backoff.BackOff) PartitionWorkerOption {
    return func(w *PartitionWorker) { w.newBackOff = newBackOff }
}

func WithWorkerLogger(logger *slog.Logger) PartitionWorkerOption {
    return func(w *PartitionWorker) { w.logger = logger }
}

func NewPartitionWorker(host *Host, coordinator *poison.Coordinator, opts ...PartitionWorkerOption) (*PartitionWorker, error) {
    if host == nil {
        return nil, ErrHostRequired
    }
    if coordinator == nil {
        return nil, ErrCoordinatorMissing
    }
    w := &PartitionWorker{
        host:        host,
        coordinator: coordinator,
        decode:      events.Unmarshal,
        newBackOff:  defaultRetryBackOff,
        logger:      slog.New(slog.DiscardHandler),
    }
    for _, opt := range opts {
        opt(w)
    }
    return w, nil
}

func defaultRetryBackOff() backoff.BackOff {
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = 500 * time.Millisecond
    b.MaxInterval = 30 * time.Second
    b.MaxElapsedTime = 0
    return b
}

// Process delivers msg until it is handled, skipped or ctx is done. A nil
// error means the caller may commit the message position. Errors from the
// poison store and routing ambiguity are returned without retrying.
func (w *PartitionWorker) Process(ctx context.Context, msg InboundMessage) error {
    logger := w.logger.With(
        logattr.PartitionKey(msg.PartitionKey()),
        logattr.RowKey(msg.RowKey()),
        logattr.SequenceNumber(msg.SequenceNumber),
    )

    notify := func(err error, next time.Duration) {
        logger.Warn("message processing failed, retrying",
            logattr.Error(err.Error()),
            slog.Duration("retry_in", next))
    }

    return backoff.RetryNotify(func() error {
        return w.attempt(ctx, msg, logger)
    }, backoff.WithContext(w.newBackOff(), ctx), notify)
}

func (w *PartitionWorker) attempt(ctx context.Context, msg InboundMessage, logger *slog.Logger) error {
    action, attempts, err := w.coordinator.Check(ctx, msg.Message)
    if err != nil {
        return backoff.Permanent(err)
    }
    if action == poison.ActionPoisonSkip {
        logger.Warn("poison message skipped", logattr.Attempts(attempts))
        return nil
    }

    receiveErr := w.receive(ctx, msg)
    if receiveErr == nil {
        if action == poison.ActionPoisonRetry {
            if err := w.coordinator.Remove(ctx, msg.Message, action); err != nil {
                return backoff.Permanent(err)
            }
            logger.Info("poison message recovered", logattr.Attempts(attempts))
        }
        return nil
    }

    var ambiguous *AmbiguousSubscribersError
    if errors.As(receiveErr, &ambiguous) {
        return backoff.Permanent(receiveErr)
    }

    handling, err := w.coordinator.MarkPoisoned(ctx, msg.Message, failureFrom(receiveErr), w.maxAttempts)
    if err != nil {
        return backoff.Permanent(errors.Join(receiveErr, err))
    }
    if handling == events.ExceptionHandlingContinue {
        return nil
    }
    return receiveErr
}

func (w *PartitionWorker) receive(ctx context.Context, msg InboundMessage) error {
    subject, action := msg.Subject, msg.Action
    factory := func() (events.EventData, error) {
        return w.decode(msg.Payload)
    }

    if subject == "" {
        event, err := w.decode(msg.Payload)
        if err != nil {
            return &EventFactoryError{Subject: subject, Err: err}
        }
        subject, action = event.Subject, event.Action
        factory = func() (events.EventData, error) { return event, nil }
    }

    return w.host.Receive(ctx, subject, action, factory)
}

func failureFrom(err error) poison.Failure {
    failure := poison.Failure{
        Status:    StatusHandlerFailed,
        Reason:    err.Error(),
        Exception: err.Error(),
    }

    var factoryErr *EventFactoryError
    if errors.As(err, &factoryErr) {
        failure.Status = StatusUnprocessable
        return failure
    }

    var werr werrors.WError
    if errors.As(err, &werr) {
        failure.Status = fmt.Sprintf("%s:%v", StatusHandlerFailed, werr.Code())
        failure.Reason = werr.Message()
    }
    return failure
}

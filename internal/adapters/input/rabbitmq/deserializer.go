package rabbitmq

import (
    "context"
    "errors"
    "log/slog"

    eventskit "github.com/walletera/eventskit/events"
    "github.com/walletera/eventskit/messages"
    "github.com/walletera/eventskit/rabbitmq"
    "github.com/walletera/werrors"

    rabbitmqpublisher "github.com/walletera/cdc-relay/internal/adapters/publishers/rabbitmq"
    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/subscriber"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const DefaultQueueName = "cdc-relay.subscribers"

// Deserializer turns queue payloads into events the Host can accept.
type Deserializer struct {
    logger *slog.Logger
}

var _ eventskit.Deserializer[*subscriber.Host] = (*Deserializer)(nil)

func NewDeserializer(logger *slog.Logger) *Deserializer {
    return &Deserializer{logger: logger}
}

func (d *Deserializer) Deserialize(rawPayload []byte) (eventskit.Event[*subscriber.Host], error) {
    event, err := events.Unmarshal(rawPayload)
    if err != nil {
        d.logger.Error("failed deserializing inbound event", logattr.Error(err.Error()))
        return nil, err
    }
    return Event{EventData: rabbitmqpublisher.NewEventData(event), event: event}, nil
}

// Event is an inbound event accepted by the Host.
type Event struct {
    rabbitmqpublisher.EventData
    event events.EventData
}

func (e Event) Accept(ctx context.Context, host *subscriber.Host) werrors.WError {
    err := host.Receive(ctx, e.event.Subject, e.event.Action, func() (events.EventData, error) {
        return e.event, nil
    })
    return toWError(err)
}

func toWError(err error) werrors.WError {
    if err == nil {
        return nil
    }
    var handlerErr *subscriber.HandlerError
    if errors.As(err, &handlerErr) {
        return handlerErr.Err
    }
    var ambiguous *subscriber.AmbiguousSubscribersError
    if errors.As(err, &ambiguous) {
        return werrors.NewNonRetryableInternalError(ambiguous.Error())
    }
    var factoryErr *subscriber.EventFactoryError
    if errors.As(err, &factoryErr) {
        return werrors.NewUnprocessableMessageError(factoryErr.Error())
    }
    return werrors.NewRetryableInternalError(err.Error())
}

// NewClient connects a queue bound to the events exchange with one routing
// key per binding. Binding keys use the AMQP topic syntax.
func NewClient(host string, port uint, user, password, exchange, queue string, bindings ...string) (*rabbitmq.Client, error) {
    return rabbitmq.NewClient(
        rabbitmq.WithHost(host),
        rabbitmq.WithPort(port),
        rabbitmq.WithUser(user),
        rabbitmq.WithPassword(password),
        rabbitmq.WithExchangeName(exchange),
        rabbitmq.WithExchangeType(rabbitmq.ExchangeTypeTopic),
        rabbitmq.WithQueueName(queue),
        rabbitmq.WithConsumerRoutingKeys(bindings...),
    )
}

// NewProcessor feeds the messages of consumer to host. Queue transports have
// no partition order, so failures are left to the broker redelivery instead
// of the poison coordinator.
func NewProcessor(consumer messages.Consumer, host *subscriber.Host, logger *slog.Logger) *messages.Processor[*subscriber.Host] {
    return messages.NewProcessor[*subscriber.Host](
        consumer,
        NewDeserializer(logger),
        host,
        messages.WithErrorCallback(func(processingError werrors.WError) {
            logger.Error("failed processing inbound event",
                logattr.Error(processingError.Message()),
                slog.Bool("retryable", processingError.IsRetryable()))
        }),
    )
}

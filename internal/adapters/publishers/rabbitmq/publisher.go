package rabbitmq

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "time"

    eventskit "github.com/walletera/eventskit/events"
    "github.com/walletera/eventskit/rabbitmq"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/outbox"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const DefaultExchangeName = "cdc-relay.events"

var _ outbox.Publisher = (*Publisher)(nil)

var ErrClientRequired = errors.New("rabbitmq client is required")

// Publisher sends events to a topic exchange using the subject as routing key.
// Delivery is sequential, so a failure in the middle of a batch fails the
// whole batch and the envelope is published again later.
type Publisher struct {
    client   eventskit.Publisher
    exchange string
    logger   *slog.Logger
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
    return func(p *Publisher) { p.logger = logger }
}

func WithExchangeName(exchange string) Option {
    return func(p *Publisher) { p.exchange = exchange }
}

func NewPublisher(client eventskit.Publisher, opts ...Option) (*Publisher, error) {
    if client == nil {
        return nil, ErrClientRequired
    }
    p := &Publisher{
        client:   client,
        exchange: DefaultExchangeName,
        logger:   slog.New(slog.DiscardHandler),
    }
    for _, opt := range opts {
        opt(p)
    }
    return p, nil
}

// NewClient dials the broker and declares the topic exchange events are
// published to.
func NewClient(host string, port uint, user, password, exchange string) (*rabbitmq.Client, error) {
    return rabbitmq.NewClient(
        rabbitmq.WithHost(host),
        rabbitmq.WithPort(port),
        rabbitmq.WithUser(user),
        rabbitmq.WithPassword(password),
        rabbitmq.WithExchangeName(exchange),
        rabbitmq.WithExchangeType(rabbitmq.ExchangeTypeTopic),
    )
}

func (p *Publisher) Publish(ctx context.Context, evts []events.EventData) error {
    for i, e := range evts {
        err := p.client.Publish(ctx, EventData{event: e}, eventskit.RoutingInfo{
            Topic:      p.exchange,
            RoutingKey: e.Subject,
        })
        if err != nil {
            p.logger.Error("failed publishing event to rabbitmq",
                logattr.EventId(e.ID.String()),
                logattr.Subject(e.Subject),
                logattr.Error(err.Error()))
            return fmt.Errorf("publishing event %d of %d to exchange %s: %w", i+1, len(evts), p.exchange, err)
        }
    }
    p.logger.Debug("events published to rabbitmq", logattr.EventsCount(len(evts)))
    return nil
}

// EventData exposes an event through the eventskit EventData contract.
type EventData struct {
    event events.EventData
}

func NewEventData(event events.EventData) EventData {
    return EventData{event: event}
}

func (e EventData) ID() string {
    return e.event.ID.String()
}

func (e EventData) Type() string {
    return e.event.Action
}

// AggregateVersion is always 0, captured rows carry an LSN instead.
func (e EventData) AggregateVersion() uint64 {
    return 0
}

func (e EventData) CorrelationID() string {
    return e.event.CorrelationID
}

func (e EventData) DataContentType() string {
    return "application/json"
}

func (e EventData) CreatedAt() time.Time {
    return e.event.Timestamp
}

func (e EventData) Serialize() ([]byte, error) {
    return events.Marshal(e.event)
}

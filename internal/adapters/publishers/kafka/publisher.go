package kafka

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "time"

    "github.com/segmentio/kafka-go"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/outbox"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const (
    HeaderSubject       = "subject"
    HeaderAction        = "action"
    HeaderCorrelationID = "correlation_id"
    HeaderEventID       = "event_id"
    HeaderUsername      = "username"
)

var _ outbox.Publisher = (*Publisher)(nil)

var ErrBrokersRequired = errors.New("at least one kafka broker is required")

// Writer is the subset of *kafka.Writer used by the publisher.
type Writer interface {
    WriteMessages(ctx context.Context, msgs ...kafka.Message) error
    Close() error
}

// Publisher writes every event of a batch to a single topic keyed by subject,
// so all events of one entity land on the same partition in order.
type Publisher struct {
    writer Writer
    topic  string
    logger *slog.Logger
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
    return func(p *Publisher) { p.logger = logger }
}

// WithWriter replaces the kafka writer built by NewPublisher.
func WithWriter(writer Writer) Option {
    return func(p *Publisher) { p.writer = writer }
}

func NewPublisher(brokers []string, topic string, opts ...Option) (*Publisher, error) {
    p := &Publisher{
        topic:  topic,
        logger: slog.New(slog.DiscardHandler),
    }
    for _, opt := range opts {
        opt(p)
    }
    if p.writer == nil {
        if len(brokers) == 0 {
            return nil, ErrBrokersRequired
        }
        p.writer = &kafka.Writer{
            Addr:                   kafka.TCP(brokers...),
            Topic:                  topic,
            Balancer:               &kafka.Hash{},
            RequiredAcks:           kafka.RequireAll,
            BatchTimeout:           10 * time.Millisecond,
            AllowAutoTopicCreation: true,
        }
    }
    return p, nil
}

// Publish sends the whole batch in one WriteMessages call. Any write error,
// including a partial one, fails the batch.
func (p *Publisher) Publish(ctx context.Context, evts []events.EventData) error {
    if len(evts) == 0 {
        return nil
    }

    msgs := make([]kafka.Message, 0, len(evts))
    for _, e := range evts {
        msg, err := toMessage(e)
        if err != nil {
            return err
        }
        msgs = append(msgs, msg)
    }

    if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
        var writeErrs kafka.WriteErrors
        if errors.As(err, &writeErrs) {
            p.logger.Error("kafka write failed for some messages",
                slog.String("topic", p.topic),
                logattr.EventsCount(writeErrs.Count()),
                logattr.Error(err.Error()))
        }
        return fmt.Errorf("writing %d messages to kafka topic %s: %w", len(msgs), p.topic, err)
    }

    p.logger.Debug("events published to kafka",
        slog.String("topic", p.topic),
        logattr.EventsCount(len(msgs)))
    return nil
}

func (p *Publisher) Close() error {
    return p.writer.Close()
}

func toMessage(e events.EventData) (kafka.Message, error) {
    value, err := events.Marshal(e)
    if err != nil {
        return kafka.Message{}, err
    }
    return kafka.Message{
        Key:   []byte(e.Subject),
        Value: value,
        Headers: []kafka.Header{
            {Key: HeaderSubject, Value: []byte(e.Subject)},
            {Key: HeaderAction, Value: []byte(e.Action)},
            {Key: HeaderCorrelationID, Value: []byte(e.CorrelationID)},
            {Key: HeaderEventID, Value: []byte(e.ID.String())},
            {Key: HeaderUsername, Value: []byte(e.Username)},
        },
        Time: e.Timestamp,
    }, nil
}

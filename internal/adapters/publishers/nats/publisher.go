package nats

import (
    "context"
    "errors"
    "fmt"
    "log/slog"

    "github.com/nats-io/nats.go"
    "github.com/nats-io/nats.go/jetstream"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/outbox"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const (
    HeaderAction        = "Cdc-Action"
    HeaderCorrelationID = "Cdc-Correlation-Id"
    HeaderUsername      = "Cdc-Username"
)

var _ outbox.Publisher = (*Publisher)(nil)

var ErrStreamRequired = errors.New("jetstream is required")

// Stream is the subset of jetstream.JetStream used by the publisher.
type Stream interface {
    PublishMsg(ctx context.Context, msg *nats.Msg, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher publishes every event on the JetStream subject formed by the
// subject prefix and the event subject. The event id is sent as Nats-Msg-Id,
// so a batch published again after a failure is deduplicated by the server
// within the stream duplicate window.
type Publisher struct {
    js            Stream
    subjectPrefix string
    logger        *slog.Logger
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
    return func(p *Publisher) { p.logger = logger }
}

// WithSubjectPrefix prepends prefix and a dot to every published subject.
func WithSubjectPrefix(prefix string) Option {
    return func(p *Publisher) { p.subjectPrefix = prefix }
}

func NewPublisher(js Stream, opts ...Option) (*Publisher, error) {
    if js == nil {
        return nil, ErrStreamRequired
    }
    p := &Publisher{
        js:     js,
        logger: slog.New(slog.DiscardHandler),
    }
    for _, opt := range opts {
        opt(p)
    }
    return p, nil
}

// Connect dials the server and makes sure the stream exists and captures
// every subject under subjectPrefix.
func Connect(ctx context.Context, url, streamName, subjectPrefix string) (*nats.Conn, jetstream.JetStream, error) {
    nc, err := nats.Connect(url)
    if err != nil {
        return nil, nil, fmt.Errorf("connecting to nats at %s: %w", url, err)
    }
    js, err := jetstream.New(nc)
    if err != nil {
        nc.Close()
        return nil, nil, fmt.Errorf("creating jetstream context: %w", err)
    }
    _, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
        Name:     streamName,
        Subjects: []string{subjectPrefix + ".>"},
    })
    if err != nil {
        nc.Close()
        return nil, nil, fmt.Errorf("creating stream %s: %w", streamName, err)
    }
    return nc, js, nil
}

func (p *Publisher) Publish(ctx context.Context, evts []events.EventData) error {
    for i, e := range evts {
        msg, err := p.toMsg(e)
        if err != nil {
            return err
        }
        ack, err := p.js.PublishMsg(ctx, msg, jetstream.WithMsgID(e.ID.String()))
        if err != nil {
            p.logger.Error("failed publishing event to jetstream",
                logattr.EventId(e.ID.String()),
                logattr.Subject(e.Subject),
                logattr.Error(err.Error()))
            return fmt.Errorf("publishing event %d of %d to %s: %w", i+1, len(evts), msg.Subject, err)
        }
        if ack != nil && ack.Duplicate {
            p.logger.Debug("event already in stream",
                logattr.EventId(e.ID.String()),
                slog.String("stream", ack.Stream))
        }
    }
    p.logger.Debug("events published to jetstream", logattr.EventsCount(len(evts)))
    return nil
}

func (p *Publisher) toMsg(e events.EventData) (*nats.Msg, error) {
    data, err := events.Marshal(e)
    if err != nil {
        return nil, err
    }
    subject := e.Subject
    if p.subjectPrefix != "" {
        subject = p.subjectPrefix + "." + subject
    }
    msg := &nats.Msg{
        Subject: subject,
        Data:    data,
        Header:  make(nats.Header),
    }
    msg.Header.Set(HeaderAction, e.Action)
    msg.Header.Set(HeaderCorrelationID, e.CorrelationID)
    msg.Header.Set(HeaderUsername, e.Username)
    return msg, nil
}

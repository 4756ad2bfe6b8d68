package kafka

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "strconv"

    "github.com/segmentio/kafka-go"
    "golang.org/x/sync/errgroup"

    kafkapublisher "github.com/walletera/cdc-relay/internal/adapters/publishers/kafka"
    "github.com/walletera/cdc-relay/internal/domain/poison"
    "github.com/walletera/cdc-relay/internal/domain/subscriber"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const defaultPartitionQueueSize = 64

var (
    ErrFetcherRequired       = errors.New("kafka fetcher is required")
    ErrWorkerFactoryRequired = errors.New("partition worker factory is required")
)

// Fetcher is the subset of *kafka.Reader used by the consumer.
type Fetcher interface {
    FetchMessage(ctx context.Context) (kafka.Message, error)
    CommitMessages(ctx context.Context, msgs ...kafka.Message) error
    Close() error
}

// WorkerFactory builds the worker that owns a partition. It is called the
// first time a message of the partition is fetched.
type WorkerFactory func(partition int) (*subscriber.PartitionWorker, error)

// Consumer reads a topic as a member of a consumer group and hands the
// messages of every partition to that partition's worker, in order. A message
// is committed once its worker handled or skipped it.
type Consumer struct {
    fetcher       Fetcher
    newWorker     WorkerFactory
    source        string
    topic         string
    consumerGroup string
    queueSize     int
    logger        *slog.Logger
}

type Option func(*Consumer)

func WithLogger(logger *slog.Logger) Option {
    return func(c *Consumer) { c.logger = logger }
}

// WithSource sets the identity of the cluster the topic lives in. It becomes
// part of the poison record partition key.
func WithSource(source string) Option {
    return func(c *Consumer) { c.source = source }
}

// WithPartitionQueueSize sets how many fetched messages may wait for a busy
// partition worker before fetching blocks. Default is 64.
func WithPartitionQueueSize(size int) Option {
    return func(c *Consumer) {
        if size > 0 {
            c.queueSize = size
        }
    }
}

func NewConsumer(fetcher Fetcher, topic, consumerGroup string, newWorker WorkerFactory, opts ...Option) (*Consumer, error) {
    if fetcher == nil {
        return nil, ErrFetcherRequired
    }
    if newWorker == nil {
        return nil, ErrWorkerFactoryRequired
    }
    c := &Consumer{
        fetcher:       fetcher,
        newWorker:     newWorker,
        topic:         topic,
        consumerGroup: consumerGroup,
        queueSize:     defaultPartitionQueueSize,
        logger:        slog.New(slog.DiscardHandler),
    }
    for _, opt := range opts {
        opt(c)
    }
    return c, nil
}

// NewReader builds a consumer group reader that commits synchronously.
func NewReader(brokers []string, topic, consumerGroup string) *kafka.Reader {
    return kafka.NewReader(kafka.ReaderConfig{
        Brokers:  brokers,
        Topic:    topic,
        GroupID:  consumerGroup,
        MinBytes: 1,
        MaxBytes: 10e6,
    })
}

// Run consumes until ctx is done or a partition fails with an error that
// retrying cannot fix, such as a poison store failure or an ambiguous route.
func (c *Consumer) Run(ctx context.Context) error {
    runCtx, cancel := context.WithCancel(ctx)
    defer cancel()

    g, gctx := errgroup.WithContext(runCtx)
    queues := make(map[int]chan kafka.Message)

    fetchErr := c.fetch(gctx, g, queues)
    if fetchErr != nil {
        cancel()
    }
    for _, q := range queues {
        close(q)
    }

    err := g.Wait()
    if fetchErr != nil {
        return fetchErr
    }
    if err != nil && ctx.Err() == nil {
        return err
    }
    return nil
}

func (c *Consumer) fetch(ctx context.Context, g *errgroup.Group, queues map[int]chan kafka.Message) error {
    for {
        msg, err := c.fetcher.FetchMessage(ctx)
        if err != nil {
            if ctx.Err() != nil {
                return nil
            }
            return fmt.Errorf("fetching from topic %s: %w", c.topic, err)
        }

        queue, ok := queues[msg.Partition]
        if !ok {
            worker, err := c.newWorker(msg.Partition)
            if err != nil {
                return fmt.Errorf("building worker for partition %d: %w", msg.Partition, err)
            }
            queue = make(chan kafka.Message, c.queueSize)
            queues[msg.Partition] = queue
            partition := msg.Partition
            g.Go(func() error {
                return c.runPartition(ctx, partition, worker, queue)
            })
        }

        select {
        case queue <- msg:
        case <-ctx.Done():
            return nil
        }
    }
}

func (c *Consumer) runPartition(ctx context.Context, partition int, worker *subscriber.PartitionWorker, queue <-chan kafka.Message) error {
    logger := c.logger.With(
        logattr.ConsumerGroup(c.consumerGroup),
        logattr.Partition(strconv.Itoa(partition)),
    )
    logger.Info("partition worker started")

    for msg := range queue {
        if ctx.Err() != nil {
            return ctx.Err()
        }
        if err := worker.Process(ctx, c.inbound(msg)); err != nil {
            logger.Error("partition worker stopped",
                logattr.SequenceNumber(msg.Offset),
                logattr.Error(err.Error()))
            return err
        }
        if err := c.fetcher.CommitMessages(ctx, msg); err != nil {
            return fmt.Errorf("committing offset %d of partition %d: %w", msg.Offset, partition, err)
        }
    }
    return nil
}

func (c *Consumer) inbound(msg kafka.Message) subscriber.InboundMessage {
    in := subscriber.InboundMessage{
        Message: poison.Message{
            Source:         c.source,
            Stream:         c.topic,
            ConsumerGroup:  c.consumerGroup,
            Partition:      strconv.Itoa(msg.Partition),
            SequenceNumber: msg.Offset,
            Offset:         strconv.FormatInt(msg.Offset, 10),
            EnqueuedAt:     msg.Time,
        },
        Payload: msg.Value,
    }
    for _, h := range msg.Headers {
        switch h.Key {
        case kafkapublisher.HeaderSubject:
            in.Subject = string(h.Value)
        case kafkapublisher.HeaderAction:
            in.Action = string(h.Value)
        }
    }
    return in
}

func (c *Consumer) Close() error {
    return c.fetcher.Close()
}

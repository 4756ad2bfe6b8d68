package tests

import (
    "context"
    "fmt"
    "net/http"
    "slices"
    "strconv"
    "sync"
    "sync/atomic"
    "testing"
    "time"

    "github.com/cucumber/godog"
    "github.com/google/uuid"
    "github.com/segmentio/kafka-go"
    "github.com/walletera/werrors"

    kafkapublisher "github.com/walletera/cdc-relay/internal/adapters/publishers/kafka"
    "github.com/walletera/cdc-relay/internal/app"
    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/poison"
    "github.com/walletera/cdc-relay/internal/domain/subscriber"
)

const (
    fetcherKey                = "fetcher"
    subscriberCallsKey        = "subscriberCalls"
    operatorAPIHttpServerPort = 8585
)

func TestPoisonMessages(t *testing.T) {

    suite := godog.TestSuite{
        ScenarioInitializer: InitializePoisonMessagesFeature,
        Options: &godog.Options{
            Format:   "pretty",
            Paths:    []string{"features/poison_messages.feature"},
            TestingT: t, // Testing instance that will run subtests.
        },
    }

    if suite.Run() != 0 {
        t.Fatal("non-zero status returned, failed to run feature tests")
    }
}

func InitializePoisonMessagesFeature(ctx *godog.ScenarioContext) {
    ctx.Before(beforeScenarioHook)
    ctx.Given(`^a poison record for sequence number (\d+) on partition (\d+) of consumer group "([^"]*)" in "([^"]*)" with (\d+) failed attempts$`, aPoisonRecord)
    ctx.Given(`^a running cdc-relay consuming "([^"]*)" as consumer group "([^"]*)" with max attempts (\d+) and a (failing|healthy) subscriber to "([^"]*)"$`, aRunningCdcRelayConsuming)
    ctx.When(`^an operator skips the poison message of partition (\d+) of consumer group "([^"]*)"$`, anOperatorSkipsThePoisonMessage)
    ctx.When(`^the message at sequence number (\d+) with subject "([^"]*)" is delivered on partition (\d+)$`, theMessageIsDelivered)
    ctx.Then(`^the cdc-relay produces the following log:$`, theCdcRelayProducesTheFollowingLog)
    ctx.Then(`^the message at sequence number (\d+) on partition (\d+) is committed$`, theMessageIsCommitted)
    ctx.Then(`^there is no poison record for partition (\d+) of consumer group "([^"]*)" in "([^"]*)"$`, thereIsNoPoisonRecord)
    ctx.Then(`^the skipped audit trail of partition (\d+) of consumer group "([^"]*)" in "([^"]*)" holds sequence number (\d+) with status "([^"]*)"$`, theSkippedAuditTrailHolds)
    ctx.Then(`^the skipped audit trail of partition (\d+) of consumer group "([^"]*)" in "([^"]*)" is empty$`, theSkippedAuditTrailIsEmpty)
    ctx.Then(`^the subscriber was called (\d+) times?$`, theSubscriberWasCalled)
    ctx.After(afterScenarioHook)
}

// inboundTopic serves the messages delivered by the scenario to the kafka
// consumer of the running cdc-relay.
type inboundTopic struct {
    msgs chan kafka.Message

    mu        sync.Mutex
    committed []kafka.Message
}

func newInboundTopic() *inboundTopic {
    return &inboundTopic{msgs: make(chan kafka.Message, 16)}
}

func (t *inboundTopic) FetchMessage(ctx context.Context) (kafka.Message, error) {
    select {
    case msg := <-t.msgs:
        return msg, nil
    case <-ctx.Done():
        return kafka.Message{}, ctx.Err()
    }
}

func (t *inboundTopic) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
    t.mu.Lock()
    defer t.mu.Unlock()
    t.committed = append(t.committed, msgs...)
    return nil
}

func (t *inboundTopic) Close() error { return nil }

func (t *inboundTopic) isCommitted(partition int, offset int64) bool {
    t.mu.Lock()
    defer t.mu.Unlock()
    return slices.ContainsFunc(t.committed, func(msg kafka.Message) bool {
        return msg.Partition == partition && msg.Offset == offset
    })
}

func aPoisonRecord(ctx context.Context, sequenceNumber int64, partition int, consumerGroup string, topic string, attempts int) (context.Context, error) {
    msg := poison.Message{Stream: topic, ConsumerGroup: consumerGroup, Partition: strconv.Itoa(partition)}
    _, err := auditStoreFromCtx(ctx).Put(ctx, poison.AuditRecord{
        PartitionKey:   msg.PartitionKey(),
        RowKey:         msg.RowKey(),
        SequenceNumber: sequenceNumber,
        Offset:         strconv.FormatInt(sequenceNumber, 10),
        PoisonedAt:     time.Now().UTC(),
        Attempts:       attempts,
        Status:         subscriber.StatusHandlerFailed,
        Reason:         "projection store unavailable",
    }, 0)
    if err != nil {
        return ctx, fmt.Errorf("failed seeding poison record: %w", err)
    }
    return ctx, nil
}

func aRunningCdcRelayConsuming(ctx context.Context, topic string, consumerGroup string, maxAttempts int, health string, subjectTemplate string) (context.Context, error) {
    topicFetcher := newInboundTopic()
    calls := &atomic.Int32{}
    ctx = context.WithValue(ctx, fetcherKey, topicFetcher)
    ctx = context.WithValue(ctx, subscriberCallsKey, calls)

    projection := subscriber.Subscriber{
        Name:    "orders-projection",
        Subject: subjectTemplate,
        RunAs:   subscriber.RunAsSystem,
        Handler: subscriber.HandlerFunc(func(ctx context.Context, event events.EventData) werrors.WError {
            calls.Add(1)
            if health == "failing" {
                return werrors.NewRetryableInternalError("projection store unavailable")
            }
            return nil
        }),
    }

    return runCdcRelay(ctx,
        app.WithSubscriberConfig(app.SubscriberConfig{
            Transport:      app.InboundKafka,
            Topic:          topic,
            ConsumerGroup:  consumerGroup,
            MaxAttempts:    maxAttempts,
            SystemUsername: "cdc-relay",
        }),
        app.WithSubscribers(projection),
        app.WithInboundFetcher(topicFetcher),
        app.WithAuditStore(auditStoreFromCtx(ctx)),
        app.WithOperatorAPIConfig(app.OperatorAPIConfig{
            OperatorAPIHttpServerPort: operatorAPIHttpServerPort,
        }),
    )
}

func anOperatorSkipsThePoisonMessage(ctx context.Context, partition int, consumerGroup string) (context.Context, error) {
    url := fmt.Sprintf("http://127.0.0.1:%d/poison/%s/%d/skip", operatorAPIHttpServerPort, consumerGroup, partition)

    var (
        resp *http.Response
        err  error
    )
    // the operator api listens asynchronously after startup
    eventually(func() bool {
        resp, err = http.Post(url, "application/json", nil)
        return err == nil
    })
    if err != nil {
        return ctx, fmt.Errorf("failed calling the operator api: %w", err)
    }
    defer resp.Body.Close()

    if resp.StatusCode != http.StatusAccepted {
        return ctx, fmt.Errorf("expected status code %d, got %d", http.StatusAccepted, resp.StatusCode)
    }
    return ctx, nil
}

func theMessageIsDelivered(ctx context.Context, sequenceNumber int64, subject string, partition int) (context.Context, error) {
    value, err := events.Marshal(events.EventData{
        ID:            uuid.New(),
        Subject:       subject,
        Action:        "Updated",
        CorrelationID: uuid.NewString(),
        Username:      "sales-api",
        Timestamp:     time.Now().UTC(),
    })
    if err != nil {
        return ctx, err
    }

    fetcherFromCtx(ctx).msgs <- kafka.Message{
        Partition: partition,
        Offset:    sequenceNumber,
        Value:     value,
        Time:      time.Now(),
        Headers: []kafka.Header{
            {Key: kafkapublisher.HeaderSubject, Value: []byte(subject)},
            {Key: kafkapublisher.HeaderAction, Value: []byte("Updated")},
        },
    }
    return ctx, nil
}

func theMessageIsCommitted(ctx context.Context, sequenceNumber int64, partition int) (context.Context, error) {
    topicFetcher := fetcherFromCtx(ctx)
    if !eventually(func() bool { return topicFetcher.isCommitted(partition, sequenceNumber) }) {
        return ctx, fmt.Errorf("message %d of partition %d was not committed", sequenceNumber, partition)
    }
    return ctx, nil
}

func thereIsNoPoisonRecord(ctx context.Context, partition int, consumerGroup string, topic string) (context.Context, error) {
    msg := poison.Message{Stream: topic, ConsumerGroup: consumerGroup, Partition: strconv.Itoa(partition)}
    record, err := auditStoreFromCtx(ctx).Get(ctx, msg.PartitionKey(), msg.RowKey())
    if err != nil {
        return ctx, err
    }
    if record != nil {
        return ctx, fmt.Errorf("expected no poison record, found one for sequence number %d", record.SequenceNumber)
    }
    return ctx, nil
}

func theSkippedAuditTrailHolds(ctx context.Context, partition int, consumerGroup string, topic string, sequenceNumber int64, status string) (context.Context, error) {
    skipped, err := listSkipped(ctx, partition, consumerGroup, topic)
    if err != nil {
        return ctx, err
    }
    if len(skipped) != 1 {
        return ctx, fmt.Errorf("expected 1 skipped entry, got %d", len(skipped))
    }
    if skipped[0].SequenceNumber != sequenceNumber {
        return ctx, fmt.Errorf("expected skipped sequence number %d, got %d", sequenceNumber, skipped[0].SequenceNumber)
    }
    if skipped[0].Status != status {
        return ctx, fmt.Errorf("expected skipped status %s, got %s", status, skipped[0].Status)
    }
    if skipped[0].SkippedAt == nil {
        return ctx, fmt.Errorf("skipped entry has no skip time")
    }
    return ctx, nil
}

func theSkippedAuditTrailIsEmpty(ctx context.Context, partition int, consumerGroup string, topic string) (context.Context, error) {
    skipped, err := listSkipped(ctx, partition, consumerGroup, topic)
    if err != nil {
        return ctx, err
    }
    if len(skipped) != 0 {
        return ctx, fmt.Errorf("expected no skipped entries, got %d", len(skipped))
    }
    return ctx, nil
}

func theSubscriberWasCalled(ctx context.Context, times int) (context.Context, error) {
    calls, ok := ctx.Value(subscriberCallsKey).(*atomic.Int32)
    if !ok {
        return ctx, fmt.Errorf("subscriber calls not found in context")
    }
    if got := int(calls.Load()); got != times {
        return ctx, fmt.Errorf("expected the subscriber to be called %d times, got %d", times, got)
    }
    return ctx, nil
}

func listSkipped(ctx context.Context, partition int, consumerGroup string, topic string) ([]poison.AuditRecord, error) {
    msg := poison.Message{Stream: topic, ConsumerGroup: consumerGroup, Partition: strconv.Itoa(partition)}
    return auditStoreFromCtx(ctx).ListSkipped(ctx, msg.PartitionKey(), msg.RowKey(), 10)
}

func fetcherFromCtx(ctx context.Context) *inboundTopic {
    topicFetcher, ok := ctx.Value(fetcherKey).(*inboundTopic)
    if !ok {
        panic("inbound topic not found in context")
    }
    return topicFetcher
}

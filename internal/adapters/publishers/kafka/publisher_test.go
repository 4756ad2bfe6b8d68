package kafka

import (
    "context"
    "errors"
    "testing"

    "github.com/google/uuid"
    "github.com/segmentio/kafka-go"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/walletera/cdc-relay/internal/domain/events"
)

type fakeWriter struct {
    calls  [][]kafka.Message
    err    error
    closed bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
    f.calls = append(f.calls, msgs)
    return f.err
}

func (f *fakeWriter) Close() error {
    f.closed = true
    return nil
}

func testEvents() []events.EventData {
    return []events.EventData{
        {ID: uuid.New(), Subject: "Orders.1", Action: "Created", CorrelationID: "c-1", Username: "alice", Value: map[string]any{"id": 1}},
        {ID: uuid.New(), Subject: "Orders.2", Action: "Updated", CorrelationID: "c-1", Username: "alice"},
    }
}

func header(msg kafka.Message, key string) string {
    for _, h := range msg.Headers {
        if h.Key == key {
            return string(h.Value)
        }
    }
    return ""
}

func TestPublishWritesBatchInOneCall(t *testing.T) {
    writer := &fakeWriter{}
    publisher, err := NewPublisher(nil, "cdc", WithWriter(writer))
    require.NoError(t, err)

    evts := testEvents()
    require.NoError(t, publisher.Publish(context.Background(), evts))

    require.Len(t, writer.calls, 1)
    msgs := writer.calls[0]
    require.Len(t, msgs, 2)
    for i, msg := range msgs {
        assert.Equal(t, evts[i].Subject, string(msg.Key))
        assert.Equal(t, evts[i].Subject, header(msg, HeaderSubject))
        assert.Equal(t, evts[i].Action, header(msg, HeaderAction))
        assert.Equal(t, "c-1", header(msg, HeaderCorrelationID))
        assert.Equal(t, evts[i].ID.String(), header(msg, HeaderEventID))

        decoded, err := events.Unmarshal(msg.Value)
        require.NoError(t, err)
        assert.Equal(t, evts[i].ID, decoded.ID)
    }
}

func TestPublishReportsPartialWriteAsFailure(t *testing.T) {
    writer := &fakeWriter{err: kafka.WriteErrors{nil, errors.New("leader not available")}}
    publisher, err := NewPublisher(nil, "cdc", WithWriter(writer))
    require.NoError(t, err)

    err = publisher.Publish(context.Background(), testEvents())

    require.Error(t, err)
    var writeErrs kafka.WriteErrors
    require.ErrorAs(t, err, &writeErrs)
    assert.Equal(t, 1, writeErrs.Count())
}

func TestPublishEmptyBatchIsNoop(t *testing.T) {
    writer := &fakeWriter{}
    publisher, err := NewPublisher(nil, "cdc", WithWriter(writer))
    require.NoError(t, err)

    require.NoError(t, publisher.Publish(context.Background(), nil))
    assert.Empty(t, writer.calls)
}

func TestNewPublisherRequiresBrokers(t *testing.T) {
    _, err := NewPublisher(nil, "cdc")
    require.ErrorIs(t, err, ErrBrokersRequired)
}

func TestCloseClosesWriter(t *testing.T) {
    writer := &fakeWriter{}
    publisher, err := NewPublisher(nil, "cdc", WithWriter(writer))
    require.NoError(t, err)

    require.NoError(t, publisher.Close())
    assert.True(t, writer.closed)
}

package memory

import (
    "context"
    "errors"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/poison"
)

func TestAuditRecordStoreVersionChecks(t *testing.T) {
    ctx := context.Background()
    store := NewAuditRecordStore()
    record := poison.AuditRecord{PartitionKey: "pk", RowKey: "rk", SequenceNumber: 1, Attempts: 1}

    version, err := store.Put(ctx, record, 0)
    require.NoError(t, err)

    _, err = store.Put(ctx, record, 0)
    assert.ErrorIs(t, err, poison.ErrConflict)

    record.Attempts = 2
    _, err = store.Put(ctx, record, version+1)
    assert.ErrorIs(t, err, poison.ErrConflict)

    newVersion, err := store.Put(ctx, record, version)
    require.NoError(t, err)
    assert.Greater(t, newVersion, version)

    assert.ErrorIs(t, store.Delete(ctx, "pk", "rk", version), poison.ErrConflict)
    require.NoError(t, store.Delete(ctx, "pk", "rk", newVersion))

    got, err := store.Get(ctx, "pk", "rk")
    require.NoError(t, err)
    assert.Nil(t, got)
}

func TestCaptureStoreBlocksWhileIncomplete(t *testing.T) {
    ctx := context.Background()
    store := NewCaptureStore[string]()
    first := store.Capture(events.CapturedChangeRow[string]{Value: "a"})
    store.Capture(events.CapturedChangeRow[string]{Value: "b"})

    claim, err := store.Claim(ctx, 10, false)
    require.NoError(t, err)
    require.NotNil(t, claim.Envelope)
    assert.Equal(t, first, claim.Envelope.ID)

    blocked, err := store.Claim(ctx, 10, false)
    require.NoError(t, err)
    assert.Negative(t, blocked.ReturnCode)
    assert.Nil(t, blocked.Envelope)

    resumed, err := store.Claim(ctx, 10, true)
    require.NoError(t, err)
    require.NotNil(t, resumed.Envelope)
    assert.Equal(t, first, resumed.Envelope.ID)

    require.NoError(t, store.MarkComplete(ctx, first))
    require.NoError(t, store.MarkComplete(ctx, first))
    assert.Equal(t, []int64{first}, store.Completed())

    next, err := store.Claim(ctx, 10, false)
    require.NoError(t, err)
    require.NotNil(t, next.Envelope)
    assert.Equal(t, "b", next.Rows[0].Value)
}

func TestCaptureStoreSplitsLargeEnvelopes(t *testing.T) {
    ctx := context.Background()
    store := NewCaptureStore[int]()
    store.CaptureWithID(42,
        events.CapturedChangeRow[int]{Value: 1},
        events.CapturedChangeRow[int]{Value: 2},
        events.CapturedChangeRow[int]{Value: 3},
    )

    claim, err := store.Claim(ctx, 2, false)
    require.NoError(t, err)
    assert.Equal(t, int64(42), claim.Envelope.ID)
    assert.Len(t, claim.Rows, 2)
    require.NoError(t, store.MarkComplete(ctx, 42))

    rest, err := store.Claim(ctx, 2, false)
    require.NoError(t, err)
    require.NotNil(t, rest.Envelope)
    assert.Equal(t, int64(43), rest.Envelope.ID)
    assert.Len(t, rest.Rows, 1)

    resumed, err := store.Claim(ctx, 2, true)
    require.NoError(t, err)
    assert.Equal(t, int64(43), resumed.Envelope.ID)
    require.NoError(t, store.MarkComplete(ctx, 43))

    none, err := store.Claim(ctx, 2, false)
    require.NoError(t, err)
    assert.Nil(t, none.Envelope)
    assert.Zero(t, none.ReturnCode)
}

func TestPublisherRecordsBatches(t *testing.T) {
    publisher := NewPublisher()
    batch := []events.EventData{{Subject: "Orders.1"}, {Subject: "Orders.2"}}

    require.NoError(t, publisher.Publish(context.Background(), batch))
    publisher.FailWith(errors.New("broker down"))
    assert.Error(t, publisher.Publish(context.Background(), batch))

    require.Len(t, publisher.Batches(), 1)
    assert.Len(t, publisher.Batches()[0], 2)
}

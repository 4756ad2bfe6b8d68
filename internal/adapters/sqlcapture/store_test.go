package sqlcapture

import (
    "context"
    "database/sql"
    "encoding/json"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/walletera/cdc-relay/internal/domain/events"
)

type line struct {
    Sku string `json:"sku"`
    Qty int    `json:"qty"`
}

type order struct {
    ID     int64  `json:"id"`
    Status string `json:"status"`
    Lines  []line `json:"lines,omitempty"`
}

func (o order) IntID() int64 { return o.ID }

func joinLines(parent *order, related []json.RawMessage) error {
    for _, raw := range related {
        var l line
        if err := json.Unmarshal(raw, &l); err != nil {
            return err
        }
        parent.Lines = append(parent.Lines, l)
    }
    return nil
}

func newSQLiteStore(t *testing.T, opts ...StoreOption[order]) *Store[order] {
    t.Helper()
    db, err := sql.Open("sqlite3", ":memory:")
    require.NoError(t, err)
    db.SetMaxOpenConns(1)
    t.Cleanup(func() { _ = db.Close() })

    opts = append([]StoreOption[order]{WithRelation[order]("lines", joinLines)}, opts...)
    store, err := NewStore[order](NewDB(db), DialectSQLite, "", "orders", opts...)
    require.NoError(t, err)
    require.NoError(t, store.CreateSchema(context.Background()))
    return store
}

func capture(t *testing.T, store *Store[order], op events.OperationType, o order, lines ...line) {
    t.Helper()
    payload, err := json.Marshal(o)
    require.NoError(t, err)
    var related map[string][]json.RawMessage
    for _, l := range lines {
        raw, err := json.Marshal(l)
        require.NoError(t, err)
        if related == nil {
            related = map[string][]json.RawMessage{}
        }
        related["lines"] = append(related["lines"], raw)
    }
    require.NoError(t, store.Capture(context.Background(), op, []byte{0x01, byte(o.ID)}, payload, related))
}

func TestClaimWithoutPendingChanges(t *testing.T) {
    store := newSQLiteStore(t)

    claim, err := store.Claim(context.Background(), 100, false)

    require.NoError(t, err)
    assert.Zero(t, claim.ReturnCode)
    assert.Nil(t, claim.Envelope)
}

func TestClaimAssignsPendingChangesToEnvelope(t *testing.T) {
    ctx := context.Background()
    store := newSQLiteStore(t)
    capture(t, store, events.OperationCreate, order{ID: 1, Status: "new"}, line{Sku: "a", Qty: 1}, line{Sku: "b", Qty: 2})
    capture(t, store, events.OperationUpdate, order{ID: 1, Status: "paid"})
    capture(t, store, events.OperationDelete, order{ID: 2})

    claim, err := store.Claim(ctx, 100, false)
    require.NoError(t, err)

    require.NotNil(t, claim.Envelope)
    assert.False(t, claim.Envelope.IsCompleted)
    require.Len(t, claim.Rows, 3)
    assert.Equal(t, events.OperationCreate, claim.Rows[0].OperationType)
    assert.Equal(t, []line{{Sku: "a", Qty: 1}, {Sku: "b", Qty: 2}}, claim.Rows[0].Value.Lines)
    assert.Equal(t, []byte{0x01, 0x01}, claim.Rows[0].Lsn)
    assert.Equal(t, events.OperationUpdate, claim.Rows[1].OperationType)
    assert.Empty(t, claim.Rows[1].Value.Lines)
    assert.Equal(t, events.OperationDelete, claim.Rows[2].OperationType)
    assert.Equal(t, int64(2), claim.Rows[2].Value.ID)
}

func TestClaimIsBlockedByIncompleteEnvelope(t *testing.T) {
    ctx := context.Background()
    store := newSQLiteStore(t)
    capture(t, store, events.OperationCreate, order{ID: 1})

    first, err := store.Claim(ctx, 100, false)
    require.NoError(t, err)
    require.NotNil(t, first.Envelope)

    capture(t, store, events.OperationCreate, order{ID: 2})

    blocked, err := store.Claim(ctx, 100, false)
    require.NoError(t, err)
    assert.Negative(t, blocked.ReturnCode)
    assert.Nil(t, blocked.Envelope)

    resumed, err := store.Claim(ctx, 100, true)
    require.NoError(t, err)
    require.NotNil(t, resumed.Envelope)
    assert.Equal(t, first.Envelope.ID, resumed.Envelope.ID)
    assert.Len(t, resumed.Rows, 1)

    require.NoError(t, store.MarkComplete(ctx, first.Envelope.ID))

    next, err := store.Claim(ctx, 100, false)
    require.NoError(t, err)
    require.NotNil(t, next.Envelope)
    assert.Greater(t, next.Envelope.ID, first.Envelope.ID)
    require.Len(t, next.Rows, 1)
    assert.Equal(t, int64(2), next.Rows[0].Value.ID)
}

func TestClaimHonoursMaxBatchSize(t *testing.T) {
    ctx := context.Background()
    store := newSQLiteStore(t)
    for id := int64(1); id <= 5; id++ {
        capture(t, store, events.OperationCreate, order{ID: id})
    }

    first, err := store.Claim(ctx, 2, false)
    require.NoError(t, err)
    require.Len(t, first.Rows, 2)
    require.NoError(t, store.MarkComplete(ctx, first.Envelope.ID))

    second, err := store.Claim(ctx, 2, false)
    require.NoError(t, err)
    require.Len(t, second.Rows, 2)
    assert.Equal(t, int64(3), second.Rows[0].Value.ID)
    require.NoError(t, store.MarkComplete(ctx, second.Envelope.ID))

    third, err := store.Claim(ctx, 2, false)
    require.NoError(t, err)
    require.Len(t, third.Rows, 1)
    assert.Equal(t, int64(5), third.Rows[0].Value.ID)
}

func TestClaimIncompleteWithoutIncompleteEnvelope(t *testing.T) {
    store := newSQLiteStore(t)
    capture(t, store, events.OperationCreate, order{ID: 1})

    claim, err := store.Claim(context.Background(), 100, true)

    require.NoError(t, err)
    assert.Nil(t, claim.Envelope)
}

func TestMarkCompleteIsIdempotent(t *testing.T) {
    ctx := context.Background()
    store := newSQLiteStore(t)
    capture(t, store, events.OperationCreate, order{ID: 1})
    claim, err := store.Claim(ctx, 100, false)
    require.NoError(t, err)

    require.NoError(t, store.MarkComplete(ctx, claim.Envelope.ID))
    require.NoError(t, store.MarkComplete(ctx, claim.Envelope.ID))

    resumed, err := store.Claim(ctx, 100, true)
    require.NoError(t, err)
    assert.Nil(t, resumed.Envelope)
}

func TestMarkCompleteOfUnknownEnvelope(t *testing.T) {
    store := newSQLiteStore(t)

    err := store.MarkComplete(context.Background(), 99)

    assert.ErrorIs(t, err, ErrEnvelopeNotFound)
}

func TestClaimRejectsMalformedRows(t *testing.T) {
    ctx := context.Background()
    store := newSQLiteStore(t)
    require.NoError(t, store.Capture(ctx, events.OperationType("merge"), nil, []byte(`{"id": 1}`), nil))

    _, err := store.Claim(ctx, 100, false)
    assert.ErrorIs(t, err, ErrRowMalformed)

    incomplete, err := store.Claim(ctx, 100, true)
    require.NoError(t, err)
    assert.Nil(t, incomplete.Envelope, "a failed claim must not leave an envelope behind")
}

func TestRecordDecoderWithDynamicRows(t *testing.T) {
    ctx := context.Background()
    db, err := sql.Open("sqlite3", ":memory:")
    require.NoError(t, err)
    db.SetMaxOpenConns(1)
    defer db.Close()

    store, err := NewStore[events.Record](NewDB(db), DialectSQLite, "", "customers",
        WithDecoder[events.Record](events.RecordDecoder([]string{"id"})))
    require.NoError(t, err)
    require.NoError(t, store.CreateSchema(ctx))
    require.NoError(t, store.Capture(ctx, events.OperationCreate, nil, []byte(`{"id": 7, "name": "Ada"}`), nil))

    claim, err := store.Claim(ctx, 10, false)
    require.NoError(t, err)
    require.Len(t, claim.Rows, 1)

    evt, err := events.NewEventData("Customers", events.ActionFormatPastTense, claim.Rows[0])
    require.NoError(t, err)
    assert.Equal(t, "Customers.7", evt.Subject)
    assert.Equal(t, "Created", evt.Action)
}

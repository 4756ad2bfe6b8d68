package sqlcapture_test

import (
    "context"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"

    "github.com/walletera/cdc-relay/internal/adapters/sqlcapture"
    "github.com/walletera/cdc-relay/internal/domain/events"
)

type invoice struct {
    ID int64 `json:"id"`
}

func (i invoice) IntID() int64 { return i.ID }

func TestOpenSQLite(t *testing.T) {
    ctx := context.Background()

    db, err := sqlcapture.Open(ctx, sqlcapture.DialectSQLite, ":memory:")
    require.NoError(t, err)
    t.Cleanup(func() { _ = db.Close() })

    store, err := sqlcapture.NewStore[invoice](sqlcapture.NewDB(db), sqlcapture.DialectSQLite, "", "invoices")
    require.NoError(t, err)
    require.NoError(t, store.CreateSchema(ctx))
    require.NoError(t, store.Capture(ctx, events.OperationCreate, []byte{0x01}, []byte(`{"id":7}`), nil))

    claim, err := store.Claim(ctx, 10, false)
    require.NoError(t, err)
    require.NotNil(t, claim.Envelope)
    require.Len(t, claim.Rows, 1)
    assert.Equal(t, int64(7), claim.Rows[0].Value.ID)
}

func TestOpenUnknownDriver(t *testing.T) {
    _, err := sqlcapture.Open(context.Background(), sqlcapture.Dialect("oracle"), "oracle://localhost")
    require.Error(t, err)
}

package events

import (
    "encoding/json"
    "testing"

    "github.com/google/uuid"
    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

type order struct {
    A string `json:"a"`
    B string `json:"b"`
}

func (o order) UniqueKey() []any { return []any{o.A, o.B} }

type customer struct {
    ID   int64  `json:"id"`
    Code string `json:"code"`
}

func (c customer) IntID() int64     { return c.ID }
func (c customer) StringID() string { return c.Code }

type product struct {
    ID uuid.UUID `json:"id"`
}

func (p product) GUID() uuid.UUID { return p.ID }

type tag struct {
    Name string
}

func (t tag) StringID() string { return t.Name }

type anonymous struct{}

func TestBuildSubjectWithCompositeKey(t *testing.T) {
    key, err := ExtractKey(order{A: "x", B: "y"})
    require.NoError(t, err)

    assert.Equal(t, "Orders.x,y", BuildSubject("Orders", key))
}

func TestExtractKeyPriority(t *testing.T) {
    id := uuid.New()

    tests := []struct {
        name  string
        value any
        want  []any
    }{
        {name: "integer wins over string", value: customer{ID: 7, Code: "c7"}, want: []any{int64(7)}},
        {name: "guid", value: product{ID: id}, want: []any{id}},
        {name: "string", value: tag{Name: "blue"}, want: []any{"blue"}},
        {name: "composite", value: order{A: "1", B: "2"}, want: []any{"1", "2"}},
    }

    for _, tt := range tests {
        t.Run(tt.name, func(t *testing.T) {
            got, err := ExtractKey(tt.value)
            require.NoError(t, err)
            assert.Equal(t, tt.want, got)
        })
    }
}

func TestExtractKeyWithoutCapabilityFails(t *testing.T) {
    _, err := ExtractKey(anonymous{})
    assert.ErrorIs(t, err, ErrKeyUnavailable)

    _, err = NewEventData("Things", ActionFormatNone, CapturedChangeRow[anonymous]{OperationType: OperationCreate})
    assert.ErrorIs(t, err, ErrKeyUnavailable)
}

func TestActionFormats(t *testing.T) {
    tests := []struct {
        format ActionFormat
        op     OperationType
        want   string
    }{
        {ActionFormatNone, OperationCreate, "Create"},
        {ActionFormatUpperCase, OperationUpdate, "UPDATE"},
        {ActionFormatPastTense, OperationCreate, "Created"},
        {ActionFormatPastTense, OperationUpdate, "Updated"},
        {ActionFormatPastTense, OperationDelete, "Deleted"},
        {ActionFormatPastTenseUpperCase, OperationDelete, "DELETED"},
    }

    for _, tt := range tests {
        assert.Equal(t, tt.want, tt.format.Action(tt.op))
    }
}

func TestParseOperationType(t *testing.T) {
    for raw, want := range map[string]OperationType{
        "Insert": OperationCreate,
        "c":      OperationCreate,
        "U":      OperationUpdate,
        "delete": OperationDelete,
    } {
        got, err := ParseOperationType(raw)
        require.NoError(t, err, raw)
        assert.Equal(t, want, got, raw)
    }

    _, err := ParseOperationType("truncate")
    assert.ErrorIs(t, err, ErrOperationTypeInvalid)
}

func TestParseActionFormat(t *testing.T) {
    f, err := ParseActionFormat("past-tense")
    require.NoError(t, err)
    assert.Equal(t, ActionFormatPastTense, f)

    _, err = ParseActionFormat("future")
    assert.ErrorIs(t, err, ErrActionFormatInvalid)
}

func TestNewEventData(t *testing.T) {
    row := CapturedChangeRow[customer]{Value: customer{ID: 42}, OperationType: OperationUpdate, Lsn: []byte{0x01}}

    e, err := NewEventData("Customers", ActionFormatPastTense, row, WithCorrelationID("corr-1"), WithUsername("alice"))
    require.NoError(t, err)

    assert.NotEqual(t, uuid.Nil, e.ID)
    assert.Equal(t, "Customers.42", e.Subject)
    assert.Equal(t, "Updated", e.Action)
    assert.Equal(t, []any{int64(42)}, e.Key)
    assert.Equal(t, "corr-1", e.CorrelationID)
    assert.Equal(t, "alice", e.Username)
    assert.False(t, e.Timestamp.IsZero())
}

func TestWireRoundTripKeepsValueDecodable(t *testing.T) {
    e, err := NewEventData("Orders", ActionFormatNone, CapturedChangeRow[order]{Value: order{A: "x", B: "y"}, OperationType: OperationCreate})
    require.NoError(t, err)

    raw, err := Marshal(e)
    require.NoError(t, err)

    decoded, err := Unmarshal(raw)
    require.NoError(t, err)
    assert.Equal(t, e.ID, decoded.ID)
    assert.Equal(t, "Orders.x,y", decoded.Subject)
    assert.IsType(t, json.RawMessage{}, decoded.Value)

    value, err := DecodeValue[order](decoded)
    require.NoError(t, err)
    assert.Equal(t, order{A: "x", B: "y"}, value)
}

func TestUnmarshalRequiresSubject(t *testing.T) {
    _, err := Unmarshal([]byte(`{"action":"Created"}`))
    assert.ErrorIs(t, err, ErrSubjectRequired)
}

func TestRecordKeyFromFields(t *testing.T) {
    decode := RecordDecoder([]string{"region", "id"})

    record, err := decode([]byte(`{"id": 42, "region": "eu", "total": 10.5}`))
    require.NoError(t, err)

    key, err := ExtractKey(record)
    require.NoError(t, err)
    assert.Equal(t, "Orders.eu,42", BuildSubject("Orders", key))
}

func TestRecordWithoutKeyFieldIsKeyless(t *testing.T) {
    decode := RecordDecoder([]string{"id"})

    record, err := decode([]byte(`{"name": "widget"}`))
    require.NoError(t, err)

    _, err = ExtractKey(record)
    assert.ErrorIs(t, err, ErrKeyUnavailable)
}

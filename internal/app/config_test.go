package app

import (
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestParseInboundTransport(t *testing.T) {
    tests := map[string]InboundTransport{
        "kafka":    InboundKafka,
        "RabbitMQ": InboundRabbitMQ,
    }
    for raw, expected := range tests {
        t.Run(raw, func(t *testing.T) {
            transport, err := ParseInboundTransport(raw)
            require.NoError(t, err)
            assert.Equal(t, expected, transport)
        })
    }

    _, err := ParseInboundTransport("kafak")
    require.Error(t, err)
    assert.Contains(t, err.Error(), `unsupported subscriber transport "kafak"`)
}

func TestParsePublisherKind(t *testing.T) {
    kind, err := ParsePublisherKind("NATS")
    require.NoError(t, err)
    assert.Equal(t, PublisherNats, kind)

    _, err = ParsePublisherKind("sqs")
    require.Error(t, err)
}

func TestParseAuditStoreKind(t *testing.T) {
    kind, err := ParseAuditStoreKind("redis")
    require.NoError(t, err)
    assert.Equal(t, AuditStoreRedis, kind)

    _, err = ParseAuditStoreKind("")
    require.Error(t, err)
}

package app

import (
    "fmt"
    "strings"
    "time"

    "github.com/walletera/cdc-relay/internal/domain/events"
)

type Optional[T any] struct {
    Value T
    Set   bool
}

func NewOptional[T any](value T) Optional[T] {
    return Optional[T]{Value: value, Set: true}
}

type PublisherKind string

const (
    PublisherMemory   PublisherKind = "memory"
    PublisherKafka    PublisherKind = "kafka"
    PublisherRabbitMQ PublisherKind = "rabbitmq"
    PublisherNats     PublisherKind = "nats"
)

func ParsePublisherKind(raw string) (PublisherKind, error) {
    kind := PublisherKind(strings.ToLower(raw))
    switch kind {
    case PublisherMemory, PublisherKafka, PublisherRabbitMQ, PublisherNats:
        return kind, nil
    }
    return "", fmt.Errorf("unsupported publisher %q", raw)
}

type AuditStoreKind string

const (
    AuditStoreMemory  AuditStoreKind = "memory"
    AuditStoreMongoDB AuditStoreKind = "mongodb"
    AuditStoreRedis   AuditStoreKind = "redis"
)

func ParseAuditStoreKind(raw string) (AuditStoreKind, error) {
    kind := AuditStoreKind(strings.ToLower(raw))
    switch kind {
    case AuditStoreMemory, AuditStoreMongoDB, AuditStoreRedis:
        return kind, nil
    }
    return "", fmt.Errorf("unsupported audit store %q", raw)
}

type InboundTransport string

const (
    InboundKafka    InboundTransport = "kafka"
    InboundRabbitMQ InboundTransport = "rabbitmq"
)

func ParseInboundTransport(raw string) (InboundTransport, error) {
    transport := InboundTransport(strings.ToLower(raw))
    switch transport {
    case InboundKafka, InboundRabbitMQ:
        return transport, nil
    }
    return "", fmt.Errorf("unsupported subscriber transport %q", raw)
}

// CaptureConfig describes the capture tables the outbox reads from and how
// their rows become events.
type CaptureConfig struct {
    Dialect       string
    URL           string
    Schema        string
    Entity        string
    KeyFields     []string
    CreateSchema  bool
    SubjectPrefix string
    ActionFormat  events.ActionFormat
    Username      string
    Interval      time.Duration
    MaxBatchSize  int
}

type KafkaConfig struct {
    Brokers []string
    Topic   string
}

type RabbitMQConfig struct {
    Host     string
    Port     int
    User     string
    Password string
    Exchange string
}

type NatsConfig struct {
    URL           string
    Stream        string
    SubjectPrefix string
}

// SubscriberConfig describes the inbound stream the subscriber host consumes.
type SubscriberConfig struct {
    Transport      InboundTransport
    Topic          string
    ConsumerGroup  string
    Source         string
    MaxAttempts    int
    SystemUsername string
    // RabbitMQQueue and RabbitMQBindings are used with the rabbitmq transport.
    RabbitMQQueue    string
    RabbitMQBindings []string
    // EventLogSubject registers a subscriber that logs every event matching
    // the template. Empty disables it.
    EventLogSubject string
}

type OperatorAPIConfig struct {
    OperatorAPIHttpServerPort int
    AuthServiceBase64PubKey   string
}

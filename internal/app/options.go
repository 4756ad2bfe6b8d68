package app

import (
    "log/slog"

    "github.com/walletera/cdc-relay/internal/adapters/input/kafka"
    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/outbox"
    "github.com/walletera/cdc-relay/internal/domain/poison"
    "github.com/walletera/cdc-relay/internal/domain/subscriber"
)

type Option func(app *App)

func WithCaptureConfig(config CaptureConfig) func(a *App) {
    return func(a *App) { a.captureConfig = NewOptional[CaptureConfig](config) }
}

// WithCaptureStore replaces the relational capture store. The capture config
// still provides the event building settings.
func WithCaptureStore(store outbox.CaptureStore[events.Record]) func(a *App) {
    return func(a *App) { a.captureStore = store }
}

func WithPublisherKind(kind PublisherKind) func(a *App) {
    return func(a *App) { a.publisherKind = kind }
}

// WithPublisher replaces the publisher built from the publisher kind.
func WithPublisher(publisher outbox.Publisher) func(a *App) {
    return func(a *App) { a.publisher = publisher }
}

func WithKafkaConfig(config KafkaConfig) func(a *App) {
    return func(a *App) { a.kafkaConfig = config }
}

func WithRabbitMQConfig(config RabbitMQConfig) func(a *App) {
    return func(a *App) { a.rabbitmqConfig = config }
}

func WithNatsConfig(config NatsConfig) func(a *App) {
    return func(a *App) { a.natsConfig = config }
}

func WithAuditStoreKind(kind AuditStoreKind) func(a *App) {
    return func(a *App) { a.auditStoreKind = kind }
}

// WithAuditStore replaces the audit store built from the audit store kind.
func WithAuditStore(store poison.Store) func(a *App) {
    return func(a *App) { a.auditStore = store }
}

func WithMongoDBURL(url string) func(a *App) { return func(a *App) { a.mongodbURL = url } }

func WithRedisAddr(addr string) func(a *App) { return func(a *App) { a.redisAddr = addr } }

func WithSubscriberConfig(config SubscriberConfig) func(a *App) {
    return func(a *App) { a.subscriberConfig = NewOptional[SubscriberConfig](config) }
}

// WithSubscribers registers subscribers in the subscriber host.
func WithSubscribers(subscribers ...subscriber.Subscriber) func(a *App) {
    return func(a *App) { a.subscribers = append(a.subscribers, subscribers...) }
}

// WithInboundFetcher replaces the kafka reader of the subscriber host.
func WithInboundFetcher(fetcher kafka.Fetcher) func(a *App) {
    return func(a *App) { a.inboundFetcher = fetcher }
}

func WithOperatorAPIConfig(config OperatorAPIConfig) func(a *App) {
    return func(a *App) { a.operatorAPIConfig = NewOptional[OperatorAPIConfig](config) }
}

func WithLogHandler(handler slog.Handler) func(app *App) {
    return func(app *App) { app.logHandler = handler }
}

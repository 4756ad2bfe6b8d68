package main

import (
    "context"
    "os"
    "os/signal"
    "strconv"
    "strings"
    "syscall"
    "time"

    "github.com/walletera/cdc-relay/internal/app"
    "github.com/walletera/cdc-relay/internal/domain/events"
)

const shutdownTimeout = 10 * time.Second

func main() {
    ctx, ctxCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
    defer ctxCancel()

    var opts []app.Option

    publisherKind, err := app.ParsePublisherKind(getEnv("PUBLISHER", string(app.PublisherMemory)))
    if err != nil {
        panic(err)
    }
    opts = append(opts, app.WithPublisherKind(publisherKind))

    auditStoreKind, err := app.ParseAuditStoreKind(getEnv("AUDIT_STORE", string(app.AuditStoreMemory)))
    if err != nil {
        panic(err)
    }
    opts = append(opts, app.WithAuditStoreKind(auditStoreKind))

    if captureDBURL, found := os.LookupEnv("CAPTURE_DB_URL"); found {
        actionFormat, err := events.ParseActionFormat(getEnv("ACTION_FORMAT", "None"))
        if err != nil {
            panic(err)
        }
        opts = append(opts, app.WithCaptureConfig(app.CaptureConfig{
            Dialect:       mustGetEnv("CAPTURE_DB_DIALECT"),
            URL:           captureDBURL,
            Schema:        getEnv("CAPTURE_SCHEMA", ""),
            Entity:        mustGetEnv("CAPTURE_ENTITY"),
            KeyFields:     splitList(mustGetEnv("KEY_FIELDS")),
            CreateSchema:  getBoolEnv("CAPTURE_CREATE_SCHEMA"),
            SubjectPrefix: mustGetEnv("SUBJECT_PREFIX"),
            ActionFormat:  actionFormat,
            Username:      getEnv("SYSTEM_USERNAME", ""),
            Interval:      time.Duration(getIntEnv("OUTBOX_INTERVAL_MS", 5000)) * time.Millisecond,
            MaxBatchSize:  getIntEnv("OUTBOX_MAX_BATCH_SIZE", 100),
        }))
    }

    if brokers, found := os.LookupEnv("KAFKA_BROKERS"); found {
        opts = append(opts, app.WithKafkaConfig(app.KafkaConfig{
            Brokers: splitList(brokers),
            Topic:   getEnv("KAFKA_TOPIC", ""),
        }))
    }

    if rabbitmqHost, found := os.LookupEnv("RABBITMQ_HOST"); found {
        opts = append(opts, app.WithRabbitMQConfig(app.RabbitMQConfig{
            Host:     rabbitmqHost,
            Port:     mustGetIntEnv("RABBITMQ_PORT"),
            User:     mustGetEnv("RABBITMQ_USER"),
            Password: mustGetEnv("RABBITMQ_PASSWORD"),
            Exchange: getEnv("RABBITMQ_EXCHANGE", "cdc-relay.events"),
        }))
    }

    if natsURL, found := os.LookupEnv("NATS_URL"); found {
        opts = append(opts, app.WithNatsConfig(app.NatsConfig{
            URL:           natsURL,
            Stream:        mustGetEnv("NATS_STREAM"),
            SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "cdc"),
        }))
    }

    if mongodbURL, found := os.LookupEnv("MONGODB_URL"); found {
        opts = append(opts, app.WithMongoDBURL(mongodbURL))
    }

    if redisAddr, found := os.LookupEnv("REDIS_ADDR"); found {
        opts = append(opts, app.WithRedisAddr(redisAddr))
    }

    if subscriberTopic, found := os.LookupEnv("SUBSCRIBER_TOPIC"); found {
        inboundTransport, err := app.ParseInboundTransport(getEnv("SUBSCRIBER_TRANSPORT", string(app.InboundKafka)))
        if err != nil {
            panic(err)
        }
        opts = append(opts, app.WithSubscriberConfig(app.SubscriberConfig{
            Transport:        inboundTransport,
            Topic:            subscriberTopic,
            ConsumerGroup:    mustGetEnv("SUBSCRIBER_CONSUMER_GROUP"),
            Source:           getEnv("SUBSCRIBER_SOURCE", ""),
            MaxAttempts:      getIntEnv("POISON_MAX_ATTEMPTS", 0),
            SystemUsername:   getEnv("SYSTEM_USERNAME", ""),
            RabbitMQQueue:    getEnv("SUBSCRIBER_RABBITMQ_QUEUE", ""),
            RabbitMQBindings: splitList(getEnv("SUBSCRIBER_RABBITMQ_BINDINGS", "#")),
            EventLogSubject:  getEnv("SUBSCRIBER_EVENT_LOG_SUBJECT", ""),
        }))
    }

    if operatorAPIPort, found := os.LookupEnv("OPERATOR_API_PORT"); found {
        port, err := strconv.Atoi(operatorAPIPort)
        if err != nil {
            panic("env var is not an int: OPERATOR_API_PORT")
        }
        opts = append(opts, app.WithOperatorAPIConfig(app.OperatorAPIConfig{
            OperatorAPIHttpServerPort: port,
            AuthServiceBase64PubKey:   getEnv("BASE64_AUTH_PUB_KEY", ""),
        }))
    }

    app, err := app.NewApp(opts...)
    if err != nil {
        panic(err)
    }

    err = app.Run(ctx)
    if err != nil {
        panic(err)
    }

    <-ctx.Done()

    shutdownCtx, shutdownCtxCancel := context.WithTimeout(context.Background(), shutdownTimeout)
    defer shutdownCtxCancel()

    app.Stop(shutdownCtx)
}

func mustGetEnv(envName string) string {
    value, found := os.LookupEnv(envName)
    if !found {
        panic("env var not defined: " + envName)
    }
    return value
}

func mustGetIntEnv(envName string) int {
    strEnvValue := mustGetEnv(envName)
    intEnvValue, err := strconv.Atoi(strEnvValue)
    if err != nil {
        panic("env var is not an int: " + envName)
    }
    return intEnvValue
}

func getEnv(envName string, defaultValue string) string {
    value, found := os.LookupEnv(envName)
    if !found {
        return defaultValue
    }
    return value
}

func getIntEnv(envName string, defaultValue int) int {
    if _, found := os.LookupEnv(envName); !found {
        return defaultValue
    }
    return mustGetIntEnv(envName)
}

func getBoolEnv(envName string) bool {
    value, err := strconv.ParseBool(getEnv(envName, "false"))
    if err != nil {
        panic("env var is not a bool: " + envName)
    }
    return value
}

func splitList(raw string) []string {
    var items []string
    for _, item := range strings.Split(raw, ",") {
        item = strings.TrimSpace(item)
        if item != "" {
            items = append(items, item)
        }
    }
    return items
}

package app

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "net/http"
    "strconv"
    "sync"
    "time"

    goredis "github.com/redis/go-redis/v9"
    "go.mongodb.org/mongo-driver/v2/mongo"
    "go.mongodb.org/mongo-driver/v2/mongo/options"
    "go.opentelemetry.io/otel"
    "go.uber.org/zap"
    "go.uber.org/zap/exp/zapslog"
    "go.uber.org/zap/zapcore"

    "github.com/walletera/cdc-relay/internal/adapters/input/http/operator"
    inputkafka "github.com/walletera/cdc-relay/internal/adapters/input/kafka"
    inputrabbitmq "github.com/walletera/cdc-relay/internal/adapters/input/rabbitmq"
    "github.com/walletera/cdc-relay/internal/adapters/memory"
    "github.com/walletera/cdc-relay/internal/adapters/mongodb"
    kafkapublisher "github.com/walletera/cdc-relay/internal/adapters/publishers/kafka"
    natspublisher "github.com/walletera/cdc-relay/internal/adapters/publishers/nats"
    rabbitmqpublisher "github.com/walletera/cdc-relay/internal/adapters/publishers/rabbitmq"
    redisstore "github.com/walletera/cdc-relay/internal/adapters/redis"
    "github.com/walletera/cdc-relay/internal/adapters/sqlcapture"
    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/outbox"
    "github.com/walletera/cdc-relay/internal/domain/poison"
    "github.com/walletera/cdc-relay/internal/domain/subscriber"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const (
    ServiceName = "cdc-relay"
    tracerName  = "github.com/walletera/cdc-relay"
)

type App struct {
    captureConfig     Optional[CaptureConfig]
    captureStore      outbox.CaptureStore[events.Record]
    publisherKind     PublisherKind
    publisher         outbox.Publisher
    kafkaConfig       KafkaConfig
    rabbitmqConfig    RabbitMQConfig
    natsConfig        NatsConfig
    auditStoreKind    AuditStoreKind
    auditStore        poison.Store
    mongodbURL        string
    redisAddr         string
    subscriberConfig  Optional[SubscriberConfig]
    subscribers       []subscriber.Subscriber
    inboundFetcher    inputkafka.Fetcher
    operatorAPIConfig Optional[OperatorAPIConfig]
    logHandler        slog.Handler
    logger            *slog.Logger

    runner            *outbox.Runner[events.Record]
    consumerCancel    context.CancelFunc
    consumerDone      sync.WaitGroup
    httpServersToStop []*http.Server
    closers           []func(ctx context.Context) error
}

func NewApp(opts ...Option) (*App, error) {
    app := &App{}
    err := setDefaultOpts(app)
    if err != nil {
        return nil, fmt.Errorf("failed setting default options: %w", err)
    }
    for _, opt := range opts {
        opt(app)
    }
    return app, nil
}

func (app *App) Run(ctx context.Context) error {
    app.logger = slog.
        New(app.logHandler).
        With(logattr.ServiceName(ServiceName))

    if app.subscriberConfig.Set {
        err := app.startSubscriberHost(ctx)
        if err != nil {
            return fmt.Errorf("failed starting subscriber host: %w", err)
        }
    }

    if app.captureConfig.Set || app.captureStore != nil {
        err := app.startOutbox(ctx)
        if err != nil {
            return fmt.Errorf("failed starting outbox: %w", err)
        }
    }

    if app.operatorAPIConfig.Set {
        httpServer, err := app.startOperatorAPIHTTPServer(ctx)
        if err != nil {
            return fmt.Errorf("failed starting operator api http server: %w", err)
        }
        app.httpServersToStop = append(app.httpServersToStop, httpServer)
    }

    app.logger.Info("cdc-relay started")

    return nil
}

func (app *App) Stop(ctx context.Context) {
    if app.runner != nil {
        err := app.runner.Stop(ctx)
        if err != nil {
            app.logger.Error("error stopping outbox runner", logattr.Error(err.Error()))
        }
    }
    if app.consumerCancel != nil {
        app.consumerCancel()
        app.consumerDone.Wait()
    }
    for _, httpServer := range app.httpServersToStop {
        err := httpServer.Shutdown(ctx)
        if err != nil {
            app.logger.Error("error stopping http server", logattr.Error(err.Error()))
        }
    }
    for i := len(app.closers) - 1; i >= 0; i-- {
        err := app.closers[i](ctx)
        if err != nil {
            app.logger.Error("error releasing resource", logattr.Error(err.Error()))
        }
    }
    app.logger.Info("cdc-relay stopped")
}

func setDefaultOpts(app *App) error {
    zapLogger, err := newZapLogger()
    if err != nil {
        return err
    }
    app.logHandler = zapslog.NewHandler(zapLogger.Core())
    app.publisherKind = PublisherMemory
    app.auditStoreKind = AuditStoreMemory
    return nil
}

func newZapLogger() (*zap.Logger, error) {
    encoderConfig := zap.NewProductionEncoderConfig()
    encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
    zapConfig := zap.Config{
        Level:             zap.NewAtomicLevelAt(zap.DebugLevel),
        Development:       false,
        DisableStacktrace: true,
        Sampling: &zap.SamplingConfig{
            Initial:    100,
            Thereafter: 100,
        },
        Encoding:         "json",
        EncoderConfig:    encoderConfig,
        OutputPaths:      []string{"stderr"},
        ErrorOutputPaths: []string{"stderr"},
    }
    return zapConfig.Build()
}

func (app *App) addCloser(closer func(ctx context.Context) error) {
    app.closers = append(app.closers, closer)
}

func (app *App) startOutbox(ctx context.Context) error {
    config := app.captureConfig.Value

    store, err := app.createCaptureStore(ctx, config)
    if err != nil {
        return err
    }

    publisher, err := app.createPublisher(ctx)
    if err != nil {
        return err
    }

    executor, err := outbox.NewExecutor[events.Record](
        store,
        publisher,
        config.SubjectPrefix,
        outbox.WithLogger(app.logger.With(logattr.Component("outbox.Executor"))),
        outbox.WithTracer(otel.Tracer(tracerName)),
        outbox.WithActionFormat(config.ActionFormat),
        outbox.WithUsername(config.Username),
    )
    if err != nil {
        return fmt.Errorf("creating outbox executor: %w", err)
    }

    app.runner = outbox.NewRunner(
        executor,
        outbox.WithInterval(config.Interval),
        outbox.WithMaxBatchSize(config.MaxBatchSize),
        outbox.WithRunnerLogger(app.logger.With(logattr.Component("outbox.Runner"))),
    )
    app.runner.Start()

    return nil
}

func (app *App) createCaptureStore(ctx context.Context, config CaptureConfig) (outbox.CaptureStore[events.Record], error) {
    if app.captureStore != nil {
        return app.captureStore, nil
    }

    dialect, err := sqlcapture.ParseDialect(config.Dialect)
    if err != nil {
        return nil, err
    }
    db, err := sqlcapture.Open(ctx, dialect, config.URL)
    if err != nil {
        return nil, err
    }
    app.addCloser(func(context.Context) error { return db.Close() })

    store, err := sqlcapture.NewStore[events.Record](
        sqlcapture.NewDB(db),
        dialect,
        config.Schema,
        config.Entity,
        sqlcapture.WithDecoder[events.Record](events.RecordDecoder(config.KeyFields)),
        sqlcapture.WithLogger[events.Record](app.logger.With(logattr.Component("sqlcapture.Store"))),
    )
    if err != nil {
        return nil, fmt.Errorf("creating capture store: %w", err)
    }

    if config.CreateSchema {
        err = store.CreateSchema(ctx)
        if err != nil {
            return nil, err
        }
    }

    return store, nil
}

func (app *App) createPublisher(ctx context.Context) (outbox.Publisher, error) {
    if app.publisher != nil {
        return app.publisher, nil
    }

    logger := app.logger.With(logattr.Component(fmt.Sprintf("publishers.%s", app.publisherKind)))

    switch app.publisherKind {
    case PublisherKafka:
        publisher, err := kafkapublisher.NewPublisher(
            app.kafkaConfig.Brokers,
            app.kafkaConfig.Topic,
            kafkapublisher.WithLogger(logger),
        )
        if err != nil {
            return nil, fmt.Errorf("creating kafka publisher: %w", err)
        }
        app.addCloser(func(context.Context) error { return publisher.Close() })
        return publisher, nil

    case PublisherRabbitMQ:
        client, err := rabbitmqpublisher.NewClient(
            app.rabbitmqConfig.Host,
            uint(app.rabbitmqConfig.Port),
            app.rabbitmqConfig.User,
            app.rabbitmqConfig.Password,
            app.rabbitmqConfig.Exchange,
        )
        if err != nil {
            return nil, fmt.Errorf("creating rabbitmq client: %w", err)
        }
        app.addCloser(func(context.Context) error { return client.Close() })
        return rabbitmqpublisher.NewPublisher(
            client,
            rabbitmqpublisher.WithExchangeName(app.rabbitmqConfig.Exchange),
            rabbitmqpublisher.WithLogger(logger),
        )

    case PublisherNats:
        nc, js, err := natspublisher.Connect(ctx, app.natsConfig.URL, app.natsConfig.Stream, app.natsConfig.SubjectPrefix)
        if err != nil {
            return nil, err
        }
        app.addCloser(func(context.Context) error { return nc.Drain() })
        return natspublisher.NewPublisher(
            js,
            natspublisher.WithSubjectPrefix(app.natsConfig.SubjectPrefix),
            natspublisher.WithLogger(logger),
        )

    default:
        logger.Warn("no event transport configured, events are kept in memory")
        return memory.NewPublisher(), nil
    }
}

func (app *App) createAuditStore(ctx context.Context) (poison.Store, error) {
    if app.auditStore != nil {
        return app.auditStore, nil
    }

    switch app.auditStoreKind {
    case AuditStoreMongoDB:
        // Use the SetServerAPIOptions() method to set the Stable API version to 1
        serverAPI := options.ServerAPI(options.ServerAPIVersion1)
        opts := options.Client().ApplyURI(app.mongodbURL).SetServerAPIOptions(serverAPI)

        client, err := mongo.Connect(opts)
        if err != nil {
            return nil, fmt.Errorf("error connecting to mongodb: %w", err)
        }
        app.addCloser(client.Disconnect)

        app.auditStore = mongodb.NewAuditRecordStore(
            client,
            mongodb.DefaultDatabaseName,
            mongodb.DefaultRecordsCollection,
            mongodb.DefaultSkippedCollection,
        )

    case AuditStoreRedis:
        client := goredis.NewUniversalClient(&goredis.UniversalOptions{
            Addrs: []string{app.redisAddr},
        })
        err := client.Ping(ctx).Err()
        if err != nil {
            _ = client.Close()
            return nil, fmt.Errorf("error connecting to redis: %w", err)
        }
        app.addCloser(func(context.Context) error { return client.Close() })

        app.auditStore = redisstore.NewAuditRecordStore(client, redisstore.DefaultKeyPrefix)

    default:
        app.auditStore = memory.NewAuditRecordStore()
    }

    return app.auditStore, nil
}

func (app *App) createSubscriberHost() (*subscriber.Host, error) {
    config := app.subscriberConfig.Value

    subscribers := app.subscribers
    if config.EventLogSubject != "" {
        subscribers = append(subscribers, newEventLogSubscriber(
            config.EventLogSubject,
            app.logger.With(logattr.Component("subscriber.EventLog")),
        ))
    }

    registry, err := subscriber.NewRegistry(subscribers...)
    if err != nil {
        return nil, fmt.Errorf("creating subscriber registry: %w", err)
    }

    return subscriber.NewHost(
        registry,
        subscriber.WithSystemUsername(config.SystemUsername),
        subscriber.WithLogger(app.logger.With(logattr.Component("subscriber.Host"))),
    )
}

func (app *App) startSubscriberHost(ctx context.Context) error {
    config := app.subscriberConfig.Value

    host, err := app.createSubscriberHost()
    if err != nil {
        return err
    }

    if config.Transport == InboundRabbitMQ {
        return app.startRabbitMQProcessor(ctx, host)
    }

    auditStore, err := app.createAuditStore(ctx)
    if err != nil {
        return err
    }

    fetcher := app.inboundFetcher
    if fetcher == nil {
        fetcher = inputkafka.NewReader(app.kafkaConfig.Brokers, config.Topic, config.ConsumerGroup)
    }

    consumerLogger := app.logger.With(logattr.Component("kafka.Consumer"))
    newWorker := func(partition int) (*subscriber.PartitionWorker, error) {
        partitionLogger := consumerLogger.With(
            logattr.ConsumerGroup(config.ConsumerGroup),
            logattr.Partition(strconv.Itoa(partition)),
        )
        coordinator, err := poison.NewCoordinator(
            auditStore,
            poison.WithLogger(partitionLogger.With(logattr.Component("poison.Coordinator"))),
        )
        if err != nil {
            return nil, err
        }
        return subscriber.NewPartitionWorker(
            host,
            coordinator,
            subscriber.WithMaxAttempts(config.MaxAttempts),
            subscriber.WithWorkerLogger(partitionLogger),
        )
    }

    consumer, err := inputkafka.NewConsumer(
        fetcher,
        config.Topic,
        config.ConsumerGroup,
        newWorker,
        inputkafka.WithSource(config.Source),
        inputkafka.WithLogger(consumerLogger),
    )
    if err != nil {
        return fmt.Errorf("creating kafka consumer: %w", err)
    }
    app.addCloser(func(context.Context) error { return consumer.Close() })

    consumerCtx, cancel := context.WithCancel(ctx)
    app.consumerCancel = cancel
    app.consumerDone.Add(1)
    go func() {
        defer app.consumerDone.Done()
        err := consumer.Run(consumerCtx)
        if err != nil {
            consumerLogger.Error("kafka consumer stopped", logattr.Error(err.Error()))
        }
    }()

    return nil
}

func (app *App) startRabbitMQProcessor(ctx context.Context, host *subscriber.Host) error {
    config := app.subscriberConfig.Value

    queue := config.RabbitMQQueue
    if queue == "" {
        queue = inputrabbitmq.DefaultQueueName
    }

    client, err := inputrabbitmq.NewClient(
        app.rabbitmqConfig.Host,
        uint(app.rabbitmqConfig.Port),
        app.rabbitmqConfig.User,
        app.rabbitmqConfig.Password,
        app.rabbitmqConfig.Exchange,
        queue,
        config.RabbitMQBindings...,
    )
    if err != nil {
        return fmt.Errorf("creating rabbitmq client: %w", err)
    }

    processorCtx, cancel := context.WithCancel(ctx)
    app.consumerCancel = cancel

    processor := inputrabbitmq.NewProcessor(
        client,
        host,
        app.logger.With(logattr.Component("rabbitmq.MessageProcessor")),
    )
    err = processor.Start(processorCtx)
    if err != nil {
        return fmt.Errorf("error starting rabbitmq message processor: %w", err)
    }

    return nil
}

func (app *App) startOperatorAPIHTTPServer(ctx context.Context) (*http.Server, error) {
    config := app.operatorAPIConfig.Value
    logger := app.logger.With(logattr.Component("http.OperatorAPIHandler"))

    auditStore, err := app.createAuditStore(ctx)
    if err != nil {
        return nil, err
    }

    coordinator, err := poison.NewCoordinator(
        auditStore,
        poison.WithLogger(logger.With(logattr.Component("poison.Coordinator"))),
    )
    if err != nil {
        return nil, err
    }

    var authenticator *operator.Authenticator
    if config.AuthServiceBase64PubKey != "" {
        authenticator, err = operator.NewAuthenticator(config.AuthServiceBase64PubKey)
        if err != nil {
            return nil, err
        }
    }

    var source, stream string
    if app.subscriberConfig.Set {
        source = app.subscriberConfig.Value.Source
        stream = app.subscriberConfig.Value.Topic
    }

    httpServer := &http.Server{
        Addr:    fmt.Sprintf("0.0.0.0:%d", config.OperatorAPIHttpServerPort),
        Handler: operator.NewHandler(coordinator, authenticator, source, stream, logger),
    }

    go func() {
        defer logger.Info("http server stopped")
        if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
            logger.Error("http server error", logattr.Error(err.Error()))
        }
    }()

    logger.Info("http server started")

    return httpServer, nil
}

package tests

import (
    "context"
    "fmt"
    "log/slog"
    "strings"
    "time"

    "github.com/cucumber/godog"
    slogwatcher "github.com/walletera/logs-watcher/slog"
    "go.uber.org/zap"
    "go.uber.org/zap/exp/zapslog"
    "go.uber.org/zap/zapcore"

    "github.com/walletera/cdc-relay/internal/adapters/memory"
    "github.com/walletera/cdc-relay/internal/app"
    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/poison"
)

const (
    appKey                    = "app"
    appCtxCancelFuncKey       = "appCtxCancelFuncKey"
    logsWatcherKey            = "logsWatcher"
    captureStoreKey           = "captureStore"
    publisherKey              = "publisher"
    auditStoreKey             = "auditStore"
    logsWatcherWaitForTimeout = 5 * time.Second
    outboxInterval            = 50 * time.Millisecond
)

// scenarioAuditStore is the audit store a scenario seeds and inspects. It is
// shared with the running cdc-relay.
type scenarioAuditStore interface {
    poison.Store
    ListSkipped(ctx context.Context, partitionKey, rowKey string, limit int) ([]poison.AuditRecord, error)
}

var newScenarioAuditStore = func(context.Context) (scenarioAuditStore, error) {
    return memory.NewAuditRecordStore(), nil
}

func beforeScenarioHook(ctx context.Context, _ *godog.Scenario) (context.Context, error) {
    handler, err := newZapHandler()
    if err != nil {
        return ctx, err
    }
    logsWatcher := slogwatcher.NewWatcher(handler)
    ctx = context.WithValue(ctx, logsWatcherKey, logsWatcher)

    auditStore, err := newScenarioAuditStore(ctx)
    if err != nil {
        return ctx, err
    }
    ctx = context.WithValue(ctx, auditStoreKey, auditStore)
    ctx = context.WithValue(ctx, captureStoreKey, memory.NewCaptureStore[events.Record]())
    ctx = context.WithValue(ctx, publisherKey, memory.NewPublisher())

    return ctx, nil
}

func afterScenarioHook(ctx context.Context, _ *godog.Scenario, err error) (context.Context, error) {
    logsWatcher := logsWatcherFromCtx(ctx)

    cdcRelayApp, ok := ctx.Value(appKey).(*app.App)
    if ok {
        cdcRelayApp.Stop(ctx)
        foundLogEntry := logsWatcher.WaitFor("cdc-relay stopped", logsWatcherWaitForTimeout)
        if !foundLogEntry {
            return ctx, fmt.Errorf("app termination failed (didn't find expected log entry)")
        }
        if cancel, ok := ctx.Value(appCtxCancelFuncKey).(context.CancelFunc); ok {
            cancel()
        }
    }

    err = logsWatcher.Stop()
    if err != nil {
        return ctx, fmt.Errorf("failed stopping the logsWatcher: %w", err)
    }

    return ctx, nil
}

func runCdcRelay(ctx context.Context, opts ...app.Option) (context.Context, error) {
    logHandler := logsWatcherFromCtx(ctx).DecoratedHandler()

    appCtx, appCtxCancelFunc := context.WithCancel(ctx)

    opts = append(opts, app.WithLogHandler(logHandler))
    cdcRelayApp, err := app.NewApp(opts...)
    if err != nil {
        appCtxCancelFunc()
        return ctx, fmt.Errorf("failed initializing cdc-relay: %w", err)
    }

    err = cdcRelayApp.Run(appCtx)
    if err != nil {
        appCtxCancelFunc()
        return ctx, fmt.Errorf("failed running cdc-relay: %w", err)
    }

    ctx = context.WithValue(ctx, appKey, cdcRelayApp)
    ctx = context.WithValue(ctx, appCtxCancelFuncKey, appCtxCancelFunc)

    foundLogEntry := logsWatcherFromCtx(ctx).WaitFor("cdc-relay started", logsWatcherWaitForTimeout)
    if !foundLogEntry {
        return ctx, fmt.Errorf("cdc-relay startup failed (didn't find expected log entry)")
    }

    return ctx, nil
}

func theCdcRelayProducesTheFollowingLog(ctx context.Context, logMsg *godog.DocString) (context.Context, error) {
    if logMsg == nil || len(logMsg.Content) == 0 {
        return ctx, fmt.Errorf("the logMsg is empty or was not defined")
    }
    foundLogEntry := logsWatcherFromCtx(ctx).WaitFor(strings.TrimSpace(logMsg.Content), logsWatcherWaitForTimeout)
    if !foundLogEntry {
        return ctx, fmt.Errorf("didn't find expected log entry: %s", logMsg.Content)
    }
    return ctx, nil
}

// eventually polls condition until it holds or the logs watcher timeout elapses.
func eventually(condition func() bool) bool {
    deadline := time.Now().Add(logsWatcherWaitForTimeout)
    for time.Now().Before(deadline) {
        if condition() {
            return true
        }
        time.Sleep(20 * time.Millisecond)
    }
    return condition()
}

func logsWatcherFromCtx(ctx context.Context) *slogwatcher.Watcher {
    value := ctx.Value(logsWatcherKey)
    if value == nil {
        panic("logs watcher not found in context")
    }
    watcher, ok := value.(*slogwatcher.Watcher)
    if !ok {
        panic("logs watcher has invalid type")
    }
    return watcher
}

func captureStoreFromCtx(ctx context.Context) *memory.CaptureStore[events.Record] {
    store, ok := ctx.Value(captureStoreKey).(*memory.CaptureStore[events.Record])
    if !ok {
        panic("capture store not found in context")
    }
    return store
}

func publisherFromCtx(ctx context.Context) *memory.Publisher {
    publisher, ok := ctx.Value(publisherKey).(*memory.Publisher)
    if !ok {
        panic("publisher not found in context")
    }
    return publisher
}

func auditStoreFromCtx(ctx context.Context) scenarioAuditStore {
    store, ok := ctx.Value(auditStoreKey).(scenarioAuditStore)
    if !ok {
        panic("audit store not found in context")
    }
    return store
}

func newZapHandler() (slog.Handler, error) {
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
    zapLogger, err := zapConfig.Build()
    if err != nil {
        return nil, err
    }
    if zapLogger.Core() == nil {
        return nil, fmt.Errorf("zapLogger.Core() is nil")
    }
    return zapslog.NewHandler(zapLogger.Core()), nil
}

//go:build integration

package tests

import (
    "context"
    "testing"

    "github.com/cucumber/godog"
    "github.com/walletera/eventskit/rabbitmq"

    rabbitmqpublisher "github.com/walletera/cdc-relay/internal/adapters/publishers/rabbitmq"
    "github.com/walletera/cdc-relay/internal/app"
    "github.com/walletera/cdc-relay/internal/domain/events"
)

func TestRelayThroughRabbitMQ(t *testing.T) {

    suite := godog.TestSuite{
        ScenarioInitializer: InitializeRelayThroughRabbitMQFeature,
        Options: &godog.Options{
            Format:   "pretty",
            Paths:    []string{"features/relay_through_rabbitmq.feature"},
            TestingT: t, // Testing instance that will run subtests.
        },
    }

    if suite.Run() != 0 {
        t.Fatal("non-zero status returned, failed to run feature tests")
    }
}

func InitializeRelayThroughRabbitMQFeature(ctx *godog.ScenarioContext) {
    ctx.Before(beforeScenarioHook)
    ctx.Given(`^an envelope (\d+) captured with the following rows:$`, anEnvelopeCapturedWithTheFollowingRows)
    ctx.Given(`^a running cdc-relay relaying changes as "([^"]*)" through rabbitmq to an event log of "([^"]*)"$`, aRunningCdcRelayRelayingThroughRabbitMQ)
    ctx.Then(`^the cdc-relay produces the following log:$`, theCdcRelayProducesTheFollowingLog)
    ctx.Then(`^envelope (\d+) is marked complete$`, envelopeIsMarkedComplete)
    ctx.After(afterScenarioHook)
}

func aRunningCdcRelayRelayingThroughRabbitMQ(ctx context.Context, subjectPrefix string, eventLogSubject string) (context.Context, error) {
    return runCdcRelay(ctx,
        app.WithCaptureConfig(app.CaptureConfig{
            SubjectPrefix: subjectPrefix,
            ActionFormat:  events.ActionFormatPastTense,
            Username:      "cdc-relay",
            Interval:      outboxInterval,
            MaxBatchSize:  100,
        }),
        app.WithCaptureStore(captureStoreFromCtx(ctx)),
        app.WithPublisherKind(app.PublisherRabbitMQ),
        app.WithRabbitMQConfig(app.RabbitMQConfig{
            Host:     rabbitmq.DefaultHost,
            Port:     rabbitmq.DefaultPort,
            User:     rabbitmq.DefaultUser,
            Password: rabbitmq.DefaultPassword,
            Exchange: rabbitmqpublisher.DefaultExchangeName,
        }),
        app.WithSubscriberConfig(app.SubscriberConfig{
            Transport:        app.InboundRabbitMQ,
            SystemUsername:   "cdc-relay",
            RabbitMQBindings: []string{"#"},
            EventLogSubject:  eventLogSubject,
        }),
    )
}

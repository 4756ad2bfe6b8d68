package outbox

import (
    "context"
    "fmt"
    "log/slog"
    "time"

    "github.com/google/uuid"
    "go.opentelemetry.io/otel/attribute"
    "go.opentelemetry.io/otel/codes"
    "go.opentelemetry.io/otel/trace"
    "go.opentelemetry.io/otel/trace/noop"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

// Executor claims envelopes of captured changes, publishes one event per
// captured row and marks the envelope complete once the publish succeeded.
type Executor[T any] struct {
    store     CaptureStore[T]
    publisher Publisher
    logger    *slog.Logger
    tracer    trace.Tracer

    subjectPrefix       string
    actionFormat        events.ActionFormat
    username            string
    publishTimeout      time.Duration
    markCompleteTimeout time.Duration
    newCorrelationID    func(envelopeID int64) string
}

// EventIDNamespace is the uuid namespace event and correlation ids are
// derived in. The ids of an envelope are the same every time it is claimed,
// so a republished batch can be deduplicated by the transport and downstream.
var EventIDNamespace = uuid.MustParse("6f1f3c52-8a2e-4c4b-9d0e-3b7a5c1e2f90")

// ExecutorOption is a function that configures an Executor instance.
type ExecutorOption func(*executorOpts)

type executorOpts struct {
    logger              *slog.Logger
    tracer              trace.Tracer
    actionFormat        events.ActionFormat
    username            string
    publishTimeout      time.Duration
    markCompleteTimeout time.Duration
    newCorrelationID    func(envelopeID int64) string
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
    return func(o *executorOpts) { o.logger = logger }
}

// WithTracer sets the tracer used to span each execution.
// Default is a noop tracer.
func WithTracer(tracer trace.Tracer) ExecutorOption {
    return func(o *executorOpts) { o.tracer = tracer }
}

// WithActionFormat sets how operation types are rendered as actions.
// Default is ActionFormatNone.
func WithActionFormat(format events.ActionFormat) ExecutorOption {
    return func(o *executorOpts) { o.actionFormat = format }
}

// WithUsername sets the identity stamped on every published event.
func WithUsername(username string) ExecutorOption {
    return func(o *executorOpts) { o.username = username }
}

// WithPublishTimeout sets the timeout for the publish call.
// Default is 30 seconds.
func WithPublishTimeout(timeout time.Duration) ExecutorOption {
    return func(o *executorOpts) {
        if timeout > 0 {
            o.publishTimeout = timeout
        }
    }
}

// WithMarkCompleteTimeout sets the timeout for marking an envelope complete.
// Default is 10 seconds.
func WithMarkCompleteTimeout(timeout time.Duration) ExecutorOption {
    return func(o *executorOpts) {
        if timeout > 0 {
            o.markCompleteTimeout = timeout
        }
    }
}

// WithCorrelationIDFunc sets the generator of the correlation id shared by
// all the events of one envelope. Default derives a uuid from the subject
// prefix and the envelope id.
func WithCorrelationIDFunc(fn func(envelopeID int64) string) ExecutorOption {
    return func(o *executorOpts) {
        if fn != nil {
            o.newCorrelationID = fn
        }
    }
}

// NewExecutor creates an Executor. subjectPrefix is the first segment of
// every event subject.
func NewExecutor[T any](store CaptureStore[T], publisher Publisher, subjectPrefix string, opts ...ExecutorOption) (*Executor[T], error) {
    if store == nil {
        return nil, ErrCaptureStoreRequired
    }
    if publisher == nil {
        return nil, ErrPublisherRequired
    }

    o := executorOpts{
        logger:              slog.New(slog.DiscardHandler),
        tracer:              noop.NewTracerProvider().Tracer("outbox"),
        actionFormat:        events.ActionFormatNone,
        publishTimeout:      30 * time.Second,
        markCompleteTimeout: 10 * time.Second,
    }
    for _, opt := range opts {
        opt(&o)
    }

    if o.newCorrelationID == nil {
        o.newCorrelationID = func(envelopeID int64) string {
            return envelopeUUID(subjectPrefix, envelopeID).String()
        }
    }

    return &Executor[T]{
        store:               store,
        publisher:           publisher,
        logger:              o.logger,
        tracer:              o.tracer,
        subjectPrefix:       subjectPrefix,
        actionFormat:        o.actionFormat,
        username:            o.username,
        publishTimeout:      o.publishTimeout,
        markCompleteTimeout: o.markCompleteTimeout,
        newCorrelationID:    o.newCorrelationID,
    }, nil
}

// ExecuteNext claims the next new envelope with up to maxBatchSize rows and
// publishes its events.
func (e *Executor[T]) ExecuteNext(ctx context.Context, maxBatchSize int) (Result[T], error) {
    return e.execute(ctx, maxBatchSize, false)
}

// ExecuteIncomplete claims the most recent incomplete envelope and publishes
// its events again. It is used to resume after a failed execution.
func (e *Executor[T]) ExecuteIncomplete(ctx context.Context, maxBatchSize int) (Result[T], error) {
    return e.execute(ctx, maxBatchSize, true)
}

// MarkComplete flags the envelope as completed. It is safe to call it more
// than once for the same envelope.
func (e *Executor[T]) MarkComplete(ctx context.Context, envelopeID int64) error {
    err := e.store.MarkComplete(ctx, envelopeID)
    if err != nil {
        return &MarkCompleteError{EnvelopeID: envelopeID, Err: err}
    }
    return nil
}

func (e *Executor[T]) execute(ctx context.Context, maxBatchSize int, incomplete bool) (result Result[T], err error) {
    ctx, span := e.tracer.Start(ctx, "outbox.executor.execute", trace.WithAttributes(
        attribute.Int("outbox.max_batch_size", maxBatchSize),
        attribute.Bool("outbox.incomplete", incomplete),
    ))
    defer func() {
        if err != nil {
            span.RecordError(err)
            span.SetStatus(codes.Error, err.Error())
        }
        span.End()
    }()

    claim, err := e.store.Claim(ctx, maxBatchSize, incomplete)
    if err != nil {
        return Result[T]{}, &CaptureError{Incomplete: incomplete, Err: err}
    }

    result = Result[T]{ReturnCode: claim.ReturnCode, Envelope: claim.Envelope, Rows: claim.Rows}

    if claim.ReturnCode < 0 {
        e.logger.Info("an incomplete envelope blocks new claims",
            logattr.ReturnCode(claim.ReturnCode))
        return result, nil
    }

    if claim.Envelope == nil {
        e.logger.Debug("no new captured changes", logattr.ReturnCode(claim.ReturnCode))
        return result, nil
    }

    envelopeID := claim.Envelope.ID
    span.SetAttributes(attribute.Int64("outbox.envelope_id", envelopeID))

    // Nothing has been published yet, cancellation is still honored here.
    if err := ctx.Err(); err != nil {
        return result, err
    }

    evts, err := e.buildEvents(envelopeID, claim.Rows)
    if err != nil {
        return result, fmt.Errorf("%w: envelope %d: %w", ErrEnvelopeMalformed, envelopeID, err)
    }
    result.Events = evts

    // From here on cancellation is ignored: once publishing has been attempted
    // the envelope must be marked complete.
    commitCtx := context.WithoutCancel(ctx)

    if len(evts) > 0 {
        if err := e.publish(commitCtx, evts); err != nil {
            e.logger.Error("failed publishing envelope events",
                logattr.EnvelopeId(envelopeID),
                logattr.EventsCount(len(evts)),
                logattr.Error(err.Error()))
            return result, &PublishError{EnvelopeID: envelopeID, Err: err}
        }
    }

    if err := e.markComplete(commitCtx, envelopeID); err != nil {
        e.logger.Error("envelope published but not marked complete",
            logattr.EnvelopeId(envelopeID),
            logattr.Error(err.Error()))
        return result, err
    }

    e.logger.Info("envelope published",
        logattr.EnvelopeId(envelopeID),
        logattr.EventsCount(len(evts)))

    return result, nil
}

func (e *Executor[T]) buildEvents(envelopeID int64, rows []events.CapturedChangeRow[T]) ([]events.EventData, error) {
    correlationID := e.newCorrelationID(envelopeID)
    now := time.Now().UTC()

    evts := make([]events.EventData, 0, len(rows))
    for i, row := range rows {
        evt, err := events.NewEventData(e.subjectPrefix, e.actionFormat, row,
            events.WithID(eventUUID(e.subjectPrefix, envelopeID, i)),
            events.WithCorrelationID(correlationID),
            events.WithUsername(e.username),
            events.WithTimestamp(now),
        )
        if err != nil {
            return nil, err
        }
        evts = append(evts, evt)
    }
    return evts, nil
}

func (e *Executor[T]) publish(ctx context.Context, evts []events.EventData) error {
    ctx, cancel := context.WithTimeout(ctx, e.publishTimeout)
    defer cancel()

    return e.publisher.Publish(ctx, evts)
}

func (e *Executor[T]) markComplete(ctx context.Context, envelopeID int64) error {
    ctx, cancel := context.WithTimeout(ctx, e.markCompleteTimeout)
    defer cancel()

    return e.MarkComplete(ctx, envelopeID)
}

// envelopeUUID is the default correlation id of an envelope.
func envelopeUUID(subjectPrefix string, envelopeID int64) uuid.UUID {
    return uuid.NewSHA1(EventIDNamespace, []byte(fmt.Sprintf("%s/%d", subjectPrefix, envelopeID)))
}

// eventUUID identifies the row at index of an envelope.
func eventUUID(subjectPrefix string, envelopeID int64, index int) uuid.UUID {
    return uuid.NewSHA1(EventIDNamespace, []byte(fmt.Sprintf("%s/%d/%d", subjectPrefix, envelopeID, index)))
}

package outbox

import (
    "context"
    "errors"
    "log/slog"
    "sync"
    "sync/atomic"
    "time"

    "github.com/walletera/cdc-relay/pkg/logattr"
)

// Runner drives an Executor periodically. Each cycle drains every available
// envelope. After a failed cycle the next one resumes the incomplete envelope
// before claiming new ones.
type Runner[T any] struct {
    executor *Executor[T]
    logger   *slog.Logger

    interval     time.Duration
    maxBatchSize int
    maxPerCycle  int

    resumeIncomplete bool

    started int32
    closed  int32
    ctx     context.Context
    cancel  context.CancelFunc
    wg      sync.WaitGroup
    errCh   chan error
}

// RunnerOption is a function that configures a Runner instance.
type RunnerOption func(*runnerOpts)

type runnerOpts struct {
    logger       *slog.Logger
    interval     time.Duration
    maxBatchSize int
    maxPerCycle  int
    errChSize    int
}

// WithInterval sets the time between cycles.
// Default is 5 seconds.
func WithInterval(interval time.Duration) RunnerOption {
    return func(o *runnerOpts) {
        if interval > 0 {
            o.interval = interval
        }
    }
}

// WithMaxBatchSize sets the maximum number of rows claimed per envelope.
// Default is 100. Must be positive.
func WithMaxBatchSize(size int) RunnerOption {
    return func(o *runnerOpts) {
        if size > 0 {
            o.maxBatchSize = size
        }
    }
}

// WithMaxEnvelopesPerCycle bounds how many envelopes one cycle drains.
// Default is 10. Must be positive.
func WithMaxEnvelopesPerCycle(n int) RunnerOption {
    return func(o *runnerOpts) {
        if n > 0 {
            o.maxPerCycle = n
        }
    }
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(logger *slog.Logger) RunnerOption {
    return func(o *runnerOpts) { o.logger = logger }
}

// WithErrorChannelSize sets the size of the error channel.
// Default is 128. Size must be positive.
func WithErrorChannelSize(size int) RunnerOption {
    return func(o *runnerOpts) {
        if size > 0 {
            o.errChSize = size
        }
    }
}

// NewRunner creates a Runner for executor.
func NewRunner[T any](executor *Executor[T], opts ...RunnerOption) *Runner[T] {
    o := runnerOpts{
        logger:       slog.New(slog.DiscardHandler),
        interval:     5 * time.Second,
        maxBatchSize: 100,
        maxPerCycle:  10,
        errChSize:    128,
    }
    for _, opt := range opts {
        opt(&o)
    }

    ctx, cancel := context.WithCancel(context.Background())

    return &Runner[T]{
        executor:         executor,
        logger:           o.logger,
        interval:         o.interval,
        maxBatchSize:     o.maxBatchSize,
        maxPerCycle:      o.maxPerCycle,
        resumeIncomplete: true,
        ctx:              ctx,
        cancel:           cancel,
        errCh:            make(chan error, o.errChSize),
    }
}

// Start begins the periodic execution in the background.
// If Start is called multiple times, only the first call has an effect.
func (r *Runner[T]) Start() {
    if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
        return
    }

    r.wg.Add(1)
    go func() {
        ticker := time.NewTicker(r.interval)

        defer r.wg.Done()
        defer close(r.errCh)
        defer ticker.Stop()

        r.runCycle(r.ctx)

        for {
            select {
            case <-ticker.C:
                r.runCycle(r.ctx)
            case <-r.ctx.Done():
                return
            }
        }
    }()
}

// Stop prevents new cycles from starting and waits for the ongoing one to
// complete or for ctx to expire. Calling Stop multiple times is safe.
func (r *Runner[T]) Stop(ctx context.Context) error {
    if !atomic.CompareAndSwapInt32(&r.closed, 0, 1) {
        return nil
    }

    r.cancel()

    done := make(chan struct{})
    go func() {
        defer close(done)
        r.wg.Wait()
    }()

    select {
    case <-done:
        return nil
    case <-ctx.Done():
        return ctx.Err()
    }
}

// Errors returns a channel that receives execution errors. If the buffer is
// full, errors are dropped. The channel is closed when the runner stops.
func (r *Runner[T]) Errors() <-chan error {
    return r.errCh
}

func (r *Runner[T]) sendError(err error) {
    select {
    case r.errCh <- err:
    default:
    }
}

// runCycle executes envelopes until there is no more data, progress is
// blocked, an error occurs or the per cycle bound is reached.
func (r *Runner[T]) runCycle(ctx context.Context) {
    for i := 0; i < r.maxPerCycle; i++ {
        if ctx.Err() != nil {
            return
        }

        var (
            result Result[T]
            err    error
        )
        if r.resumeIncomplete {
            result, err = r.executor.ExecuteIncomplete(ctx, r.maxBatchSize)
        } else {
            result, err = r.executor.ExecuteNext(ctx, r.maxBatchSize)
        }
        if err != nil {
            r.resumeIncomplete = true
            if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
                return
            }
            r.logger.Error("outbox execution failed", logattr.Error(err.Error()))
            r.sendError(err)
            return
        }

        if r.resumeIncomplete {
            r.resumeIncomplete = false
            // An incomplete claim that found nothing does not mean there is
            // no new data, move on to new envelopes.
            if result.Envelope == nil {
                continue
            }
        }

        if result.ReturnCode < 0 {
            r.resumeIncomplete = true
            return
        }

        if result.Envelope == nil {
            return
        }
    }
}

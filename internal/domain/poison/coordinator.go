package poison

import (
    "context"
    "errors"
    "fmt"
    "log/slog"
    "time"

    "github.com/cenkalti/backoff/v4"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

const (
    StatusMaxAttempts = "PoisonMaxAttempts"
    StatusSkipped     = "PoisonSkipped"
)

// Coordinator detects messages that repeatedly fail processing at the head
// of a partition and decides whether they are retried or skipped.
//
// A Coordinator is meant to be owned by the single worker of a partition.
// Concurrent writers are still tolerated through the Store version checks:
// every read-modify-write cycle is retried as a whole on ErrConflict.
type Coordinator struct {
    store  Store
    logger *slog.Logger
    now    func() time.Time

    maxConflictRetries uint64
    conflictBackoff    time.Duration
}

// CoordinatorOption is a function that configures a Coordinator instance.
type CoordinatorOption func(*Coordinator)

func WithLogger(logger *slog.Logger) CoordinatorOption {
    return func(c *Coordinator) { c.logger = logger }
}

// WithMaxConflictRetries sets how many times a cycle is retried after a
// version conflict. Default is 10.
func WithMaxConflictRetries(n uint64) CoordinatorOption {
    return func(c *Coordinator) { c.maxConflictRetries = n }
}

// WithConflictBackoff sets the initial delay between conflicting cycles.
// Default is 20 milliseconds.
func WithConflictBackoff(delay time.Duration) CoordinatorOption {
    return func(c *Coordinator) {
        if delay > 0 {
            c.conflictBackoff = delay
        }
    }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) CoordinatorOption {
    return func(c *Coordinator) { c.now = now }
}

func NewCoordinator(store Store, opts ...CoordinatorOption) (*Coordinator, error) {
    if store == nil {
        return nil, ErrStoreRequired
    }
    c := &Coordinator{
        store:              store,
        logger:             slog.New(slog.DiscardHandler),
        now:                func() time.Time { return time.Now().UTC() },
        maxConflictRetries: 10,
        conflictBackoff:    20 * time.Millisecond,
    }
    for _, opt := range opts {
        opt(c)
    }
    return c, nil
}

// Check returns the action to take for msg and the attempts recorded so far.
func (c *Coordinator) Check(ctx context.Context, msg Message) (Action, int, error) {
    action, attempts := ActionUndetermined, 0

    err := c.retryOnConflict(ctx, func() error {
        record, err := c.store.Get(ctx, msg.PartitionKey(), msg.RowKey())
        if err != nil {
            return err
        }

        if record == nil {
            action, attempts = ActionNotPoison, 0
            return nil
        }

        if record.SequenceNumber != msg.SequenceNumber {
            c.logger.Warn("discarding stale poison record, sequence number does not match",
                c.messageAttrs(msg,
                    logattr.PersistedSequenceNumber(record.SequenceNumber),
                    logattr.Attempts(record.Attempts))...)
            if err := c.store.Delete(ctx, record.PartitionKey, record.RowKey, record.Version); err != nil {
                return err
            }
            action, attempts = ActionNotPoison, 0
            return nil
        }

        if record.SkipMessage {
            if err := c.skipAndRemove(ctx, *record); err != nil {
                return err
            }
            c.logger.Warn("skipping poison message",
                c.messageAttrs(msg, logattr.Attempts(record.Attempts))...)
            action, attempts = ActionPoisonSkip, record.Attempts
            return nil
        }

        action, attempts = ActionPoisonRetry, record.Attempts
        return nil
    })
    if err != nil {
        return ActionUndetermined, 0, fmt.Errorf("checking poison state: %w", err)
    }

    return action, attempts, nil
}

// MarkPoisoned records a failed attempt for msg. When maxAttempts is positive
// and the attempts reach it, the record is forced into a skipped state, moved to
// the skipped audit trail and ExceptionHandlingContinue is returned. Otherwise
// the record is persisted and ExceptionHandlingStop is returned.
func (c *Coordinator) MarkPoisoned(ctx context.Context, msg Message, failure Failure, maxAttempts int) (events.ExceptionHandling, error) {
    handling := events.ExceptionHandlingStop

    err := c.retryOnConflict(ctx, func() error {
        record, err := c.store.Get(ctx, msg.PartitionKey(), msg.RowKey())
        if err != nil {
            return err
        }

        var expectedVersion int64
        if record != nil {
            expectedVersion = record.Version
        }

        if record == nil || record.SequenceNumber != msg.SequenceNumber {
            if record != nil {
                c.logger.Warn("replacing stale poison record, sequence number does not match",
                    c.messageAttrs(msg, logattr.PersistedSequenceNumber(record.SequenceNumber))...)
            }
            record = &AuditRecord{
                PartitionKey:   msg.PartitionKey(),
                RowKey:         msg.RowKey(),
                SequenceNumber: msg.SequenceNumber,
                Offset:         msg.Offset,
                EnqueuedAt:     msg.EnqueuedAt,
                PoisonedAt:     c.now(),
            }
        }

        record.Attempts++
        record.Status = failure.Status
        record.Reason = failure.Reason
        record.Exception = failure.Exception

        if maxAttempts > 0 && record.Attempts >= maxAttempts {
            record.OriginatingStatus = record.Status
            record.OriginatingReason = record.Reason
            record.Status = StatusMaxAttempts
            record.Reason = fmt.Sprintf("maximum attempts (%d) reached, message skipped", maxAttempts)
            record.SkipMessage = true

            // The trail entry goes first: a failed delete leaves a duplicate
            // entry at worst, never a skip without a trail.
            if err := c.appendSkipped(ctx, *record); err != nil {
                return backoff.Permanent(err)
            }
            if expectedVersion != 0 {
                if err := c.store.Delete(ctx, record.PartitionKey, record.RowKey, expectedVersion); err != nil {
                    return err
                }
            }

            c.logger.Warn("poison message reached max attempts and was skipped",
                c.messageAttrs(msg,
                    logattr.Attempts(record.Attempts),
                    logattr.Error(failure.Reason))...)
            handling = events.ExceptionHandlingContinue
            return nil
        }

        if _, err := c.store.Put(ctx, *record, expectedVersion); err != nil {
            return err
        }

        c.logger.Warn("message processing failed, poison record updated",
            c.messageAttrs(msg,
                logattr.Attempts(record.Attempts),
                logattr.Error(failure.Reason))...)
        handling = events.ExceptionHandlingStop
        return nil
    })
    if err != nil {
        return events.ExceptionHandlingStop, fmt.Errorf("marking message poisoned: %w", err)
    }

    return handling, nil
}

// Skip flags the current poison record of the partition so the message is
// skipped on its next check. It does nothing when there is no record or the
// flag is already set.
func (c *Coordinator) Skip(ctx context.Context, msg Message) error {
    err := c.retryOnConflict(ctx, func() error {
        record, err := c.store.Get(ctx, msg.PartitionKey(), msg.RowKey())
        if err != nil {
            return err
        }
        if record == nil || record.SkipMessage {
            return nil
        }

        record.SkipMessage = true
        if _, err := c.store.Put(ctx, *record, record.Version); err != nil {
            return err
        }

        c.logger.Info("poison message flagged to be skipped",
            c.messageAttrs(msg, logattr.SequenceNumber(record.SequenceNumber))...)
        return nil
    })
    if err != nil {
        return fmt.Errorf("skipping poison message: %w", err)
    }
    return nil
}

// Remove deletes the live record of the partition after the message was
// handled. When action is ActionPoisonSkip a terminal copy is first added to
// the skipped audit trail, so a failed delete can leave a duplicate trail
// entry but never a skip without one.
func (c *Coordinator) Remove(ctx context.Context, msg Message, action Action) error {
    err := c.retryOnConflict(ctx, func() error {
        record, err := c.store.Get(ctx, msg.PartitionKey(), msg.RowKey())
        if err != nil {
            return err
        }
        if record == nil {
            return nil
        }

        if action == ActionPoisonSkip {
            return c.skipAndRemove(ctx, *record)
        }

        return c.store.Delete(ctx, record.PartitionKey, record.RowKey, record.Version)
    })
    if err != nil {
        return fmt.Errorf("removing poison record: %w", err)
    }
    return nil
}

// Get returns the live record of the partition msg belongs to.
func (c *Coordinator) Get(ctx context.Context, msg Message) (*AuditRecord, error) {
    return c.store.Get(ctx, msg.PartitionKey(), msg.RowKey())
}

// Skipped returns up to limit entries of the skipped audit trail of the
// partition msg belongs to.
func (c *Coordinator) Skipped(ctx context.Context, msg Message, limit int) ([]AuditRecord, error) {
    lister, ok := c.store.(SkippedLister)
    if !ok {
        return nil, ErrListingUnsupported
    }
    return lister.ListSkipped(ctx, msg.PartitionKey(), msg.RowKey(), limit)
}

// skipAndRemove appends the terminal copy of record to the skipped trail and
// then deletes the live record.
func (c *Coordinator) skipAndRemove(ctx context.Context, record AuditRecord) error {
    skipped := record
    if skipped.Status != StatusMaxAttempts {
        skipped.OriginatingStatus = skipped.Status
        skipped.OriginatingReason = skipped.Reason
        skipped.Status = StatusSkipped
        skipped.Reason = "message skipped"
    }
    if err := c.appendSkipped(ctx, skipped); err != nil {
        return backoff.Permanent(err)
    }
    return c.store.Delete(ctx, record.PartitionKey, record.RowKey, record.Version)
}

func (c *Coordinator) appendSkipped(ctx context.Context, record AuditRecord) error {
    skippedAt := c.now()
    record.SkippedAt = &skippedAt
    record.SkipMessage = true
    record.Version = 0
    return c.store.AppendSkipped(ctx, record)
}

// retryOnConflict runs op until it succeeds, fails with an error other than
// ErrConflict or the retries are exhausted.
func (c *Coordinator) retryOnConflict(ctx context.Context, op func() error) error {
    b := backoff.NewExponentialBackOff()
    b.InitialInterval = c.conflictBackoff
    b.MaxInterval = 50 * c.conflictBackoff
    b.MaxElapsedTime = 0

    return backoff.Retry(func() error {
        err := op()
        if err == nil || errors.Is(err, ErrConflict) {
            return err
        }
        var permanent *backoff.PermanentError
        if errors.As(err, &permanent) {
            return err
        }
        return backoff.Permanent(err)
    }, backoff.WithContext(backoff.WithMaxRetries(b, c.maxConflictRetries), ctx))
}

func (c *Coordinator) messageAttrs(msg Message, extra ...any) []any {
    attrs := []any{
        logattr.PartitionKey(msg.PartitionKey()),
        logattr.RowKey(msg.RowKey()),
        logattr.SequenceNumber(msg.SequenceNumber),
    }
    return append(attrs, extra...)
}

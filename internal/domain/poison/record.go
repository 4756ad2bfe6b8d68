package poison

import (
    "context"
    "time"
)

// Action is the decision taken for an inbound message.
type Action int

const (
    ActionUndetermined Action = iota
    ActionNotPoison
    ActionPoisonRetry
    ActionPoisonSkip
)

func (a Action) String() string {
    switch a {
    case ActionNotPoison:
        return "NotPoison"
    case ActionPoisonRetry:
        return "PoisonRetry"
    case ActionPoisonSkip:
        return "PoisonSkip"
    default:
        return "Undetermined"
    }
}

// Message identifies the position of an inbound message in a partitioned stream.
type Message struct {
    // Source is the identity of the stream owner (cluster, namespace).
    Source string
    // Stream is the topic or hub the message was read from.
    Stream         string
    ConsumerGroup  string
    Partition      string
    SequenceNumber int64
    Offset         string
    EnqueuedAt     time.Time
}

// PartitionKey is derived from the stream and its source.
func (m Message) PartitionKey() string {
    if m.Source == "" {
        return m.Stream
    }
    return m.Source + "-" + m.Stream
}

// RowKey is derived from the consumer group and the partition of the stream.
func (m Message) RowKey() string {
    return m.ConsumerGroup + "-" + m.Partition
}

// AuditRecord tracks the failed processing of the message at the head of a
// partition for one consumer group.
type AuditRecord struct {
    PartitionKey   string
    RowKey         string
    SequenceNumber int64
    Offset         string
    EnqueuedAt     time.Time
    PoisonedAt     time.Time
    SkippedAt      *time.Time
    Attempts       int
    SkipMessage    bool
    Status         string
    Reason         string
    Exception      string

    // OriginatingStatus and OriginatingReason keep the last failure when the
    // record is overridden, e.g. a forced skip after max attempts.
    OriginatingStatus string
    OriginatingReason string

    // Version is managed by the Store and used for optimistic concurrency.
    // Zero means the record has not been stored yet.
    Version int64
}

// Failure describes why a message failed processing.
type Failure struct {
    Status    string
    Reason    string
    Exception string
}

// Store persists audit records. Every write is conditional on the version
// the caller read and reports ErrConflict when it no longer matches.
type Store interface {
    // Get returns the live record or nil when none exists.
    Get(ctx context.Context, partitionKey, rowKey string) (*AuditRecord, error)
    // Put creates the record when expectedVersion is zero, otherwise replaces
    // the record stored with expectedVersion. It returns the new version.
    Put(ctx context.Context, record AuditRecord, expectedVersion int64) (int64, error)
    // Delete removes the record stored with expectedVersion.
    Delete(ctx context.Context, partitionKey, rowKey string, expectedVersion int64) error
    // AppendSkipped adds a terminal copy of record to the skipped audit trail.
    AppendSkipped(ctx context.Context, record AuditRecord) error
}

// SkippedLister is implemented by stores that can read back the skipped
// audit trail, newest entries first.
type SkippedLister interface {
    ListSkipped(ctx context.Context, partitionKey, rowKey string, limit int) ([]AuditRecord, error)
}

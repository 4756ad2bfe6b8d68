package redis

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/redis/go-redis/v9"

    "github.com/walletera/cdc-relay/internal/domain/poison"
)

const DefaultKeyPrefix = "cdc-relay:poison:"

// getter is satisfied by clients and by *redis.Tx inside WATCH.
type getter interface {
    Get(ctx context.Context, key string) *redis.StringCmd
}

// auditRecordJSON is the stored form of a poison.AuditRecord.
type auditRecordJSON struct {
    PartitionKey      string     `json:"partitionKey"`
    RowKey            string     `json:"rowKey"`
    SequenceNumber    int64      `json:"sequenceNumber"`
    Offset            string     `json:"offset,omitempty"`
    EnqueuedAt        time.Time  `json:"enqueuedAt"`
    PoisonedAt        time.Time  `json:"poisonedAt"`
    SkippedAt         *time.Time `json:"skippedAt,omitempty"`
    Attempts          int        `json:"attempts"`
    SkipMessage       bool       `json:"skipMessage"`
    Status            string     `json:"status,omitempty"`
    Reason            string     `json:"reason,omitempty"`
    Exception         string     `json:"exception,omitempty"`
    OriginatingStatus string     `json:"originatingStatus,omitempty"`
    OriginatingReason string     `json:"originatingReason,omitempty"`
    Version           int64      `json:"version"`
}

// AuditRecordStore keeps poison records as JSON values. Conditional writes
// run in a MULTI transaction guarded by WATCH on the record key, the skipped
// audit trail is a list per partition.
type AuditRecordStore struct {
    client    redis.UniversalClient
    keyPrefix string
}

var (
    _ poison.Store         = (*AuditRecordStore)(nil)
    _ poison.SkippedLister = (*AuditRecordStore)(nil)
)

func NewAuditRecordStore(client redis.UniversalClient, keyPrefix string) *AuditRecordStore {
    if keyPrefix == "" {
        keyPrefix = DefaultKeyPrefix
    }
    return &AuditRecordStore{client: client, keyPrefix: keyPrefix}
}

func (s *AuditRecordStore) recordKey(partitionKey, rowKey string) string {
    return s.keyPrefix + "record:" + partitionKey + "|" + rowKey
}

func (s *AuditRecordStore) skippedKey(partitionKey, rowKey string) string {
    return s.keyPrefix + "skipped:" + partitionKey + "|" + rowKey
}

func (s *AuditRecordStore) Get(ctx context.Context, partitionKey, rowKey string) (*poison.AuditRecord, error) {
    return s.get(ctx, s.client, s.recordKey(partitionKey, rowKey))
}

func (s *AuditRecordStore) Put(ctx context.Context, record poison.AuditRecord, expectedVersion int64) (int64, error) {
    key := s.recordKey(record.PartitionKey, record.RowKey)
    record.Version = expectedVersion + 1
    value, err := json.Marshal(toJSON(record))
    if err != nil {
        return 0, fmt.Errorf("failed encoding poison record: %w", err)
    }

    err = s.watch(ctx, key, expectedVersion, func(tx *redis.Tx) error {
        _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Set(ctx, key, value, 0)
            return nil
        })
        return err
    })
    if err != nil {
        return 0, err
    }
    return record.Version, nil
}

func (s *AuditRecordStore) Delete(ctx context.Context, partitionKey, rowKey string, expectedVersion int64) error {
    key := s.recordKey(partitionKey, rowKey)
    return s.watch(ctx, key, expectedVersion, func(tx *redis.Tx) error {
        _, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
            pipe.Del(ctx, key)
            return nil
        })
        return err
    })
}

func (s *AuditRecordStore) AppendSkipped(ctx context.Context, record poison.AuditRecord) error {
    value, err := json.Marshal(toJSON(record))
    if err != nil {
        return fmt.Errorf("failed encoding skipped poison record: %w", err)
    }
    if err := s.client.LPush(ctx, s.skippedKey(record.PartitionKey, record.RowKey), value).Err(); err != nil {
        return fmt.Errorf("redis lpush: %w", err)
    }
    return nil
}

func (s *AuditRecordStore) ListSkipped(ctx context.Context, partitionKey, rowKey string, limit int) ([]poison.AuditRecord, error) {
    stop := int64(-1)
    if limit > 0 {
        stop = int64(limit - 1)
    }
    values, err := s.client.LRange(ctx, s.skippedKey(partitionKey, rowKey), 0, stop).Result()
    if err != nil {
        return nil, fmt.Errorf("redis lrange: %w", err)
    }

    records := make([]poison.AuditRecord, 0, len(values))
    for _, value := range values {
        var stored auditRecordJSON
        if err := json.Unmarshal([]byte(value), &stored); err != nil {
            return nil, fmt.Errorf("failed decoding skipped poison record: %w", err)
        }
        records = append(records, stored.toRecord())
    }
    return records, nil
}

// watch runs write inside a transaction that only commits when the record
// stored at key is still at expectedVersion, zero meaning absent.
func (s *AuditRecordStore) watch(ctx context.Context, key string, expectedVersion int64, write func(tx *redis.Tx) error) error {
    err := s.client.Watch(ctx, func(tx *redis.Tx) error {
        current, err := s.get(ctx, tx, key)
        if err != nil {
            return err
        }
        switch {
        case expectedVersion == 0 && current != nil:
            return fmt.Errorf("%w: poison record %s already exists", poison.ErrConflict, key)
        case expectedVersion != 0 && (current == nil || current.Version != expectedVersion):
            return fmt.Errorf("%w: poison record %s is not at version %d", poison.ErrConflict, key, expectedVersion)
        }
        return write(tx)
    }, key)

    if errors.Is(err, redis.TxFailedErr) {
        return fmt.Errorf("%w: poison record %s changed concurrently", poison.ErrConflict, key)
    }
    return err
}

func (s *AuditRecordStore) get(ctx context.Context, cmd getter, key string) (*poison.AuditRecord, error) {
    value, err := cmd.Get(ctx, key).Bytes()
    if errors.Is(err, redis.Nil) {
        return nil, nil
    }
    if err != nil {
        return nil, fmt.Errorf("redis get: %w", err)
    }

    var stored auditRecordJSON
    if err := json.Unmarshal(value, &stored); err != nil {
        return nil, fmt.Errorf("failed decoding poison record %s: %w", key, err)
    }
    record := stored.toRecord()
    return &record, nil
}

func toJSON(r poison.AuditRecord) auditRecordJSON {
    return auditRecordJSON{
        PartitionKey:      r.PartitionKey,
        RowKey:            r.RowKey,
        SequenceNumber:    r.SequenceNumber,
        Offset:            r.Offset,
        EnqueuedAt:        r.EnqueuedAt,
        PoisonedAt:        r.PoisonedAt,
        SkippedAt:         r.SkippedAt,
        Attempts:          r.Attempts,
        SkipMessage:       r.SkipMessage,
        Status:            r.Status,
        Reason:            r.Reason,
        Exception:         r.Exception,
        OriginatingStatus: r.OriginatingStatus,
        OriginatingReason: r.OriginatingReason,
        Version:           r.Version,
    }
}

func (j auditRecordJSON) toRecord() poison.AuditRecord {
    return poison.AuditRecord{
        PartitionKey:      j.PartitionKey,
        RowKey:            j.RowKey,
        SequenceNumber:    j.SequenceNumber,
        Offset:            j.Offset,
        EnqueuedAt:        j.EnqueuedAt,
        PoisonedAt:        j.PoisonedAt,
        SkippedAt:         j.SkippedAt,
        Attempts:          j.Attempts,
        SkipMessage:       j.SkipMessage,
        Status:            j.Status,
        Reason:            j.Reason,
        Exception:         j.Exception,
        OriginatingStatus: j.OriginatingStatus,
        OriginatingReason: j.OriginatingReason,
        Version:           j.Version,
    }
}

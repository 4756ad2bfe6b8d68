package memory

import (
    "context"
    "fmt"
    "sync"

    "github.com/walletera/cdc-relay/internal/domain/poison"
)

// AuditRecordStore is an in-process poison.Store.
type AuditRecordStore struct {
    mu      sync.Mutex
    records map[string]poison.AuditRecord
    skipped []poison.AuditRecord
    nextVer int64
}

var (
    _ poison.Store         = (*AuditRecordStore)(nil)
    _ poison.SkippedLister = (*AuditRecordStore)(nil)
)

func NewAuditRecordStore() *AuditRecordStore {
    return &AuditRecordStore{records: make(map[string]poison.AuditRecord)}
}

func recordKey(partitionKey, rowKey string) string {
    return partitionKey + "|" + rowKey
}

func (s *AuditRecordStore) Get(_ context.Context, partitionKey, rowKey string) (*poison.AuditRecord, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    record, ok := s.records[recordKey(partitionKey, rowKey)]
    if !ok {
        return nil, nil
    }
    return &record, nil
}

func (s *AuditRecordStore) Put(_ context.Context, record poison.AuditRecord, expectedVersion int64) (int64, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    key := recordKey(record.PartitionKey, record.RowKey)
    current, exists := s.records[key]
    switch {
    case expectedVersion == 0 && exists:
        return 0, fmt.Errorf("%w: record %s already exists", poison.ErrConflict, key)
    case expectedVersion != 0 && (!exists || current.Version != expectedVersion):
        return 0, fmt.Errorf("%w: record %s is not at version %d", poison.ErrConflict, key, expectedVersion)
    }

    s.nextVer++
    record.Version = s.nextVer
    s.records[key] = record
    return record.Version, nil
}

func (s *AuditRecordStore) Delete(_ context.Context, partitionKey, rowKey string, expectedVersion int64) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    key := recordKey(partitionKey, rowKey)
    current, exists := s.records[key]
    if !exists || current.Version != expectedVersion {
        return fmt.Errorf("%w: record %s is not at version %d", poison.ErrConflict, key, expectedVersion)
    }
    delete(s.records, key)
    return nil
}

func (s *AuditRecordStore) AppendSkipped(_ context.Context, record poison.AuditRecord) error {
    s.mu.Lock()
    defer s.mu.Unlock()

    s.skipped = append(s.skipped, record)
    return nil
}

// Skipped returns a copy of the skipped audit trail.
func (s *AuditRecordStore) Skipped() []poison.AuditRecord {
    s.mu.Lock()
    defer s.mu.Unlock()

    return append([]poison.AuditRecord(nil), s.skipped...)
}

func (s *AuditRecordStore) ListSkipped(_ context.Context, partitionKey, rowKey string, limit int) ([]poison.AuditRecord, error) {
    s.mu.Lock()
    defer s.mu.Unlock()

    var out []poison.AuditRecord
    for i := len(s.skipped) - 1; i >= 0; i-- {
        r := s.skipped[i]
        if r.PartitionKey != partitionKey || r.RowKey != rowKey {
            continue
        }
        out = append(out, r)
        if limit > 0 && len(out) == limit {
            break
        }
    }
    return out, nil
}

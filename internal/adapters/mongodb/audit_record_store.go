package mongodb

import (
    "context"
    "errors"
    "fmt"
    "time"

    "go.mongodb.org/mongo-driver/v2/bson"
    "go.mongodb.org/mongo-driver/v2/mongo"
    "go.mongodb.org/mongo-driver/v2/mongo/options"

    "github.com/walletera/cdc-relay/internal/domain/poison"
)

const (
    DefaultDatabaseName      = "cdc-relay"
    DefaultRecordsCollection = "poison_records"
    DefaultSkippedCollection = "poison_skipped"
)

type AuditRecordBSON struct {
    ID                string     `bson:"_id,omitempty"`
    PartitionKey      string     `bson:"partitionKey"`
    RowKey            string     `bson:"rowKey"`
    SequenceNumber    int64      `bson:"sequenceNumber"`
    Offset            string     `bson:"offset,omitempty"`
    EnqueuedAt        time.Time  `bson:"enqueuedAt"`
    PoisonedAt        time.Time  `bson:"poisonedAt"`
    SkippedAt         *time.Time `bson:"skippedAt,omitempty"`
    Attempts          int        `bson:"attempts"`
    SkipMessage       bool       `bson:"skipMessage"`
    Status            string     `bson:"status,omitempty"`
    Reason            string     `bson:"reason,omitempty"`
    Exception         string     `bson:"exception,omitempty"`
    OriginatingStatus string     `bson:"originatingStatus,omitempty"`
    OriginatingReason string     `bson:"originatingReason,omitempty"`
    Version           int64      `bson:"version"`
}

func recordID(partitionKey, rowKey string) string {
    return partitionKey + "|" + rowKey
}

func fromRecord(r poison.AuditRecord) AuditRecordBSON {
    return AuditRecordBSON{
        ID:                recordID(r.PartitionKey, r.RowKey),
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

func (b AuditRecordBSON) toRecord() poison.AuditRecord {
    return poison.AuditRecord{
        PartitionKey:      b.PartitionKey,
        RowKey:            b.RowKey,
        SequenceNumber:    b.SequenceNumber,
        Offset:            b.Offset,
        EnqueuedAt:        b.EnqueuedAt,
        PoisonedAt:        b.PoisonedAt,
        SkippedAt:         b.SkippedAt,
        Attempts:          b.Attempts,
        SkipMessage:       b.SkipMessage,
        Status:            b.Status,
        Reason:            b.Reason,
        Exception:         b.Exception,
        OriginatingStatus: b.OriginatingStatus,
        OriginatingReason: b.OriginatingReason,
        Version:           b.Version,
    }
}

// AuditRecordStore keeps live poison records in one collection, versioned
// for compare-and-swap writes, and the skipped audit trail in another.
type AuditRecordStore struct {
    client            *mongo.Client
    dbName            string
    recordsCollection string
    skippedCollection string
    resources         *resourceInitializer
}

var (
    _ poison.Store         = (*AuditRecordStore)(nil)
    _ poison.SkippedLister = (*AuditRecordStore)(nil)
)

func NewAuditRecordStore(client *mongo.Client, dbName string, recordsCollection string, skippedCollection string) *AuditRecordStore {
    return &AuditRecordStore{
        client:            client,
        dbName:            dbName,
        recordsCollection: recordsCollection,
        skippedCollection: skippedCollection,
        resources:         &resourceInitializer{},
    }
}

func (s *AuditRecordStore) Get(ctx context.Context, partitionKey, rowKey string) (*poison.AuditRecord, error) {
    result := s.records().FindOne(ctx, bson.M{"_id": recordID(partitionKey, rowKey)})
    if err := result.Err(); err != nil {
        if errors.Is(err, mongo.ErrNoDocuments) {
            return nil, nil
        }
        return nil, fmt.Errorf("failed finding poison record %s: %w", recordID(partitionKey, rowKey), err)
    }

    var recordBSON AuditRecordBSON
    if err := result.Decode(&recordBSON); err != nil {
        return nil, fmt.Errorf("failed decoding mongodb result: %w", err)
    }
    record := recordBSON.toRecord()
    return &record, nil
}

func (s *AuditRecordStore) Put(ctx context.Context, record poison.AuditRecord, expectedVersion int64) (int64, error) {
    recordBSON := fromRecord(record)
    recordBSON.Version = expectedVersion + 1
    coll := s.records()

    if expectedVersion == 0 {
        _, err := coll.InsertOne(ctx, recordBSON)
        if err != nil {
            if mongo.IsDuplicateKeyError(err) {
                return 0, fmt.Errorf("%w: poison record %s already exists", poison.ErrConflict, recordBSON.ID)
            }
            return 0, fmt.Errorf("failed to save poison record: %w", err)
        }
        return recordBSON.Version, nil
    }

    updateResult, err := coll.ReplaceOne(ctx, bson.M{
        "_id":     recordBSON.ID,
        "version": expectedVersion,
    }, recordBSON)
    if err != nil {
        return 0, fmt.Errorf("failed to update poison record: %w", err)
    }
    if updateResult.MatchedCount == 0 {
        return 0, fmt.Errorf("%w: poison record %s is not at version %d", poison.ErrConflict, recordBSON.ID, expectedVersion)
    }
    return recordBSON.Version, nil
}

func (s *AuditRecordStore) Delete(ctx context.Context, partitionKey, rowKey string, expectedVersion int64) error {
    id := recordID(partitionKey, rowKey)
    deleteResult, err := s.records().DeleteOne(ctx, bson.M{
        "_id":     id,
        "version": expectedVersion,
    })
    if err != nil {
        return fmt.Errorf("failed to delete poison record: %w", err)
    }
    if deleteResult.DeletedCount == 0 {
        return fmt.Errorf("%w: poison record %s is not at version %d", poison.ErrConflict, id, expectedVersion)
    }
    return nil
}

func (s *AuditRecordStore) AppendSkipped(ctx context.Context, record poison.AuditRecord) error {
    coll, err := s.skipped(ctx)
    if err != nil {
        return err
    }

    recordBSON := fromRecord(record)
    recordBSON.ID = bson.NewObjectID().Hex()
    if _, err := coll.InsertOne(ctx, recordBSON); err != nil {
        return fmt.Errorf("failed to save skipped poison record: %w", err)
    }
    return nil
}

func (s *AuditRecordStore) ListSkipped(ctx context.Context, partitionKey, rowKey string, limit int) ([]poison.AuditRecord, error) {
    coll, err := s.skipped(ctx)
    if err != nil {
        return nil, err
    }

    findOpts := options.Find().SetSort(bson.D{{Key: "skippedAt", Value: -1}, {Key: "_id", Value: -1}})
    if limit > 0 {
        findOpts.SetLimit(int64(limit))
    }

    cursor, err := coll.Find(ctx, bson.M{"partitionKey": partitionKey, "rowKey": rowKey}, findOpts)
    if err != nil {
        return nil, fmt.Errorf("failed to find skipped poison records: %w", err)
    }
    iterator := &Iterator{cursor: cursor}
    defer iterator.Close(ctx)

    var records []poison.AuditRecord
    for {
        ok, record, err := iterator.Next(ctx)
        if err != nil {
            return nil, fmt.Errorf("failed iterating skipped poison records: %w", err)
        }
        if !ok {
            return records, nil
        }
        records = append(records, record)
    }
}

func (s *AuditRecordStore) records() *mongo.Collection {
    return s.client.Database(s.dbName).Collection(s.recordsCollection)
}

// skipped returns the skipped trail collection, creating its index on first use.
func (s *AuditRecordStore) skipped(ctx context.Context) (*mongo.Collection, error) {
    coll := s.client.Database(s.dbName).Collection(s.skippedCollection)
    err := s.resources.ensure(ctx, s.dbName+"."+s.skippedCollection, func(ctx context.Context) error {
        _, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
            Keys: bson.D{
                {Key: "partitionKey", Value: 1},
                {Key: "rowKey", Value: 1},
                {Key: "skippedAt", Value: -1},
            },
            Options: options.Index().SetName("partition_skipped_at"),
        })
        return err
    })
    if err != nil {
        return nil, fmt.Errorf("failed creating index on %s: %w", s.skippedCollection, err)
    }
    return coll, nil
}

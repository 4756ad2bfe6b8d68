package mongodb

import (
    "context"

    "go.mongodb.org/mongo-driver/v2/mongo"

    "github.com/walletera/cdc-relay/internal/domain/poison"
)

// Iterator walks a cursor over audit record documents.
type Iterator struct {
    cursor *mongo.Cursor
}

func (m *Iterator) Next(ctx context.Context) (bool, poison.AuditRecord, error) {
    if !m.cursor.Next(ctx) {
        if err := m.cursor.Err(); err != nil {
            return false, poison.AuditRecord{}, err
        }
        return false, poison.AuditRecord{}, nil
    }

    var recordBSON AuditRecordBSON
    if err := m.cursor.Decode(&recordBSON); err != nil {
        return false, poison.AuditRecord{}, err
    }

    return true, recordBSON.toRecord(), nil
}

func (m *Iterator) Close(ctx context.Context) error {
    return m.cursor.Close(ctx)
}

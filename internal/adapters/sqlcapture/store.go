package sqlcapture

import (
    "context"
    "database/sql"
    "encoding/json"
    "errors"
    "fmt"
    "log/slog"
    "time"

    "github.com/walletera/cdc-relay/internal/domain/events"
    "github.com/walletera/cdc-relay/internal/domain/outbox"
    "github.com/walletera/cdc-relay/pkg/logattr"
)

// Decoder turns a captured payload into the entity value.
type Decoder[T any] func(payload []byte) (T, error)

// JoinFunc merges the related rows of one relation into the parent value.
type JoinFunc[T any] func(parent *T, related []json.RawMessage) error

// Store is an outbox.CaptureStore over the capture tables of one entity.
type Store[T any] struct {
    db        DB
    tables    tables
    decode    Decoder[T]
    joins     map[string]JoinFunc[T]
    relations []string
    now       func() time.Time
    logger    *slog.Logger
}

var _ outbox.CaptureStore[any] = (*Store[any])(nil)

// StoreOption is a function that configures a Store instance.
type StoreOption[T any] func(*Store[T])

// WithDecoder sets how payloads are decoded. Default is encoding/json.
func WithDecoder[T any](decode Decoder[T]) StoreOption[T] {
    return func(s *Store[T]) { s.decode = decode }
}

// WithRelation loads the rows of the named relation table and merges them
// into each parent value with join.
func WithRelation[T any](name string, join JoinFunc[T]) StoreOption[T] {
    return func(s *Store[T]) {
        if _, ok := s.joins[name]; !ok {
            s.relations = append(s.relations, name)
        }
        s.joins[name] = join
    }
}

func WithLogger[T any](logger *slog.Logger) StoreOption[T] {
    return func(s *Store[T]) { s.logger = logger }
}

func WithClock[T any](now func() time.Time) StoreOption[T] {
    return func(s *Store[T]) { s.now = now }
}

func NewStore[T any](db DB, dialect Dialect, schema, entity string, opts ...StoreOption[T]) (*Store[T], error) {
    s := &Store[T]{
        db: db,
        decode: func(payload []byte) (T, error) {
            var value T
            err := json.Unmarshal(payload, &value)
            return value, err
        },
        joins:  make(map[string]JoinFunc[T]),
        now:    func() time.Time { return time.Now().UTC() },
        logger: slog.New(slog.DiscardHandler),
    }
    for _, opt := range opts {
        opt(s)
    }

    t, err := newTables(dialect, schema, entity, s.relations)
    if err != nil {
        return nil, err
    }
    s.tables = t
    return s, nil
}

// CreateSchema creates the capture tables when they do not exist.
func (s *Store[T]) CreateSchema(ctx context.Context) error {
    for _, statement := range s.tables.schemaStatements() {
        if _, err := s.db.ExecContext(ctx, statement); err != nil {
            return fmt.Errorf("failed creating capture tables: %w", err)
        }
    }
    return nil
}

// Capture appends a change row, and its related rows, as the external capture
// mechanism does. It is meant for fixtures and backfills.
func (s *Store[T]) Capture(ctx context.Context, operation events.OperationType, lsn []byte, payload []byte, related map[string][]json.RawMessage) (err error) {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return fmt.Errorf("failed to begin transaction: %w", err)
    }
    defer func() {
        if err != nil {
            _ = tx.Rollback()
        }
    }()

    query, returnsID := s.tables.insertChangeQuery()
    changeID, err := insertReturningID(ctx, tx, query, returnsID, lsn, string(operation), string(payload))
    if err != nil {
        return fmt.Errorf("failed inserting change: %w", err)
    }

    if len(related) > 0 {
        for relation, rows := range related {
            if _, ok := s.tables.relations[relation]; !ok {
                return fmt.Errorf("%w: relation %q is not configured", ErrIdentifierInvalid, relation)
            }
            for _, row := range rows {
                if _, err := tx.ExecContext(ctx, s.tables.insertRelationQuery(relation), changeID, string(row)); err != nil {
                    return fmt.Errorf("failed inserting %s row: %w", relation, err)
                }
            }
        }
    }

    if err := tx.Commit(); err != nil {
        return fmt.Errorf("failed to commit transaction: %w", err)
    }
    return nil
}

// Claim returns the most recent incomplete envelope when incomplete is true.
// Otherwise it refuses with a negative return code while an envelope is
// incomplete, or assigns up to maxBatchSize pending changes to a new envelope.
func (s *Store[T]) Claim(ctx context.Context, maxBatchSize int, incomplete bool) (claim outbox.Claim[T], err error) {
    tx, err := s.db.BeginTx(ctx, nil)
    if err != nil {
        return outbox.Claim[T]{}, fmt.Errorf("failed to begin transaction: %w", err)
    }
    defer func() {
        if err != nil {
            _ = tx.Rollback()
        }
    }()

    var envelope *outbox.Envelope
    if incomplete {
        envelope, err = s.lastIncomplete(ctx, tx)
    } else {
        var blocked bool
        blocked, err = s.hasIncomplete(ctx, tx)
        if err == nil && blocked {
            s.logger.Debug("incomplete envelope blocks new claims")
            return outbox.Claim[T]{ReturnCode: -1}, tx.Commit()
        }
        if err == nil {
            envelope, err = s.claimNew(ctx, tx, maxBatchSize)
        }
    }
    if err != nil {
        return outbox.Claim[T]{}, err
    }
    if envelope == nil {
        return outbox.Claim[T]{}, tx.Commit()
    }

    rows, err := s.loadRows(ctx, tx, envelope.ID)
    if err != nil {
        return outbox.Claim[T]{}, err
    }

    if err := tx.Commit(); err != nil {
        return outbox.Claim[T]{}, fmt.Errorf("failed to commit transaction: %w", err)
    }

    s.logger.Debug("envelope claimed",
        logattr.EnvelopeId(envelope.ID),
        logattr.EventsCount(len(rows)))

    return outbox.Claim[T]{Envelope: envelope, Rows: rows}, nil
}

// MarkComplete flags the envelope as completed. Completing an already
// completed envelope succeeds, an unknown envelope returns ErrEnvelopeNotFound.
func (s *Store[T]) MarkComplete(ctx context.Context, envelopeID int64) error {
    result, err := s.db.ExecContext(ctx, s.tables.markCompleteQuery(), true, s.now(), envelopeID, false)
    if err != nil {
        return fmt.Errorf("failed marking envelope %d complete: %w", envelopeID, err)
    }
    affected, err := result.RowsAffected()
    if err != nil {
        return fmt.Errorf("failed reading affected rows: %w", err)
    }
    if affected > 0 {
        return nil
    }

    var count int
    if err := s.db.QueryRowContext(ctx, s.tables.countEnvelopeQuery(), envelopeID).Scan(&count); err != nil {
        return fmt.Errorf("failed finding envelope %d: %w", envelopeID, err)
    }
    if count == 0 {
        return fmt.Errorf("%w: %d", ErrEnvelopeNotFound, envelopeID)
    }
    return nil
}

func (s *Store[T]) hasIncomplete(ctx context.Context, tx Tx) (bool, error) {
    var count int
    if err := tx.QueryRowContext(ctx, s.tables.countIncompleteQuery(), false).Scan(&count); err != nil {
        return false, fmt.Errorf("failed counting incomplete envelopes: %w", err)
    }
    return count > 0, nil
}

func (s *Store[T]) lastIncomplete(ctx context.Context, tx Tx) (*outbox.Envelope, error) {
    var envelope outbox.Envelope
    err := tx.QueryRowContext(ctx, s.tables.selectLastIncompleteQuery(), false).Scan(&envelope.ID, &envelope.CreatedAt)
    if errors.Is(err, sql.ErrNoRows) {
        return nil, nil
    }
    if err != nil {
        return nil, fmt.Errorf("failed finding incomplete envelope: %w", err)
    }
    return &envelope, nil
}

func (s *Store[T]) claimNew(ctx context.Context, tx Tx, maxBatchSize int) (*outbox.Envelope, error) {
    if maxBatchSize <= 0 {
        return nil, fmt.Errorf("max batch size must be positive, got %d", maxBatchSize)
    }

    var minID, maxID sql.NullInt64
    if err := tx.QueryRowContext(ctx, s.tables.selectPendingRangeQuery(), maxBatchSize).Scan(&minID, &maxID); err != nil {
        return nil, fmt.Errorf("failed finding pending changes: %w", err)
    }
    if !minID.Valid {
        return nil, nil
    }

    envelope := outbox.Envelope{CreatedAt: s.now()}
    query, returnsID := s.tables.insertEnvelopeQuery()
    id, err := insertReturningID(ctx, tx, query, returnsID, envelope.CreatedAt, false)
    if err != nil {
        return nil, fmt.Errorf("failed creating envelope: %w", err)
    }
    envelope.ID = id

    if _, err := tx.ExecContext(ctx, s.tables.assignChangesQuery(), envelope.ID, minID.Int64, maxID.Int64); err != nil {
        return nil, fmt.Errorf("failed assigning changes to envelope %d: %w", envelope.ID, err)
    }
    return &envelope, nil
}

func (s *Store[T]) loadRows(ctx context.Context, tx Tx, envelopeID int64) ([]events.CapturedChangeRow[T], error) {
    related, err := s.loadRelated(ctx, tx, envelopeID)
    if err != nil {
        return nil, err
    }

    rows, err := tx.QueryContext(ctx, s.tables.selectChangesQuery(), envelopeID)
    if err != nil {
        return nil, fmt.Errorf("failed reading changes of envelope %d: %w", envelopeID, err)
    }
    defer rows.Close()

    var out []events.CapturedChangeRow[T]
    for rows.Next() {
        var (
            changeID  int64
            lsn       []byte
            operation string
            payload   string
        )
        if err := rows.Scan(&changeID, &lsn, &operation, &payload); err != nil {
            return nil, fmt.Errorf("failed scanning change: %w", err)
        }

        row, err := s.buildRow(changeID, lsn, operation, []byte(payload), related)
        if err != nil {
            return nil, err
        }
        out = append(out, row)
    }
    if err := rows.Err(); err != nil {
        return nil, fmt.Errorf("failed iterating changes of envelope %d: %w", envelopeID, err)
    }
    return out, nil
}

func (s *Store[T]) buildRow(changeID int64, lsn []byte, operation string, payload []byte, related map[string]map[int64][]json.RawMessage) (events.CapturedChangeRow[T], error) {
    op, err := events.ParseOperationType(operation)
    if err != nil {
        return events.CapturedChangeRow[T]{}, fmt.Errorf("%w: change %d: %w", ErrRowMalformed, changeID, err)
    }

    value, err := s.decode(payload)
    if err != nil {
        return events.CapturedChangeRow[T]{}, fmt.Errorf("%w: change %d payload: %w", ErrRowMalformed, changeID, err)
    }

    for _, relation := range s.relations {
        if err := s.joins[relation](&value, related[relation][changeID]); err != nil {
            return events.CapturedChangeRow[T]{}, fmt.Errorf("%w: joining %s into change %d: %w", ErrRowMalformed, relation, changeID, err)
        }
    }

    return events.CapturedChangeRow[T]{Value: value, OperationType: op, Lsn: lsn}, nil
}

// loadRelated reads the related rows of the envelope grouped by relation and
// parent change.
func (s *Store[T]) loadRelated(ctx context.Context, tx Tx, envelopeID int64) (map[string]map[int64][]json.RawMessage, error) {
    related := make(map[string]map[int64][]json.RawMessage, len(s.relations))
    for _, relation := range s.relations {
        byChange, err := s.loadRelation(ctx, tx, relation, envelopeID)
        if err != nil {
            return nil, err
        }
        related[relation] = byChange
    }
    return related, nil
}

func (s *Store[T]) loadRelation(ctx context.Context, tx Tx, relation string, envelopeID int64) (map[int64][]json.RawMessage, error) {
    rows, err := tx.QueryContext(ctx, s.tables.selectRelationQuery(relation), envelopeID)
    if err != nil {
        return nil, fmt.Errorf("failed reading %s rows of envelope %d: %w", relation, envelopeID, err)
    }
    defer rows.Close()

    byChange := make(map[int64][]json.RawMessage)
    for rows.Next() {
        var (
            changeID int64
            payload  string
        )
        if err := rows.Scan(&changeID, &payload); err != nil {
            return nil, fmt.Errorf("failed scanning %s row: %w", relation, err)
        }
        byChange[changeID] = append(byChange[changeID], json.RawMessage(payload))
    }
    if err := rows.Err(); err != nil {
        return nil, fmt.Errorf("failed iterating %s rows: %w", relation, err)
    }
    return byChange, nil
}

func insertReturningID(ctx context.Context, q Queryer, query string, returnsID bool, args ...any) (int64, error) {
    var id int64
    if returnsID {
        err := q.QueryRowContext(ctx, query, args...).Scan(&id)
        return id, err
    }
    result, err := q.ExecContext(ctx, query, args...)
    if err != nil {
        return 0, err
    }
    return result.LastInsertId()
}

package sqlcapture

import (
    "fmt"
    "strings"
)

// tables names the capture tables of one entity.
//
// Rows captured for the entity are appended to the change table with a null
// envelope_id. Claiming a new envelope inserts an envelope row and assigns it
// the oldest unassigned changes. Related rows live in one table per relation,
// keyed by change_id.
type tables struct {
    dialect   Dialect
    envelope  string
    change    string
    relations map[string]string
}

func newTables(dialect Dialect, schema, entity string, relations []string) (tables, error) {
    if err := validateIdentifier("entity", entity); err != nil {
        return tables{}, err
    }
    if schema != "" {
        if err := validateIdentifier("schema", schema); err != nil {
            return tables{}, err
        }
    }
    qualify := func(name string) string {
        if schema == "" {
            return name
        }
        return schema + "." + name
    }

    t := tables{
        dialect:   dialect,
        envelope:  qualify(entity + "_envelope"),
        change:    qualify(entity + "_change"),
        relations: make(map[string]string, len(relations)),
    }
    for _, relation := range relations {
        if err := validateIdentifier("relation", relation); err != nil {
            return tables{}, err
        }
        t.relations[relation] = qualify(entity + "_" + relation)
    }
    return t, nil
}

func (t tables) p(index int) string {
    return t.dialect.placeholder(index)
}

func (t tables) countIncompleteQuery() string {
    return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE is_completed = %s", t.envelope, t.p(1))
}

func (t tables) selectLastIncompleteQuery() string {
    if t.dialect == DialectSQLServer {
        return fmt.Sprintf(`SELECT TOP (1) id, created_at FROM %s
            WHERE is_completed = %s
            ORDER BY id DESC`, t.envelope, t.p(1))
    }
    return fmt.Sprintf(`SELECT id, created_at FROM %s
        WHERE is_completed = %s
        ORDER BY id DESC LIMIT 1`, t.envelope, t.p(1))
}

// selectPendingRangeQuery returns the id range of the oldest unassigned
// changes, bounded by the batch size.
func (t tables) selectPendingRangeQuery() string {
    if t.dialect == DialectSQLServer {
        return fmt.Sprintf(`SELECT MIN(id), MAX(id) FROM (
            SELECT TOP (%s) id FROM %s WHERE envelope_id IS NULL ORDER BY id
        ) pending`, t.p(1), t.change)
    }
    return fmt.Sprintf(`SELECT MIN(id), MAX(id) FROM (
        SELECT id FROM %s WHERE envelope_id IS NULL ORDER BY id LIMIT %s
    ) pending`, t.change, t.p(1))
}

// insertQuery builds an insert of columns into table that yields the new id.
// It reports whether the id is returned by the statement or must be read
// from the driver result.
func (t tables) insertQuery(table string, columns ...string) (string, bool) {
    values := make([]string, 0, len(columns))
    for i := range columns {
        values = append(values, t.p(i+1))
    }
    cols, vals := strings.Join(columns, ", "), strings.Join(values, ", ")

    switch t.dialect {
    case DialectSQLServer:
        return fmt.Sprintf("INSERT INTO %s (%s) OUTPUT INSERTED.id VALUES (%s)", table, cols, vals), true
    case DialectMySQL:
        return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", table, cols, vals), false
    default:
        return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING id", table, cols, vals), true
    }
}

func (t tables) insertEnvelopeQuery() (string, bool) {
    return t.insertQuery(t.envelope, "created_at", "is_completed")
}

func (t tables) assignChangesQuery() string {
    return fmt.Sprintf("UPDATE %s SET envelope_id = %s WHERE envelope_id IS NULL AND id BETWEEN %s AND %s",
        t.change, t.p(1), t.p(2), t.p(3))
}

func (t tables) selectChangesQuery() string {
    return fmt.Sprintf("SELECT id, lsn, operation, payload FROM %s WHERE envelope_id = %s ORDER BY id",
        t.change, t.p(1))
}

func (t tables) selectRelationQuery(relation string) string {
    return fmt.Sprintf(`SELECT r.change_id, r.payload FROM %s r
        JOIN %s c ON c.id = r.change_id
        WHERE c.envelope_id = %s
        ORDER BY r.change_id, r.id`, t.relations[relation], t.change, t.p(1))
}

func (t tables) markCompleteQuery() string {
    return fmt.Sprintf("UPDATE %s SET is_completed = %s, completed_at = %s WHERE id = %s AND is_completed = %s",
        t.envelope, t.p(1), t.p(2), t.p(3), t.p(4))
}

func (t tables) countEnvelopeQuery() string {
    return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %s", t.envelope, t.p(1))
}

func (t tables) insertChangeQuery() (string, bool) {
    return t.insertQuery(t.change, "lsn", "operation", "payload")
}

func (t tables) insertRelationQuery(relation string) string {
    return fmt.Sprintf("INSERT INTO %s (change_id, payload) VALUES (%s, %s)",
        t.relations[relation], t.p(1), t.p(2))
}

// schemaStatements returns the DDL creating the capture tables.
func (t tables) schemaStatements() []string {
    var (
        id, bigint, boolean, timestamp, binary, text string
    )
    switch t.dialect {
    case DialectPostgres:
        id, bigint, boolean, timestamp, binary, text = "BIGSERIAL PRIMARY KEY", "BIGINT", "BOOLEAN", "TIMESTAMP", "BYTEA", "TEXT"
    case DialectSQLServer:
        id, bigint, boolean, timestamp, binary, text = "BIGINT IDENTITY(1,1) PRIMARY KEY", "BIGINT", "BIT", "DATETIME2", "VARBINARY(64)", "NVARCHAR(MAX)"
    case DialectMySQL:
        id, bigint, boolean, timestamp, binary, text = "BIGINT AUTO_INCREMENT PRIMARY KEY", "BIGINT", "BOOLEAN", "DATETIME(6)", "VARBINARY(64)", "LONGTEXT"
    default:
        id, bigint, boolean, timestamp, binary, text = "INTEGER PRIMARY KEY AUTOINCREMENT", "INTEGER", "BOOLEAN", "TIMESTAMP", "BLOB", "TEXT"
    }

    create := func(table, columns string) string {
        if t.dialect == DialectSQLServer {
            return fmt.Sprintf("IF OBJECT_ID(N'%s', N'U') IS NULL CREATE TABLE %s (%s)", table, table, columns)
        }
        return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, columns)
    }

    statements := []string{
        create(t.envelope, strings.Join([]string{
            "id " + id,
            "created_at " + timestamp + " NOT NULL",
            "is_completed " + boolean + " NOT NULL",
            "completed_at " + timestamp + " NULL",
        }, ", ")),
        create(t.change, strings.Join([]string{
            "id " + id,
            "envelope_id " + bigint + " NULL",
            "lsn " + binary + " NULL",
            "operation VARCHAR(16) NOT NULL",
            "payload " + text + " NOT NULL",
        }, ", ")),
    }
    for _, table := range t.relations {
        statements = append(statements, create(table, strings.Join([]string{
            "id " + id,
            "change_id " + bigint + " NOT NULL",
            "payload " + text + " NOT NULL",
        }, ", ")))
    }
    return statements
}

package sqlcapture

import (
    "fmt"
    "regexp"
    "strings"
)

// Dialect is the SQL flavor of the source-of-record.
type Dialect string

const (
    DialectPostgres  Dialect = "postgres"
    DialectSQLServer Dialect = "sqlserver"
    DialectMySQL     Dialect = "mysql"
    DialectSQLite    Dialect = "sqlite"
)

func ParseDialect(raw string) (Dialect, error) {
    switch d := Dialect(strings.ToLower(strings.TrimSpace(raw))); d {
    case DialectPostgres, DialectSQLServer, DialectMySQL, DialectSQLite:
        return d, nil
    case "postgresql", "pgx":
        return DialectPostgres, nil
    case "mssql":
        return DialectSQLServer, nil
    case "sqlite3":
        return DialectSQLite, nil
    default:
        return "", fmt.Errorf("%w: %q", ErrDialectUnsupported, raw)
    }
}

// DriverName returns the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
    switch d {
    case DialectPostgres:
        return "pgx"
    case DialectSQLServer:
        return "sqlserver"
    case DialectMySQL:
        return "mysql"
    case DialectSQLite:
        return "sqlite3"
    default:
        return string(d)
    }
}

// placeholder returns the bind parameter for the given 1-based index.
func (d Dialect) placeholder(index int) string {
    switch d {
    case DialectPostgres:
        return fmt.Sprintf("$%d", index)
    case DialectSQLServer:
        return fmt.Sprintf("@p%d", index)
    default:
        return "?"
    }
}

var sqlIdentifierRegexp = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func validateIdentifier(kind, name string) error {
    if name == "" {
        return fmt.Errorf("%w: %s cannot be empty", ErrIdentifierInvalid, kind)
    }
    if !sqlIdentifierRegexp.MatchString(name) {
        return fmt.Errorf("%w: %s %q must match [a-zA-Z_][a-zA-Z0-9_]*", ErrIdentifierInvalid, kind, name)
    }
    return nil
}

package events

import (
    "fmt"
    "strconv"
    "strings"
    "time"

    "github.com/google/uuid"
)

// IntIdentifier is implemented by values identified by an integer.
type IntIdentifier interface {
    IntID() int64
}

// GUIDIdentifier is implemented by values identified by a uuid.
type GUIDIdentifier interface {
    GUID() uuid.UUID
}

// StringIdentifier is implemented by values identified by a string.
type StringIdentifier interface {
    StringID() string
}

// UniqueKeyed is implemented by values identified by a composite key.
// The parts must be returned in a stable order.
type UniqueKeyed interface {
    UniqueKey() []any
}

// ExtractKey returns the key of value. The identifier capabilities are checked
// in priority order: integer, guid, string and finally the composite unique key.
func ExtractKey(value any) ([]any, error) {
    switch v := value.(type) {
    case IntIdentifier:
        return []any{v.IntID()}, nil
    case GUIDIdentifier:
        return []any{v.GUID()}, nil
    case StringIdentifier:
        return []any{v.StringID()}, nil
    case UniqueKeyed:
        key := v.UniqueKey()
        if len(key) == 0 {
            return nil, fmt.Errorf("%w: %T returned an empty unique key", ErrKeyUnavailable, value)
        }
        return key, nil
    default:
        return nil, fmt.Errorf("%w: %T", ErrKeyUnavailable, value)
    }
}

// FormatKey joins the key parts with a comma, without padding.
func FormatKey(key []any) string {
    parts := make([]string, 0, len(key))
    for _, part := range key {
        parts = append(parts, formatKeyPart(part))
    }
    return strings.Join(parts, ",")
}

func formatKeyPart(part any) string {
    switch p := part.(type) {
    case nil:
        return ""
    case string:
        return p
    case int:
        return strconv.Itoa(p)
    case int64:
        return strconv.FormatInt(p, 10)
    case int32:
        return strconv.FormatInt(int64(p), 10)
    case uuid.UUID:
        return p.String()
    case time.Time:
        return p.UTC().Format(time.RFC3339Nano)
    case fmt.Stringer:
        return p.String()
    default:
        return fmt.Sprint(p)
    }
}

// BuildSubject returns prefix + "." + the formatted key.
func BuildSubject(prefix string, key []any) string {
    formattedKey := FormatKey(key)
    if prefix == "" {
        return formattedKey
    }
    return prefix + "." + formattedKey
}

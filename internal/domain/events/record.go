package events

import (
    "bytes"
    "encoding/json"
    "fmt"
)

// Record is a captured row whose shape is only known at runtime. Its key is
// read from KeyFields, in order.
type Record struct {
    Fields    map[string]any
    KeyFields []string
}

var _ UniqueKeyed = Record{}

// UniqueKey returns the values of the key fields, or nil when one is missing.
func (r Record) UniqueKey() []any {
    if len(r.KeyFields) == 0 {
        return nil
    }
    key := make([]any, 0, len(r.KeyFields))
    for _, field := range r.KeyFields {
        value, ok := r.Fields[field]
        if !ok || value == nil {
            return nil
        }
        key = append(key, value)
    }
    return key
}

func (r Record) MarshalJSON() ([]byte, error) {
    return json.Marshal(r.Fields)
}

// UnmarshalJSON decodes the fields keeping numbers as json.Number, so integer
// keys are not rendered in floating point form.
func (r *Record) UnmarshalJSON(data []byte) error {
    decoder := json.NewDecoder(bytes.NewReader(data))
    decoder.UseNumber()
    var fields map[string]any
    if err := decoder.Decode(&fields); err != nil {
        return fmt.Errorf("decoding record: %w", err)
    }
    r.Fields = fields
    return nil
}

// RecordDecoder returns a decoder of JSON payloads into Records keyed by keyFields.
func RecordDecoder(keyFields []string) func(payload []byte) (Record, error) {
    return func(payload []byte) (Record, error) {
        r := Record{KeyFields: keyFields}
        if err := json.Unmarshal(payload, &r); err != nil {
            return Record{}, err
        }
        return r, nil
    }
}

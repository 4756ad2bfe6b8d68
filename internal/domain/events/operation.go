package events

import (
    "fmt"
    "strings"
)

// OperationType classifies the change a captured row represents.
type OperationType string

const (
    OperationUnspecified OperationType = ""
    OperationCreate      OperationType = "Create"
    OperationUpdate      OperationType = "Update"
    OperationDelete      OperationType = "Delete"
)

// ParseOperationType accepts operation names (create, insert, update, delete)
// as well as single letter CDC codes (I, C, U, D), case-insensitively.
func ParseOperationType(raw string) (OperationType, error) {
    switch strings.ToLower(strings.TrimSpace(raw)) {
    case "create", "insert", "i", "c":
        return OperationCreate, nil
    case "update", "u":
        return OperationUpdate, nil
    case "delete", "d":
        return OperationDelete, nil
    default:
        return OperationUnspecified, fmt.Errorf("%w: %q", ErrOperationTypeInvalid, raw)
    }
}

func (o OperationType) String() string {
    return string(o)
}

// ActionFormat controls how an OperationType is rendered as an event action.
type ActionFormat int

const (
    // ActionFormatNone uses the operation name as is (Create).
    ActionFormatNone ActionFormat = iota
    // ActionFormatUpperCase renders the operation name in upper case (CREATE).
    ActionFormatUpperCase
    // ActionFormatPastTense renders the operation in past tense (Created).
    ActionFormatPastTense
    // ActionFormatPastTenseUpperCase renders the operation in upper case past tense (CREATED).
    ActionFormatPastTenseUpperCase
)

func ParseActionFormat(raw string) (ActionFormat, error) {
    switch strings.ToLower(strings.TrimSpace(raw)) {
    case "", "none":
        return ActionFormatNone, nil
    case "uppercase", "upper-case":
        return ActionFormatUpperCase, nil
    case "pasttense", "past-tense":
        return ActionFormatPastTense, nil
    case "pasttenseuppercase", "past-tense-upper-case":
        return ActionFormatPastTenseUpperCase, nil
    default:
        return ActionFormatNone, fmt.Errorf("%w: %q", ErrActionFormatInvalid, raw)
    }
}

// Action renders op according to the format.
func (f ActionFormat) Action(op OperationType) string {
    action := op.String()
    switch f {
    case ActionFormatUpperCase:
        return strings.ToUpper(action)
    case ActionFormatPastTense:
        return pastTense(action)
    case ActionFormatPastTenseUpperCase:
        return strings.ToUpper(pastTense(action))
    default:
        return action
    }
}

func pastTense(verb string) string {
    if verb == "" {
        return verb
    }
    if strings.HasSuffix(verb, "e") {
        return verb + "d"
    }
    return verb + "ed"
}

package events

import "errors"

var (
    ErrOperationTypeInvalid = errors.New("invalid operation type")
    ErrActionFormatInvalid  = errors.New("invalid action format")
    ErrKeyUnavailable       = errors.New("value has no identifier or unique key")
    ErrSubjectRequired      = errors.New("event subject is required")
)

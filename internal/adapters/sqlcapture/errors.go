package sqlcapture

import "errors"

var (
    ErrDialectUnsupported = errors.New("unsupported sql dialect")
    ErrIdentifierInvalid  = errors.New("invalid sql identifier")
    ErrEnvelopeNotFound   = errors.New("envelope not found")
    ErrRowMalformed       = errors.New("captured row is malformed")
)

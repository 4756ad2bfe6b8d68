package poison

import "errors"

var (
    // ErrConflict is returned by a Store when a conditional write lost the race.
    ErrConflict = errors.New("audit record version conflict")

    ErrStoreRequired = errors.New("audit record store is required")

    ErrListingUnsupported = errors.New("audit record store cannot list skipped records")
)

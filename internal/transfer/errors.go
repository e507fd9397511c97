package transfer

import "errors"

var (
	// ErrInvalidClientID is returned for an empty transfer key.
	ErrInvalidClientID = errors.New("transfer: client id required")

	// ErrInvalidTotal is returned when total_parts is not positive or exceeds the configured maximum.
	ErrInvalidTotal = errors.New("transfer: invalid total parts")

	// ErrInvalidPart is returned when a chunk index falls outside 0..total-1.
	ErrInvalidPart = errors.New("transfer: part index out of range")

	// ErrTotalMismatch is returned when a chunk announces a different total
	// than the first chunk of its transfer.
	ErrTotalMismatch = errors.New("transfer: total parts changed mid-transfer")

	// ErrMissingPart is returned when a transfer reaches its chunk count
	// without holding every index.
	ErrMissingPart = errors.New("transfer: missing part")
)

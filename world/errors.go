package world

import "errors"

var (
	// ErrBufferOverflow is returned when a record does not fit the remaining packet capacity.
	// Nothing is written in that case.
	ErrBufferOverflow = errors.New("replication buffer overflow")

	ErrUnknownEntity = errors.New("unknown entity")

	// ErrIDRangeExceeded is raised at registration for IDs the wire ID field cannot address.
	ErrIDRangeExceeded = errors.New("identifier exceeds wire range")

	ErrDuplicateID = errors.New("identifier already registered")

	ErrTruncatedRecord = errors.New("truncated replication record")

	// ErrInvalidFlags marks a record header whose flags byte no encoder writes:
	// zero, or bits beyond the known fields.
	ErrInvalidFlags = errors.New("invalid record flags")
)

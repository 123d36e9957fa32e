package pkg

import "errors"

// Request validation errors.
var (
	// ErrInvalidLBA indicates a logical block address outside the device.
	ErrInvalidLBA = errors.New("invalid logical block address")

	// ErrInvalidOffset indicates an intra-block offset at or beyond the block size.
	ErrInvalidOffset = errors.New("offset beyond block")

	// ErrZeroLength indicates a read or write request with no data.
	ErrZeroLength = errors.New("zero-length request")

	// ErrOutOfRange indicates an access that extends past the end of a region.
	ErrOutOfRange = errors.New("access out of range")

	// ErrInvalidRequest indicates an invalid or unsupported request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidParameter indicates an invalid parameter was provided.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall indicates the provided buffer is too small.
	ErrBufferTooSmall = errors.New("buffer too small")
)

// Partition I/O errors.
var (
	// ErrEraseFailed indicates the partition could not be erased.
	ErrEraseFailed = errors.New("partition erase failed")

	// ErrProgramFailed indicates the partition could not be programmed.
	ErrProgramFailed = errors.New("partition program failed")

	// ErrReadFailed indicates the partition could not be read.
	ErrReadFailed = errors.New("partition read failed")

	// ErrShortProgram indicates fewer bytes were programmed than requested.
	ErrShortProgram = errors.New("short program")

	// ErrNotErased indicates a program attempted to set bits in flash that
	// were not erased first.
	ErrNotErased = errors.New("flash not erased")

	// ErrUnaligned indicates an erase range not aligned to the sector size.
	ErrUnaligned = errors.New("unaligned erase range")
)

// Transport and lifecycle errors.
var (
	// ErrNotConfigured indicates a component used before it was set up.
	ErrNotConfigured = errors.New("not configured")

	// ErrProtocol indicates a framing or protocol error on the transport.
	ErrProtocol = errors.New("protocol error")

	// ErrCancelled indicates a cancelled transfer.
	ErrCancelled = errors.New("transfer cancelled")

	// ErrTimeout indicates a transfer timeout.
	ErrTimeout = errors.New("transfer timeout")

	// ErrAlreadyRunning indicates a component that is already started.
	ErrAlreadyRunning = errors.New("already running")

	// ErrCommandFailed indicates the device answered a command with a
	// failed status.
	ErrCommandFailed = errors.New("command failed")

	// ErrPhaseError indicates the device answered a command with a phase error.
	ErrPhaseError = errors.New("phase error")
)

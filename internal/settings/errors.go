package settings

import "errors"

// Sentinel errors returned by Store operations, mirroring the closed
// result set of the platform K/V contract.
var (
	// ErrNoBufs indicates a record would not fit in the remaining slot
	// capacity.
	ErrNoBufs = errors.New("settings: record does not fit in slot")

	// ErrNotFound indicates no record matched the requested key (and,
	// for Get, occurrence index).
	ErrNotFound = errors.New("settings: no matching record")

	// ErrChunkMisaligned indicates a program call was asked to write a
	// chunk that is not exactly ChunkSize bytes, or at an offset that is
	// not a multiple of ChunkSize.
	ErrChunkMisaligned = errors.New("settings: flash write not quadword-aligned")

	// ErrFlushAborted indicates the background flush worker gave up on
	// the current cycle after a program or erase failure. The
	// previously-flushed slot remains the valid one unless the cycle had
	// wrapped: the whole-page erase that precedes a wrapped flush leaves
	// no valid slot until a later flush succeeds.
	ErrFlushAborted = errors.New("settings: flush aborted")
)

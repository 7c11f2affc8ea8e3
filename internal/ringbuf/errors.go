package ringbuf

import "errors"

// Sentinel errors returned by the ring layer (component B/C/D). These never
// escape to a client of the root package directly -- the engine translates
// them into blockring.Error or absorbs them as internal retries.
var (
	// ErrTooBig is returned by Producer.Push when the frame can never fit
	// in the ring regardless of drain progress (frameLen > capacity).
	ErrTooBig = errors.New("ringbuf: frame exceeds ring capacity")

	// ErrRetry is returned by Producer.Push when there is not currently
	// enough free space; the caller should wait for consumer progress and
	// retry.
	ErrRetry = errors.New("ringbuf: insufficient free space, retry")

	// ErrSuspended is returned by Producer.Push when the ring's suspend
	// flag is set.
	ErrSuspended = errors.New("ringbuf: ring is suspended")

	// ErrParse is returned by Consumer.Pop/Fold when a frame is truncated
	// or carries an invalid length. It is always fatal to the caller.
	ErrParse = errors.New("ringbuf: malformed frame")

	// ErrNotInitialized is returned by AttachConsumer/AttachProducer when
	// the backing device has never been formatted with Create.
	ErrNotInitialized = errors.New("ringbuf: device has not been initialized")

	// ErrBadMagic/ErrBadVersion are returned by Attach* when the header
	// does not match the expected on-disk format.
	ErrBadMagic   = errors.New("ringbuf: bad magic in ring header")
	ErrBadVersion = errors.New("ringbuf: unsupported ring format version")
)

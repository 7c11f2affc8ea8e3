package blockring

import "time"

// Defaults mirrored from the teacher's DefaultParams: sensible values for
// the engine and its tools.
const (
	// DefaultSectorSize is the conventional 512-byte sector size. Nothing in
	// this package reads it; blockdev.OpenFile falls back to the same value
	// when the device does not report a sector size.
	DefaultSectorSize = 512

	// DefaultPushRetryWait bounds how long Engine.Push's internal wait
	// loop sleeps between condition-variable wakeups as a safety net
	// against a missed broadcast; in the steady state the condition
	// variable wakes waiters immediately on relevant state changes.
	DefaultPushRetryWait = 50 * time.Millisecond

	// DefaultShutdownWait is the deadline cmd/ringbench puts on the context
	// it passes to Engine.Shutdown. Shutdown checks that context only when
	// it is woken, so a handler that never returns can keep it waiting
	// past the deadline.
	DefaultShutdownWait = 5 * time.Second
)

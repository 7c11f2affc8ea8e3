// Package interfaces holds the contracts the ring and engine packages
// depend on, kept separate from the root package to avoid an import cycle
// between blockring and its internal packages.
package interfaces

import "context"

// BlockDevice is the capability set the ring layer needs from whatever
// durable medium it is backed by: vectored sector reads/writes and a
// capacity query. A successful WriteSectors must be durable against power
// loss before it returns.
type BlockDevice interface {
	ReadSectors(ctx context.Context, start uint64, buffers [][]byte) error
	WriteSectors(ctx context.Context, start uint64, buffers [][]byte) error
	SectorSize() uint32
	SectorCount() uint64
}

// Logger is the minimal logging sink the core talks to. Passing a nil
// Logger is always safe: the engine checks for nil before logging, and the
// ring package stores the Logger without calling it.
type Logger interface {
	Printf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Observer receives journal events for metrics collection. Implementations
// must be safe to call from both the push path and the background drain
// goroutine concurrently.
type Observer interface {
	ObservePush(bytes uint64, latencyNs uint64, retried bool)
	ObserveReplay(itemCount int, bytes uint64, latencyNs uint64, success bool)
	ObserveBacklog(bytes uint64)
	ObserveIOError()
	ObserveParseError()
	ObserveHandlerError()
}

package blockdev

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// File is a BlockDevice backed by an *os.File: either a real block device
// (/dev/...) opened O_DIRECT-free with explicit durability via fdatasync, or
// a plain regular file, which is what this package's tests use since they
// cannot open an actual block device. Every WriteSectors call is followed by
// an fdatasync before it returns, matching the BlockDevice contract that a
// successful write is durable against power loss.
type File struct {
	f           *os.File
	sectorSize  uint32
	sectorCount uint64
}

// OpenFile opens path (which must already exist and be sized to hold at
// least sectorCount sectors) as a File device. If sectorSize is 0, it is
// queried from the device with BLKSSZGET; for a regular file this query
// fails and 512 bytes is assumed instead.
func OpenFile(path string, sectorSize uint32, sectorCount uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: opening %s: %w", path, err)
	}

	if sectorSize == 0 {
		sectorSize = queryLogicalSectorSize(f)
	}
	if sectorCount == 0 {
		sectorCount, err = queryOrStatSectorCount(f, sectorSize)
		if err != nil {
			f.Close()
			return nil, err
		}
	}

	return &File{f: f, sectorSize: sectorSize, sectorCount: sectorCount}, nil
}

// CreateFile creates (or truncates) a regular file at path sized to hold
// exactly sectorCount sectors of sectorSize bytes, and opens it as a File
// device. Used by tests and by ringbench for the "file" backend, since it
// does not require an actual block device node.
func CreateFile(path string, sectorSize uint32, sectorCount uint64) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("blockdev: creating %s: %w", path, err)
	}
	size := int64(sectorCount) * int64(sectorSize)
	if err := f.Truncate(size); err != nil {
		f.Close()
		return nil, fmt.Errorf("blockdev: sizing %s to %d bytes: %w", path, size, err)
	}
	return &File{f: f, sectorSize: sectorSize, sectorCount: sectorCount}, nil
}

// queryLogicalSectorSize returns the device's logical sector size via
// BLKSSZGET, falling back to 512 for anything that isn't a
// real block device (plain files, most test environments).
func queryLogicalSectorSize(f *os.File) uint32 {
	sz, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKSSZGET)
	if err != nil || sz <= 0 {
		return 512
	}
	return uint32(sz)
}

// queryOrStatSectorCount returns the device capacity in sectors, first via
// BLKGETSIZE64 and falling back to stat(2) for regular files.
func queryOrStatSectorCount(f *os.File, sectorSize uint32) (uint64, error) {
	if bytes, err := unix.IoctlGetInt(int(f.Fd()), unix.BLKGETSIZE64); err == nil && bytes > 0 {
		return uint64(bytes) / uint64(sectorSize), nil
	}
	fi, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("blockdev: stat: %w", err)
	}
	return uint64(fi.Size()) / uint64(sectorSize), nil
}

// ReadSectors reads numSectors worth of data starting at sector start using
// pread(2), one call per buffer.
func (d *File) ReadSectors(ctx context.Context, start uint64, buffers [][]byte) error {
	off := int64(start) * int64(d.sectorSize)
	for _, buf := range buffers {
		n, err := unix.Pread(int(d.f.Fd()), buf, off)
		if err != nil {
			return fmt.Errorf("blockdev: pread at offset %d: %w", off, err)
		}
		if n != len(buf) {
			return fmt.Errorf("blockdev: short read at offset %d: got %d want %d", off, n, len(buf))
		}
		off += int64(len(buf))
	}
	return nil
}

// WriteSectors writes buffers using pwrite(2) and durably syncs them with
// fdatasync(2) before returning, so that a successful return means the data
// would survive a crash.
func (d *File) WriteSectors(ctx context.Context, start uint64, buffers [][]byte) error {
	off := int64(start) * int64(d.sectorSize)
	for _, buf := range buffers {
		n, err := unix.Pwrite(int(d.f.Fd()), buf, off)
		if err != nil {
			return fmt.Errorf("blockdev: pwrite at offset %d: %w", off, err)
		}
		if n != len(buf) {
			return fmt.Errorf("blockdev: short write at offset %d: got %d want %d", off, n, len(buf))
		}
		off += int64(len(buf))
	}
	return unix.Fdatasync(int(d.f.Fd()))
}

func (d *File) SectorSize() uint32  { return d.sectorSize }
func (d *File) SectorCount() uint64 { return d.sectorCount }

// Close releases the underlying file descriptor. It does not sync -- callers
// that need a final durability guarantee should rely on the fdatasync each
// WriteSectors already performed.
func (d *File) Close() error {
	return d.f.Close()
}

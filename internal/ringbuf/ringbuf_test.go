package ringbuf

import (
	"context"
	"sync"
)

// memDevice is a minimal in-memory interfaces.BlockDevice used only by this
// package's own tests -- the real backend lives in package blockdev and is
// exercised at the engine layer instead.
type memDevice struct {
	mu         sync.Mutex
	sectorSize uint32
	sectors    [][]byte
}

func newMemDevice(sectorSize uint32, sectorCount uint64) *memDevice {
	d := &memDevice{
		sectorSize: sectorSize,
		sectors:    make([][]byte, sectorCount),
	}
	for i := range d.sectors {
		d.sectors[i] = make([]byte, sectorSize)
	}
	return d
}

func (d *memDevice) ReadSectors(ctx context.Context, start uint64, buffers [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, buf := range buffers {
		copy(buf, d.sectors[start+uint64(i)])
	}
	return nil
}

func (d *memDevice) WriteSectors(ctx context.Context, start uint64, buffers [][]byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, buf := range buffers {
		copy(d.sectors[start+uint64(i)], buf)
	}
	return nil
}

func (d *memDevice) SectorSize() uint32  { return d.sectorSize }
func (d *memDevice) SectorCount() uint64 { return uint64(len(d.sectors)) }

// Package blockdev provides concrete interfaces.BlockDevice implementations:
// an in-memory device for tests and benchmarking, and a file/raw-device
// backend for real durability.
package blockdev

import (
	"context"
	"fmt"
	"sync"
)

// shardSize is the size, in sectors, covered by one shard lock. This
// provides parallelism for concurrent readers and writers touching
// disjoint regions of the ring while keeping lock overhead reasonable.
const shardSize = 128

// Memory is a RAM-backed BlockDevice. It never persists across process
// restarts -- useful for unit tests, for in-process crash simulations and
// for benchmarking the engine without real I/O latency; a crash that ends
// the process needs File.
type Memory struct {
	sectorSize  uint32
	sectorCount uint64
	data        []byte
	shards      []sync.RWMutex
}

// NewMemory allocates a Memory device of sectorCount sectors, each
// sectorSize bytes.
func NewMemory(sectorSize uint32, sectorCount uint64) *Memory {
	numShards := (sectorCount + shardSize - 1) / shardSize
	if numShards == 0 {
		numShards = 1
	}
	return &Memory{
		sectorSize:  sectorSize,
		sectorCount: sectorCount,
		data:        make([]byte, sectorCount*uint64(sectorSize)),
		shards:      make([]sync.RWMutex, numShards),
	}
}

func (m *Memory) shardRange(startSector uint64, numSectors int) (start, end int) {
	start = int(startSector / shardSize)
	end = int((startSector + uint64(numSectors) - 1) / shardSize)
	if end >= len(m.shards) {
		end = len(m.shards) - 1
	}
	return start, end
}

// ReadSectors copies numSectors worth of bytes starting at start into
// buffers, one slice per sector.
func (m *Memory) ReadSectors(ctx context.Context, start uint64, buffers [][]byte) error {
	if start+uint64(len(buffers)) > m.sectorCount {
		return fmt.Errorf("blockdev: read [%d,%d) out of range (%d sectors)", start, start+uint64(len(buffers)), m.sectorCount)
	}
	startShard, endShard := m.shardRange(start, len(buffers))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].RLock()
	}
	defer func() {
		for i := startShard; i <= endShard; i++ {
			m.shards[i].RUnlock()
		}
	}()

	for i, buf := range buffers {
		off := (start + uint64(i)) * uint64(m.sectorSize)
		copy(buf, m.data[off:off+uint64(m.sectorSize)])
	}
	return nil
}

// WriteSectors writes buffers, one slice per sector, starting at sector
// start. Each write is durable as soon as it returns: there is nothing to
// flush for an in-memory device.
func (m *Memory) WriteSectors(ctx context.Context, start uint64, buffers [][]byte) error {
	if start+uint64(len(buffers)) > m.sectorCount {
		return fmt.Errorf("blockdev: write [%d,%d) out of range (%d sectors)", start, start+uint64(len(buffers)), m.sectorCount)
	}
	startShard, endShard := m.shardRange(start, len(buffers))
	for i := startShard; i <= endShard; i++ {
		m.shards[i].Lock()
	}
	defer func() {
		for i := startShard; i <= endShard; i++ {
			m.shards[i].Unlock()
		}
	}()

	for i, buf := range buffers {
		off := (start + uint64(i)) * uint64(m.sectorSize)
		copy(m.data[off:off+uint64(m.sectorSize)], buf)
	}
	return nil
}

func (m *Memory) SectorSize() uint32  { return m.sectorSize }
func (m *Memory) SectorCount() uint64 { return m.sectorCount }

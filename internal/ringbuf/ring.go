// Package ringbuf implements components B, C, and D of the journal: the
// on-disk ring layout and framing, the producer, and the consumer. It talks
// to storage only through interfaces.BlockDevice and never imports the root
// package, so it has no knowledge of the journal engine built on top of it.
package ringbuf

import (
	"context"
	"fmt"
	"sync"

	"github.com/avsm/shared-block-ring/internal/interfaces"
)

const headerSectors = 1

// State reports whether the ring is accepting new pushes.
type State int

const (
	Running State = iota
	Suspended
)

// Ring is the shared header and payload-region bookkeeping for one ring
// buffer. Producer and Consumer are thin views over the same Ring; within
// one process they share a single instance, which is why P and C can be
// cached in memory between durable header writes instead of re-read from
// disk on every operation.
type Ring struct {
	dev        interfaces.BlockDevice
	logger     interfaces.Logger
	sectorSize uint32

	// payloadLen is L, the size in bytes of the circular payload region as
	// seen by position arithmetic (P, C, mod L). The device actually backs
	// payloadLen+sentinelOverhang bytes past the header -- see
	// sentinelOverhang below.
	payloadLen uint64

	mu        sync.Mutex
	p         uint64
	c         uint64
	suspended bool
}

// sentinelOverhang is the physical padding reserved past the logical end of
// the payload region. A skip sentinel is a bare frameLengthSize-byte length
// prefix with no payload; when it lands within sentinelOverhang bytes of the
// logical boundary it would otherwise spill past the device region backing
// the ring. Reserving this overhang keeps every sentinel write, wherever it
// lands, inside the physically allocated region without ever appearing in
// the logical position space (P, C never reference it).
const sentinelOverhang = frameLengthSize - 1

// payloadLenFromDevice computes the logical payload length for a device with
// the given geometry, reserving sentinelOverhang physical bytes.
func payloadLenFromDevice(sectorSize uint32, sectorCount uint64) (uint64, error) {
	physical := (sectorCount - headerSectors) * uint64(sectorSize)
	if physical <= uint64(sentinelOverhang) {
		return 0, fmt.Errorf("ringbuf: device has no room for a payload region")
	}
	return physical - uint64(sentinelOverhang), nil
}

// Create initializes a fresh header on dev with P = C = 0, running state.
// It does not touch the payload region.
func Create(ctx context.Context, dev interfaces.BlockDevice, logger interfaces.Logger) (*Ring, error) {
	sectorSize := dev.SectorSize()
	if sectorSize < headerMinSize {
		return nil, fmt.Errorf("ringbuf: sector size %d too small for header", sectorSize)
	}
	sectorCount := dev.SectorCount()
	if sectorCount <= headerSectors {
		return nil, fmt.Errorf("ringbuf: device has no room for a payload region")
	}
	payloadLen, err := payloadLenFromDevice(sectorSize, sectorCount)
	if err != nil {
		return nil, err
	}

	r := &Ring{
		dev:        dev,
		logger:     logger,
		sectorSize: sectorSize,
		payloadLen: payloadLen,
	}

	buf := marshalHeader(header{version: FormatVersion1}, sectorSize)
	if err := dev.WriteSectors(ctx, 0, [][]byte{buf}); err != nil {
		return nil, fmt.Errorf("ringbuf: writing initial header: %w", err)
	}
	return r, nil
}

// rings holds the one Ring attached to each device in this process, so that
// a Producer and a Consumer attached separately share P, C and the suspend
// flag.
var (
	ringsMu sync.Mutex
	rings   = map[interfaces.BlockDevice]*Ring{}
)

// attach is shared by AttachProducer/AttachConsumer: both sides need the
// same header state, they just use it for different operations. The first
// successful attach to a device reads its header; later attaches to the
// same device return that same Ring.
func attach(ctx context.Context, dev interfaces.BlockDevice, logger interfaces.Logger) (*Ring, error) {
	ringsMu.Lock()
	defer ringsMu.Unlock()
	if r, ok := rings[dev]; ok {
		return r, nil
	}
	sectorSize := dev.SectorSize()
	buf := make([]byte, sectorSize)
	if err := dev.ReadSectors(ctx, 0, [][]byte{buf}); err != nil {
		return nil, fmt.Errorf("ringbuf: reading header: %w", err)
	}
	h, err := unmarshalHeader(buf)
	if err != nil {
		return nil, err
	}
	sectorCount := dev.SectorCount()
	payloadLen, err := payloadLenFromDevice(sectorSize, sectorCount)
	if err != nil {
		return nil, err
	}
	r := &Ring{
		dev:        dev,
		logger:     logger,
		sectorSize: sectorSize,
		payloadLen: payloadLen,
		p:          h.p,
		c:          h.c,
		suspended:  h.suspended,
	}
	rings[dev] = r
	return r, nil
}

// AttachProducer validates the header and loads P/C for producer use.
func AttachProducer(ctx context.Context, dev interfaces.BlockDevice, logger interfaces.Logger) (*Producer, error) {
	r, err := attach(ctx, dev, logger)
	if err != nil {
		return nil, err
	}
	return &Producer{ring: r}, nil
}

// AttachConsumer validates the header and loads P/C for consumer use.
func AttachConsumer(ctx context.Context, dev interfaces.BlockDevice, logger interfaces.Logger) (*Consumer, error) {
	r, err := attach(ctx, dev, logger)
	if err != nil {
		return nil, err
	}
	return &Consumer{ring: r}, nil
}

// State returns whether the ring currently accepts pushes.
func (r *Ring) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.suspended {
		return Suspended
	}
	return Running
}

// PayloadLen returns L, the size in bytes of the circular payload region.
func (r *Ring) PayloadLen() uint64 {
	return r.payloadLen
}

// P returns the current producer pointer.
func (r *Ring) P() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.p
}

// C returns the current consumer pointer.
func (r *Ring) C() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.c
}

// writeHeaderLocked durably writes the full header sector. Caller holds mu.
func (r *Ring) writeHeaderLocked(ctx context.Context) error {
	buf := marshalHeader(header{
		version:   FormatVersion1,
		p:         r.p,
		c:         r.c,
		suspended: r.suspended,
	}, r.sectorSize)
	return r.dev.WriteSectors(ctx, 0, [][]byte{buf})
}

// advanceProducer durably moves P forward to pos, publishing every frame up
// to pos. Payload bytes must already be durable before this is called --
// the caller (Producer.Push/Advance) is responsible for that ordering.
func (r *Ring) advanceProducer(ctx context.Context, pos uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pos < r.p {
		return fmt.Errorf("ringbuf: advanceProducer(%d) would move P backward from %d", pos, r.p)
	}
	prevP := r.p
	r.p = pos
	if err := r.writeHeaderLocked(ctx); err != nil {
		r.p = prevP
		return err
	}
	return nil
}

// advanceConsumer durably moves C forward to pos, releasing the
// corresponding ring space back to the producer.
func (r *Ring) advanceConsumer(ctx context.Context, pos uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if pos < r.c {
		return fmt.Errorf("ringbuf: advanceConsumer(%d) would move C backward from %d", pos, r.c)
	}
	if pos > r.p {
		return fmt.Errorf("ringbuf: advanceConsumer(%d) exceeds producer pointer %d", pos, r.p)
	}
	prevC := r.c
	r.c = pos
	if err := r.writeHeaderLocked(ctx); err != nil {
		r.c = prevC
		return err
	}
	return nil
}

// setSuspended flips the suspend flag durably.
func (r *Ring) setSuspended(ctx context.Context, suspended bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.suspended
	r.suspended = suspended
	if err := r.writeHeaderLocked(ctx); err != nil {
		r.suspended = prev
		return err
	}
	return nil
}

// readPayload reads length bytes starting at byte offset (already reduced
// mod L) from the payload region. The caller guarantees offset+length does
// not cross the end of the region -- true for every individual frame under
// the no-split wrap policy.
func (r *Ring) readPayload(ctx context.Context, offset, length uint64) ([]byte, error) {
	if length == 0 {
		return nil, nil
	}
	startSector := offset / uint64(r.sectorSize)
	intra := offset % uint64(r.sectorSize)
	numSectors := (intra + length + uint64(r.sectorSize) - 1) / uint64(r.sectorSize)

	bufs := make([][]byte, numSectors)
	for i := range bufs {
		bufs[i] = make([]byte, r.sectorSize)
	}
	if err := r.dev.ReadSectors(ctx, headerSectors+startSector, bufs); err != nil {
		return nil, err
	}
	flat := make([]byte, 0, numSectors*uint64(r.sectorSize))
	for _, b := range bufs {
		flat = append(flat, b...)
	}
	return flat[intra : intra+length], nil
}

// writePayload durably writes data at byte offset (mod L already applied)
// in the payload region. Because BlockDevice I/O is sector-granular, a
// write that does not start and end on sector boundaries is a
// read-modify-write of the covering sectors.
func (r *Ring) writePayload(ctx context.Context, offset uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	length := uint64(len(data))
	startSector := offset / uint64(r.sectorSize)
	intra := offset % uint64(r.sectorSize)
	numSectors := (intra + length + uint64(r.sectorSize) - 1) / uint64(r.sectorSize)

	bufs := make([][]byte, numSectors)
	for i := range bufs {
		bufs[i] = make([]byte, r.sectorSize)
	}
	needsReadModify := intra != 0 || length%uint64(r.sectorSize) != 0
	if needsReadModify {
		if err := r.dev.ReadSectors(ctx, headerSectors+startSector, bufs); err != nil {
			return err
		}
	}
	flat := make([]byte, 0, numSectors*uint64(r.sectorSize))
	for _, b := range bufs {
		flat = append(flat, b...)
	}
	copy(flat[intra:intra+length], data)
	for i := range bufs {
		copy(bufs[i], flat[uint64(i)*uint64(r.sectorSize):(uint64(i)+1)*uint64(r.sectorSize)])
	}
	return r.dev.WriteSectors(ctx, headerSectors+startSector, bufs)
}

package ringbuf

import "context"

// Producer appends framed items to a Ring and durably advances the
// producer pointer. The two-phase Push/Advance split ensures a consumer
// never observes a partially written frame after a crash: only Advance
// promotes visibility, and it must be called after the frame bytes are
// durable.
type Producer struct {
	ring *Ring
}

// Push writes one frame's payload bytes durably to the payload region but
// does not advance P. It returns the position to pass to Advance to publish
// the frame.
//
// Returns ErrTooBig if the frame can never fit regardless of drain
// progress, ErrSuspended if the ring's suspend flag is set, or ErrRetry if
// there is not currently enough free space.
func (p *Producer) Push(ctx context.Context, payload []byte) (uint64, error) {
	r := p.ring
	frameLen := encodedFrameLen(payload)
	if frameLen > r.payloadLen {
		return 0, ErrTooBig
	}

	r.mu.Lock()
	if r.suspended {
		r.mu.Unlock()
		return 0, ErrSuspended
	}
	curP := r.p
	curC := r.c
	r.mu.Unlock()

	free := r.payloadLen - (curP - curC)
	phys := curP % r.payloadLen

	var writeOffset uint64
	var newPos uint64
	if phys+frameLen <= r.payloadLen {
		// Contiguous case: the frame fits without wrapping.
		if free < frameLen {
			return 0, ErrRetry
		}
		writeOffset = phys
		newPos = curP + frameLen
	} else {
		// Wraparound case: skip the remainder of the region and restart
		// the frame at offset 0 (§3.2 sentinel skip policy).
		skip := r.payloadLen - phys
		needed := skip + frameLen
		if free < needed {
			return 0, ErrRetry
		}
		sentinel := GetBuffer(frameLengthSize)
		putFrameLength(sentinel, skipSentinel)
		err := r.writePayload(ctx, phys, sentinel)
		PutBuffer(sentinel)
		if err != nil {
			return 0, err
		}
		writeOffset = 0
		newPos = curP + needed
	}

	buf := GetBuffer(uint32(frameLen))
	putFrameLength(buf, uint32(len(payload)))
	copy(buf[frameLengthSize:], payload)
	err := r.writePayload(ctx, writeOffset, buf)
	PutBuffer(buf)
	if err != nil {
		return 0, err
	}
	return newPos, nil
}

// Advance durably moves P forward to pos, publishing every frame written up
// to that position.
func (p *Producer) Advance(ctx context.Context, pos uint64) error {
	return p.ring.advanceProducer(ctx, pos)
}

// Ring exposes the underlying Ring for State()/PayloadLen() queries shared
// with the Consumer side.
func (p *Producer) Ring() *Ring {
	return p.ring
}

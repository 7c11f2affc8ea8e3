package ringbuf

import "context"

// Consumer reads framed items out of a Ring and durably advances the
// consumer pointer once the caller has applied them.
type Consumer struct {
	ring *Ring
}

// Ring exposes the underlying Ring for State()/PayloadLen() queries.
func (c *Consumer) Ring() *Ring {
	return c.ring
}

// readFrameAt decodes one frame (or skip sentinel) starting at logical
// position pos, returning the payload (nil for a skip) and the position of
// the next frame.
func (c *Consumer) readFrameAt(ctx context.Context, pos uint64) (next uint64, payload []byte, err error) {
	r := c.ring
	phys := pos % r.payloadLen
	lenBuf, err := r.readPayload(ctx, phys, frameLengthSize)
	if err != nil {
		return 0, nil, err
	}
	n := getFrameLength(lenBuf)
	if n == skipSentinel {
		return pos + (r.payloadLen - phys), nil, nil
	}
	if uint64(frameLengthSize)+uint64(n) > r.payloadLen-phys {
		// A well-formed ring never produces this: every real frame fits
		// contiguously from its start offset. Seeing it means the header
		// or frame bytes are corrupt.
		return 0, nil, ErrParse
	}
	payload, err = r.readPayload(ctx, phys+frameLengthSize, uint64(n))
	if err != nil {
		return 0, nil, err
	}
	if payload == nil {
		// An empty frame is still a frame; only a skip returns nil.
		payload = []byte{}
	}
	return pos + uint64(frameLengthSize) + uint64(n), payload, nil
}

// Pop returns the next frame at the current consumer pointer without
// advancing it. Repeated calls return the same frame until Advance is
// called, making Pop idempotent. Returns ErrRetry if no frame is currently
// visible (C == P).
func (c *Consumer) Pop(ctx context.Context) (position uint64, item []byte, err error) {
	r := c.ring
	pos := r.C()
	p := r.P()
	for pos < p {
		next, payload, err := c.readFrameAt(ctx, pos)
		if err != nil {
			return 0, nil, err
		}
		if payload == nil {
			// Skip sentinel: keep scanning forward within the visible range.
			pos = next
			continue
		}
		return next, payload, nil
	}
	return 0, nil, ErrRetry
}

// Fold reads every frame currently visible in [C, P) in order, in memory,
// and returns them along with the exclusive end position. Passing end to
// Advance consumes everything returned by this call atomically.
func (c *Consumer) Fold(ctx context.Context) (frames [][]byte, end uint64, err error) {
	r := c.ring
	pos := r.C()
	p := r.P()
	for pos < p {
		next, payload, err := c.readFrameAt(ctx, pos)
		if err != nil {
			return nil, 0, err
		}
		if payload != nil {
			frames = append(frames, payload)
		}
		pos = next
	}
	return frames, pos, nil
}

// Advance durably moves C forward to pos, marking every frame up to it as
// consumed.
func (c *Consumer) Advance(ctx context.Context, pos uint64) error {
	return c.ring.advanceConsumer(ctx, pos)
}

// Suspend flips the ring's suspend flag so that further Producer.Push calls
// fail with ErrSuspended. It does not wait for any in-flight push to
// observe the change.
func (c *Consumer) Suspend(ctx context.Context) error {
	return c.ring.setSuspended(ctx, true)
}

// Resume clears the suspend flag.
func (c *Consumer) Resume(ctx context.Context) error {
	return c.ring.setSuspended(ctx, false)
}

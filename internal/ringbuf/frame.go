package ringbuf

import "encoding/binary"

// frameLengthSize is the width of the length prefix in every frame.
const frameLengthSize = 4

// skipSentinel is the length value that means "skip to offset 0 of the
// payload region" -- the wrap policy chosen in §3.2: a frame that would
// straddle the end of the payload region is never split; instead the
// producer writes this sentinel at the current offset and restarts the
// frame at offset 0.
const skipSentinel uint32 = 0xFFFFFFFF

// encodedFrameLen returns the number of bytes a frame containing payload
// occupies on the wire, including its length prefix.
func encodedFrameLen(payload []byte) uint64 {
	return uint64(frameLengthSize + len(payload))
}

func putFrameLength(buf []byte, n uint32) {
	binary.LittleEndian.PutUint32(buf, n)
}

func getFrameLength(buf []byte) uint32 {
	return binary.LittleEndian.Uint32(buf)
}

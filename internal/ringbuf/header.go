package ringbuf

import (
	"encoding/binary"
)

// On-disk ring header (§6.5): magic (8 bytes ASCII), version (u32 LE),
// reserved (u32), P (u64 LE), C (u64 LE), suspend flag (u8), padded to the
// device's sector size. The header always occupies exactly one sector.
const (
	Magic = "BLKRINGJ"

	// FormatVersion1 is the only format this package writes. It records
	// the wrap policy chosen in §3.2: sentinel skip-to-start.
	FormatVersion1 uint32 = 1

	headerMagicOffset    = 0
	headerVersionOffset  = 8
	headerReservedOffset = 12
	headerPOffset        = 16
	headerCOffset        = 24
	headerSuspendOffset  = 32
	headerMinSize        = 33
)

// header is the in-memory decoded form of the header sector.
type header struct {
	version   uint32
	p         uint64
	c         uint64
	suspended bool
}

// marshalHeader encodes h into a buffer of exactly sectorSize bytes. Panics
// if sectorSize is smaller than headerMinSize -- callers validate this once
// at Create/Attach time.
func marshalHeader(h header, sectorSize uint32) []byte {
	buf := make([]byte, sectorSize)
	copy(buf[headerMagicOffset:], []byte(Magic))
	binary.LittleEndian.PutUint32(buf[headerVersionOffset:], h.version)
	binary.LittleEndian.PutUint32(buf[headerReservedOffset:], 0)
	binary.LittleEndian.PutUint64(buf[headerPOffset:], h.p)
	binary.LittleEndian.PutUint64(buf[headerCOffset:], h.c)
	if h.suspended {
		buf[headerSuspendOffset] = 1
	}
	return buf
}

// unmarshalHeader decodes a header sector, validating the magic and version.
// A device that has never been formatted reads back as all zero bytes; that
// is reported as ErrNotInitialized rather than ErrBadMagic, which is
// reserved for a sector that holds some other format's non-zero magic.
func unmarshalHeader(buf []byte) (header, error) {
	if len(buf) < headerMinSize {
		return header{}, ErrNotInitialized
	}
	if isAllZero(buf[headerMagicOffset : headerMagicOffset+len(Magic)]) {
		return header{}, ErrNotInitialized
	}
	if string(buf[headerMagicOffset:headerMagicOffset+len(Magic)]) != Magic {
		return header{}, ErrBadMagic
	}
	version := binary.LittleEndian.Uint32(buf[headerVersionOffset:])
	if version != FormatVersion1 {
		return header{}, ErrBadVersion
	}
	h := header{
		version:   version,
		p:         binary.LittleEndian.Uint64(buf[headerPOffset:]),
		c:         binary.LittleEndian.Uint64(buf[headerCOffset:]),
		suspended: buf[headerSuspendOffset] != 0,
	}
	return h, nil
}

func isAllZero(buf []byte) bool {
	for _, b := range buf {
		if b != 0 {
			return false
		}
	}
	return true
}

package blockring

// BytesCodec is the simplest possible Codec: it treats every operation as a
// raw []byte and performs no transformation. Useful for callers that already
// have their own serialization, or that just want to journal opaque blobs.
type BytesCodec struct{}

func (BytesCodec) Encode(op any) ([]byte, error) {
	b, ok := op.([]byte)
	if !ok {
		return nil, NewError("BytesCodec.Encode", CodeParseError, "operation is not []byte")
	}
	return b, nil
}

func (BytesCodec) Decode(b []byte) (any, error) {
	cp := make([]byte, len(b))
	copy(cp, b)
	return cp, nil
}

// Package separator implements the Simplemux length-separator codec
// (spec.md §3, §4.1): the one- or two-byte framing prefix that precedes
// every payload inside a multiplexed bundle.
package separator

// Len returns the number of bytes Encode would produce for length.
func Len(length int) int {
	if length < 64 {
		return 1
	}
	return 2
}

// Encode returns the wire bytes for length (1 ≤ length ≤ 16383), MSB first:
//
//	one-byte form:  0 0 b5 b4 b3 b2 b1 b0
//	two-byte form:  0 1 b13 b12 b11 b10 b9 b8 | b7 b6 b5 b4 b3 b2 b1 b0
func Encode(length int) ([]byte, error) {
	if length < 1 || length > 16383 {
		return nil, ErrLengthOutOfRange
	}
	return AppendEncode(make([]byte, 0, 2), length)
}

// AppendEncode appends the wire bytes for length to dst and returns the
// grown slice, avoiding a per-call allocation when building a bundle.
func AppendEncode(dst []byte, length int) ([]byte, error) {
	if length < 1 || length > 16383 {
		return dst, ErrLengthOutOfRange
	}
	if length < 64 {
		return append(dst, byte(length)), nil
	}
	hi := byte((length>>8)&0x3F) | 0x40
	lo := byte(length)
	return append(dst, hi, lo), nil
}

// Decode reads one separator from the front of data and returns the
// declared payload length and the number of separator bytes consumed (1 or
// 2). It does not verify that the payload itself is present; callers must
// check that against the remaining buffer (spec.md §4.1 "post-check
// performed by the caller").
func Decode(data []byte) (length int, consumed int, err error) {
	if len(data) < 1 {
		return 0, 0, ErrShortBuffer
	}
	x := data[0]
	if x&0x80 != 0 {
		return 0, 0, ErrBadSeparator
	}
	if x&0x40 == 0 {
		return int(x & 0x3F), 1, nil
	}
	if len(data) < 2 {
		return 0, 0, ErrShortBuffer
	}
	y := data[1]
	return (int(x&0x3F) << 8) | int(y), 2, nil
}

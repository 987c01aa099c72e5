package separator

import "errors"

// ErrBadSeparator is returned when the first separator byte has bit 7 set,
// meaning the buffer does not begin with a valid Simplemux separator
// (spec.md §4.1). The caller must discard the remainder of the bundle.
var ErrBadSeparator = errors.New("separator: bad framing bit")

// ErrShortBuffer is returned by Decode when data is empty, or when the first
// byte announces the two-byte form and the second byte is missing. Decode
// does not check that the payload itself is present.
var ErrShortBuffer = errors.New("separator: short buffer")

// ErrLengthOutOfRange is returned by Encode when length is outside [1, 16383].
var ErrLengthOutOfRange = errors.New("separator: length out of range")

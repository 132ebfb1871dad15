// Package databuffer provides an owned, copy-on-assign byte container used
// for record payloads and read results throughout the ring buffer.
//
// Record payloads are opaque bytes; the string convenience methods support
// the common case of logging text events (the original design's primary
// use case) without forcing every caller to deal with raw byte slices.
package databuffer

// Buffer is a value-typed owned byte container. The zero value is an
// unallocated (absent) buffer.
type Buffer struct {
	data      []byte
	allocated bool
}

// New constructs a Buffer by copying len(p) bytes from p.
func New(p []byte) Buffer {
	if p == nil {
		return Buffer{}
	}
	cp := make([]byte, len(p))
	copy(cp, p)
	return Buffer{data: cp, allocated: true}
}

// NewFromString constructs a Buffer from a Go string, copying the bytes
// plus a trailing NUL so CString() returns the original text.
func NewFromString(s string) Buffer {
	cp := make([]byte, len(s)+1)
	copy(cp, s)
	cp[len(s)] = 0
	return Buffer{data: cp, allocated: true}
}

// Allocate resizes the buffer to length n, zero-filling it, and returns the
// resulting mutable byte slice for the caller to populate in place.
func (b *Buffer) Allocate(n int) []byte {
	b.data = make([]byte, n)
	b.allocated = true
	return b.data
}

// Truncate shortens the buffer to newLen, which must not exceed Len().
func (b *Buffer) Truncate(newLen int) {
	if !b.allocated || newLen > len(b.data) {
		return
	}
	b.data = b.data[:newLen]
}

// Len reports the number of bytes held, or 0 if unallocated.
func (b Buffer) Len() int {
	if !b.allocated {
		return 0
	}
	return len(b.data)
}

// Bytes returns the underlying bytes. The returned slice aliases the
// Buffer's storage; callers that need to retain it beyond the Buffer's
// lifetime should copy it.
func (b Buffer) Bytes() []byte {
	return b.data
}

// CString returns the buffer's contents interpreted as a NUL-terminated
// string, excluding the terminator. If the buffer is absent or not
// NUL-terminated, it returns a stable empty string rather than panicking.
func (b Buffer) CString() string {
	if !b.allocated || len(b.data) == 0 || b.data[len(b.data)-1] != 0 {
		return ""
	}
	return string(b.data[:len(b.data)-1])
}

// Equal reports whether two buffers hold identical bytes. Two unallocated
// buffers are not equal to each other (matching the "equality is false if
// either side is unallocated" rule).
func (b Buffer) Equal(other Buffer) bool {
	if !b.allocated || !other.allocated {
		return false
	}
	if len(b.data) != len(other.data) {
		return false
	}
	for i := range b.data {
		if b.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

// Allocated reports whether the buffer holds any storage at all,
// distinguishing a zero-length allocation from an absent one.
func (b Buffer) Allocated() bool {
	return b.allocated
}

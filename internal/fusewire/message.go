package fusewire

// Buffer-list composition. A FUSE message on the device is one contiguous
// read or write: a header followed by zero or more payload segments. The
// Compose helpers stitch segments into a single buffer and fix up the
// header's total-length field, so callers never account for lengths by
// hand.

// ComposeResponse encodes a response message from an out-header and payload
// segments. The header's Len field is computed from the segment total; any
// value the caller set is overwritten.
func ComposeResponse(h OutHeader, segments ...[]byte) []byte {
	total := SizeofOutHeader
	for _, seg := range segments {
		total += len(seg)
	}

	h.Len = uint32(total)

	buf := make([]byte, total)
	_, _ = h.Marshal(buf)

	off := SizeofOutHeader
	for _, seg := range segments {
		off += copy(buf[off:], seg)
	}

	return buf
}

// ComposeRequest encodes a request message from an in-header and payload
// segments, computing the Len field the same way the kernel does. The
// simulated server's tests use this to play the kernel side of the device.
func ComposeRequest(h InHeader, segments ...[]byte) []byte {
	total := SizeofInHeader
	for _, seg := range segments {
		total += len(seg)
	}

	h.Len = uint32(total)

	buf := make([]byte, total)
	_, _ = h.Marshal(buf)

	off := SizeofInHeader
	for _, seg := range segments {
		off += copy(buf[off:], seg)
	}

	return buf
}

// ErrorResponse encodes a header-only response carrying a negative errno,
// the shape the kernel expects for a failed operation.
func ErrorResponse(errno int32, unique uint64) []byte {
	return ComposeResponse(OutHeader{Error: errno, Unique: unique})
}

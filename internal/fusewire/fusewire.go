// Package fusewire implements the FUSE kernel wire protocol codec.
//
// Every structure here mirrors a struct from the kernel's
// include/uapi/linux/fuse.h byte for byte, including reserved and padding
// fields. The kernel exchanges these structures in host byte order over
// /dev/fuse, so all field access goes through binary.NativeEndian at fixed
// offsets.
package fusewire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Protocol Constants — include/uapi/linux/fuse.h
// -------------------------------------------------------------------------

// KernelVersion is the FUSE protocol major version.
const KernelVersion = 7

// KernelMinorVersion is the highest minor version this codec understands.
const KernelMinorVersion = 31

// MinReadBuffer is FUSE_MIN_READ_BUFFER: the smallest buffer the kernel
// accepts for a single read from /dev/fuse.
const MinReadBuffer = 8192

// SizeofInHeader is the size of struct fuse_in_header in bytes.
const SizeofInHeader = 40

// SizeofOutHeader is the size of struct fuse_out_header in bytes.
const SizeofOutHeader = 16

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	// ErrTruncated indicates a buffer shorter than the minimum size for
	// the structure being decoded. A truncated message from the kernel is
	// a protocol violation, never silently recovered.
	ErrTruncated = errors.New("truncated FUSE message")

	// ErrBufTooSmall indicates the caller-provided buffer cannot hold the
	// structure being encoded.
	ErrBufTooSmall = errors.New("buffer too small for FUSE structure")

	// ErrLengthMismatch indicates a header whose Len field disagrees with
	// the number of bytes actually read from the device.
	ErrLengthMismatch = errors.New("FUSE header length mismatch")
)

// -------------------------------------------------------------------------
// InHeader — struct fuse_in_header
// -------------------------------------------------------------------------

// InHeader is the header the kernel prepends to every FUSE request.
//
// Wire format (40 bytes):
//
//	Bytes 0-3:   Len (total request length including this header)
//	Bytes 4-7:   Opcode
//	Bytes 8-15:  Unique (request identifier, echoed in the response)
//	Bytes 16-23: NodeID
//	Bytes 24-27: UID
//	Bytes 28-31: GID
//	Bytes 32-35: PID
//	Bytes 36-39: Padding
type InHeader struct {
	Len     uint32
	Opcode  Opcode
	Unique  uint64
	NodeID  uint64
	UID     uint32
	GID     uint32
	PID     uint32
	Padding uint32
}

// Marshal serializes the header into buf and returns the number of bytes
// written. buf must be at least SizeofInHeader bytes.
func (h *InHeader) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofInHeader {
		return 0, fmt.Errorf("marshal fuse_in_header: need %d bytes, got %d: %w",
			SizeofInHeader, len(buf), ErrBufTooSmall)
	}

	binary.NativeEndian.PutUint32(buf[0:4], h.Len)
	binary.NativeEndian.PutUint32(buf[4:8], uint32(h.Opcode))
	binary.NativeEndian.PutUint64(buf[8:16], h.Unique)
	binary.NativeEndian.PutUint64(buf[16:24], h.NodeID)
	binary.NativeEndian.PutUint32(buf[24:28], h.UID)
	binary.NativeEndian.PutUint32(buf[28:32], h.GID)
	binary.NativeEndian.PutUint32(buf[32:36], h.PID)
	binary.NativeEndian.PutUint32(buf[36:40], h.Padding)

	return SizeofInHeader, nil
}

// Unmarshal decodes the header from buf. The buffer may be longer than the
// header; extra bytes are the request payload and are not touched.
func (h *InHeader) Unmarshal(buf []byte) error {
	if len(buf) < SizeofInHeader {
		return fmt.Errorf("unmarshal fuse_in_header: got %d bytes, need %d: %w",
			len(buf), SizeofInHeader, ErrTruncated)
	}

	h.Len = binary.NativeEndian.Uint32(buf[0:4])
	h.Opcode = Opcode(binary.NativeEndian.Uint32(buf[4:8]))
	h.Unique = binary.NativeEndian.Uint64(buf[8:16])
	h.NodeID = binary.NativeEndian.Uint64(buf[16:24])
	h.UID = binary.NativeEndian.Uint32(buf[24:28])
	h.GID = binary.NativeEndian.Uint32(buf[28:32])
	h.PID = binary.NativeEndian.Uint32(buf[32:36])
	h.Padding = binary.NativeEndian.Uint32(buf[36:40])

	return nil
}

// -------------------------------------------------------------------------
// OutHeader — struct fuse_out_header
// -------------------------------------------------------------------------

// OutHeader is the header every FUSE response starts with.
//
// Wire format (16 bytes):
//
//	Bytes 0-3:  Len (total response length including this header)
//	Bytes 4-7:  Error (0 on success, negative errno on failure)
//	Bytes 8-15: Unique (copied from the request's InHeader)
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

// Marshal serializes the header into buf and returns the number of bytes
// written. buf must be at least SizeofOutHeader bytes.
func (h *OutHeader) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofOutHeader {
		return 0, fmt.Errorf("marshal fuse_out_header: need %d bytes, got %d: %w",
			SizeofOutHeader, len(buf), ErrBufTooSmall)
	}

	binary.NativeEndian.PutUint32(buf[0:4], h.Len)
	binary.NativeEndian.PutUint32(buf[4:8], uint32(h.Error))
	binary.NativeEndian.PutUint64(buf[8:16], h.Unique)

	return SizeofOutHeader, nil
}

// Unmarshal decodes the header from buf.
func (h *OutHeader) Unmarshal(buf []byte) error {
	if len(buf) < SizeofOutHeader {
		return fmt.Errorf("unmarshal fuse_out_header: got %d bytes, need %d: %w",
			len(buf), SizeofOutHeader, ErrTruncated)
	}

	h.Len = binary.NativeEndian.Uint32(buf[0:4])
	h.Error = int32(binary.NativeEndian.Uint32(buf[4:8]))
	h.Unique = binary.NativeEndian.Uint64(buf[8:16])

	return nil
}

// RewriteUnique overwrites the Unique field of an already-encoded response
// in place, without disturbing any other byte. The simulated server uses
// this to stamp a canned response with the identifier of the request it is
// answering.
func RewriteUnique(resp []byte, unique uint64) error {
	if len(resp) < SizeofOutHeader {
		return fmt.Errorf("rewrite unique: response %d bytes, need %d: %w",
			len(resp), SizeofOutHeader, ErrTruncated)
	}
	binary.NativeEndian.PutUint64(resp[8:16], unique)
	return nil
}

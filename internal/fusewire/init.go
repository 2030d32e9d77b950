package fusewire

import (
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Init handshake — struct fuse_init_in / struct fuse_init_out
// -------------------------------------------------------------------------

// SizeofInitIn is the size of struct fuse_init_in in bytes (7.36+ layout;
// older kernels send a 16 byte prefix of the same layout).
const SizeofInitIn = 64

// SizeofInitOut is the size of struct fuse_init_out in bytes.
const SizeofInitOut = 64

// InitIn is the request body of FUSE_INIT, the first request the kernel
// sends after a mount.
type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        uint32
}

// Unmarshal decodes the body from buf. Only the first 16 bytes are
// versioned fields the harness cares about; kernels newer than 7.36 append
// flags2 and reserved words that are ignored here.
func (i *InitIn) Unmarshal(buf []byte) error {
	if len(buf) < 16 {
		return fmt.Errorf("unmarshal fuse_init_in: got %d bytes, need 16: %w",
			len(buf), ErrTruncated)
	}

	i.Major = binary.NativeEndian.Uint32(buf[0:4])
	i.Minor = binary.NativeEndian.Uint32(buf[4:8])
	i.MaxReadahead = binary.NativeEndian.Uint32(buf[8:12])
	i.Flags = binary.NativeEndian.Uint32(buf[12:16])

	return nil
}

// InitOut is the response body of FUSE_INIT.
//
// Wire format (64 bytes): Major, Minor, MaxReadahead, Flags as uint32,
// MaxBackground, CongestionThreshold as uint16, MaxWrite, TimeGran as
// uint32, MaxPages, MapAlignment as uint16, then reserved words.
type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	MapAlignment        uint16
}

// Marshal serializes the body into buf, zeroing the reserved tail.
func (o *InitOut) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofInitOut {
		return 0, fmt.Errorf("marshal fuse_init_out: need %d bytes, got %d: %w",
			SizeofInitOut, len(buf), ErrBufTooSmall)
	}

	binary.NativeEndian.PutUint32(buf[0:4], o.Major)
	binary.NativeEndian.PutUint32(buf[4:8], o.Minor)
	binary.NativeEndian.PutUint32(buf[8:12], o.MaxReadahead)
	binary.NativeEndian.PutUint32(buf[12:16], o.Flags)
	binary.NativeEndian.PutUint16(buf[16:18], o.MaxBackground)
	binary.NativeEndian.PutUint16(buf[18:20], o.CongestionThreshold)
	binary.NativeEndian.PutUint32(buf[20:24], o.MaxWrite)
	binary.NativeEndian.PutUint32(buf[24:28], o.TimeGran)
	binary.NativeEndian.PutUint16(buf[28:30], o.MaxPages)
	binary.NativeEndian.PutUint16(buf[30:32], o.MapAlignment)
	clear(buf[32:SizeofInitOut])

	return SizeofInitOut, nil
}

// Unmarshal decodes the body from buf.
func (o *InitOut) Unmarshal(buf []byte) error {
	if len(buf) < SizeofInitOut {
		return fmt.Errorf("unmarshal fuse_init_out: got %d bytes, need %d: %w",
			len(buf), SizeofInitOut, ErrTruncated)
	}

	o.Major = binary.NativeEndian.Uint32(buf[0:4])
	o.Minor = binary.NativeEndian.Uint32(buf[4:8])
	o.MaxReadahead = binary.NativeEndian.Uint32(buf[8:12])
	o.Flags = binary.NativeEndian.Uint32(buf[12:16])
	o.MaxBackground = binary.NativeEndian.Uint16(buf[16:18])
	o.CongestionThreshold = binary.NativeEndian.Uint16(buf[18:20])
	o.MaxWrite = binary.NativeEndian.Uint32(buf[20:24])
	o.TimeGran = binary.NativeEndian.Uint32(buf[24:28])
	o.MaxPages = binary.NativeEndian.Uint16(buf[28:30])
	o.MapAlignment = binary.NativeEndian.Uint16(buf[30:32])

	return nil
}

// Bytes allocates and returns the encoded body.
func (o *InitOut) Bytes() []byte {
	buf := make([]byte, SizeofInitOut)
	_, _ = o.Marshal(buf)
	return buf
}

package fusewire

import (
	"encoding/binary"
	"fmt"
)

// -------------------------------------------------------------------------
// Attr — struct fuse_attr
// -------------------------------------------------------------------------

// SizeofAttr is the size of struct fuse_attr in bytes.
const SizeofAttr = 88

// SizeofAttrOut is the size of struct fuse_attr_out in bytes.
const SizeofAttrOut = 16 + SizeofAttr

// SizeofGetattrIn is the size of struct fuse_getattr_in in bytes.
const SizeofGetattrIn = 16

// SizeofEntryOut is the size of struct fuse_entry_out in bytes.
const SizeofEntryOut = 40 + SizeofAttr

// Attr carries a filesystem node's full metadata in the FUSE wire layout.
//
// Wire format (88 bytes): Ino, Size, Blocks, Atime, Mtime, Ctime as
// uint64, then AtimeNsec, MtimeNsec, CtimeNsec, Mode, Nlink, UID, GID,
// Rdev, Blksize, Flags as uint32.
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	UID       uint32
	GID       uint32
	Rdev      uint32
	Blksize   uint32
	Flags     uint32
}

// Marshal serializes the attribute block into buf.
func (a *Attr) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofAttr {
		return 0, fmt.Errorf("marshal fuse_attr: need %d bytes, got %d: %w",
			SizeofAttr, len(buf), ErrBufTooSmall)
	}

	binary.NativeEndian.PutUint64(buf[0:8], a.Ino)
	binary.NativeEndian.PutUint64(buf[8:16], a.Size)
	binary.NativeEndian.PutUint64(buf[16:24], a.Blocks)
	binary.NativeEndian.PutUint64(buf[24:32], a.Atime)
	binary.NativeEndian.PutUint64(buf[32:40], a.Mtime)
	binary.NativeEndian.PutUint64(buf[40:48], a.Ctime)
	binary.NativeEndian.PutUint32(buf[48:52], a.AtimeNsec)
	binary.NativeEndian.PutUint32(buf[52:56], a.MtimeNsec)
	binary.NativeEndian.PutUint32(buf[56:60], a.CtimeNsec)
	binary.NativeEndian.PutUint32(buf[60:64], a.Mode)
	binary.NativeEndian.PutUint32(buf[64:68], a.Nlink)
	binary.NativeEndian.PutUint32(buf[68:72], a.UID)
	binary.NativeEndian.PutUint32(buf[72:76], a.GID)
	binary.NativeEndian.PutUint32(buf[76:80], a.Rdev)
	binary.NativeEndian.PutUint32(buf[80:84], a.Blksize)
	binary.NativeEndian.PutUint32(buf[84:88], a.Flags)

	return SizeofAttr, nil
}

// Unmarshal decodes the attribute block from buf.
func (a *Attr) Unmarshal(buf []byte) error {
	if len(buf) < SizeofAttr {
		return fmt.Errorf("unmarshal fuse_attr: got %d bytes, need %d: %w",
			len(buf), SizeofAttr, ErrTruncated)
	}

	a.Ino = binary.NativeEndian.Uint64(buf[0:8])
	a.Size = binary.NativeEndian.Uint64(buf[8:16])
	a.Blocks = binary.NativeEndian.Uint64(buf[16:24])
	a.Atime = binary.NativeEndian.Uint64(buf[24:32])
	a.Mtime = binary.NativeEndian.Uint64(buf[32:40])
	a.Ctime = binary.NativeEndian.Uint64(buf[40:48])
	a.AtimeNsec = binary.NativeEndian.Uint32(buf[48:52])
	a.MtimeNsec = binary.NativeEndian.Uint32(buf[52:56])
	a.CtimeNsec = binary.NativeEndian.Uint32(buf[56:60])
	a.Mode = binary.NativeEndian.Uint32(buf[60:64])
	a.Nlink = binary.NativeEndian.Uint32(buf[64:68])
	a.UID = binary.NativeEndian.Uint32(buf[68:72])
	a.GID = binary.NativeEndian.Uint32(buf[72:76])
	a.Rdev = binary.NativeEndian.Uint32(buf[76:80])
	a.Blksize = binary.NativeEndian.Uint32(buf[80:84])
	a.Flags = binary.NativeEndian.Uint32(buf[84:88])

	return nil
}

// DefaultAttr returns a canned attribute block for conformance scenarios:
// regular-file metadata with the given mode, link count and inode, a 512
// byte size in one 4096 byte block, and all timestamps zero.
func DefaultAttr(mode uint32, nlink uint32, ino uint64) Attr {
	return Attr{
		Ino:     ino,
		Size:    512,
		Blocks:  4,
		Mode:    mode,
		Nlink:   nlink,
		Blksize: 4096,
	}
}

// -------------------------------------------------------------------------
// GetattrIn — struct fuse_getattr_in
// -------------------------------------------------------------------------

// GetattrIn is the request body of FUSE_GETATTR.
//
// Wire format (16 bytes): Flags, Dummy as uint32, then Fh as uint64.
type GetattrIn struct {
	Flags uint32
	Dummy uint32
	Fh    uint64
}

// Marshal serializes the body into buf.
func (g *GetattrIn) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofGetattrIn {
		return 0, fmt.Errorf("marshal fuse_getattr_in: need %d bytes, got %d: %w",
			SizeofGetattrIn, len(buf), ErrBufTooSmall)
	}

	binary.NativeEndian.PutUint32(buf[0:4], g.Flags)
	binary.NativeEndian.PutUint32(buf[4:8], g.Dummy)
	binary.NativeEndian.PutUint64(buf[8:16], g.Fh)

	return SizeofGetattrIn, nil
}

// Unmarshal decodes the body from buf.
func (g *GetattrIn) Unmarshal(buf []byte) error {
	if len(buf) < SizeofGetattrIn {
		return fmt.Errorf("unmarshal fuse_getattr_in: got %d bytes, need %d: %w",
			len(buf), SizeofGetattrIn, ErrTruncated)
	}

	g.Flags = binary.NativeEndian.Uint32(buf[0:4])
	g.Dummy = binary.NativeEndian.Uint32(buf[4:8])
	g.Fh = binary.NativeEndian.Uint64(buf[8:16])

	return nil
}

// -------------------------------------------------------------------------
// AttrOut — struct fuse_attr_out
// -------------------------------------------------------------------------

// AttrOut is the response body of FUSE_GETATTR.
//
// Wire format (104 bytes): AttrValid uint64, AttrValidNsec uint32,
// Dummy uint32, then the embedded Attr.
type AttrOut struct {
	AttrValid     uint64
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

// Marshal serializes the body into buf.
func (o *AttrOut) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofAttrOut {
		return 0, fmt.Errorf("marshal fuse_attr_out: need %d bytes, got %d: %w",
			SizeofAttrOut, len(buf), ErrBufTooSmall)
	}

	binary.NativeEndian.PutUint64(buf[0:8], o.AttrValid)
	binary.NativeEndian.PutUint32(buf[8:12], o.AttrValidNsec)
	binary.NativeEndian.PutUint32(buf[12:16], o.Dummy)
	if _, err := o.Attr.Marshal(buf[16:]); err != nil {
		return 0, err
	}

	return SizeofAttrOut, nil
}

// Unmarshal decodes the body from buf.
func (o *AttrOut) Unmarshal(buf []byte) error {
	if len(buf) < SizeofAttrOut {
		return fmt.Errorf("unmarshal fuse_attr_out: got %d bytes, need %d: %w",
			len(buf), SizeofAttrOut, ErrTruncated)
	}

	o.AttrValid = binary.NativeEndian.Uint64(buf[0:8])
	o.AttrValidNsec = binary.NativeEndian.Uint32(buf[8:12])
	o.Dummy = binary.NativeEndian.Uint32(buf[12:16])

	return o.Attr.Unmarshal(buf[16:])
}

// Bytes allocates and returns the encoded body. Useful when composing a
// response buffer-list.
func (o *AttrOut) Bytes() []byte {
	buf := make([]byte, SizeofAttrOut)
	_, _ = o.Marshal(buf)
	return buf
}

// -------------------------------------------------------------------------
// EntryOut — struct fuse_entry_out
// -------------------------------------------------------------------------

// EntryOut is the response body of FUSE_LOOKUP.
//
// Wire format (128 bytes): NodeID, Generation, EntryValid, AttrValid as
// uint64, EntryValidNsec, AttrValidNsec as uint32, then the embedded Attr.
type EntryOut struct {
	NodeID         uint64
	Generation     uint64
	EntryValid     uint64
	AttrValid      uint64
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

// Marshal serializes the body into buf.
func (e *EntryOut) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofEntryOut {
		return 0, fmt.Errorf("marshal fuse_entry_out: need %d bytes, got %d: %w",
			SizeofEntryOut, len(buf), ErrBufTooSmall)
	}

	binary.NativeEndian.PutUint64(buf[0:8], e.NodeID)
	binary.NativeEndian.PutUint64(buf[8:16], e.Generation)
	binary.NativeEndian.PutUint64(buf[16:24], e.EntryValid)
	binary.NativeEndian.PutUint64(buf[24:32], e.AttrValid)
	binary.NativeEndian.PutUint32(buf[32:36], e.EntryValidNsec)
	binary.NativeEndian.PutUint32(buf[36:40], e.AttrValidNsec)
	if _, err := e.Attr.Marshal(buf[40:]); err != nil {
		return 0, err
	}

	return SizeofEntryOut, nil
}

// Unmarshal decodes the body from buf.
func (e *EntryOut) Unmarshal(buf []byte) error {
	if len(buf) < SizeofEntryOut {
		return fmt.Errorf("unmarshal fuse_entry_out: got %d bytes, need %d: %w",
			len(buf), SizeofEntryOut, ErrTruncated)
	}

	e.NodeID = binary.NativeEndian.Uint64(buf[0:8])
	e.Generation = binary.NativeEndian.Uint64(buf[8:16])
	e.EntryValid = binary.NativeEndian.Uint64(buf[16:24])
	e.AttrValid = binary.NativeEndian.Uint64(buf[24:32])
	e.EntryValidNsec = binary.NativeEndian.Uint32(buf[32:36])
	e.AttrValidNsec = binary.NativeEndian.Uint32(buf[36:40])

	return e.Attr.Unmarshal(buf[40:])
}

// Bytes allocates and returns the encoded body.
func (e *EntryOut) Bytes() []byte {
	buf := make([]byte, SizeofEntryOut)
	_, _ = e.Marshal(buf)
	return buf
}

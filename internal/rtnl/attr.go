package rtnl

import (
	"encoding/binary"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Attribute (rtattr) Encoding
// -------------------------------------------------------------------------

// attrHeaderLen is the size of struct rtattr: length then type, both
// uint16.
const attrHeaderLen = unix.SizeofRtAttr

// attrAlign is RTA_ALIGNTO: attributes are packed on this boundary.
const attrAlign = unix.RTA_ALIGNTO

// alignAttr rounds n up to the attribute alignment boundary.
func alignAttr(n int) int {
	return (n + attrAlign - 1) &^ (attrAlign - 1)
}

// AppendAttr appends one attribute to buf and returns the extended slice.
// The attribute's declared length covers header plus value; padding bytes
// inserted to reach the alignment boundary are zeroed and excluded from
// the declared length, matching RTA_LENGTH/RTA_SPACE.
func AppendAttr(buf []byte, typ uint16, value []byte) []byte {
	declared := attrHeaderLen + len(value)
	padded := alignAttr(declared)

	off := len(buf)
	buf = append(buf, make([]byte, padded)...)

	binary.NativeEndian.PutUint16(buf[off:off+2], uint16(declared))
	binary.NativeEndian.PutUint16(buf[off+2:off+4], typ)
	copy(buf[off+attrHeaderLen:], value)

	return buf
}

// AppendAttrU32 appends a uint32-valued attribute in host byte order.
func AppendAttrU32(buf []byte, typ uint16, value uint32) []byte {
	var v [4]byte
	binary.NativeEndian.PutUint32(v[:], value)
	return AppendAttr(buf, typ, v[:])
}

// -------------------------------------------------------------------------
// Attribute Iteration
// -------------------------------------------------------------------------

// Attr is one decoded attribute. Data aliases the iterator's underlying
// buffer and stays valid only as long as that buffer does.
type Attr struct {
	Type uint16
	Data []byte
}

// Uint32 decodes the attribute value as a host-order uint32.
func (a Attr) Uint32() (uint32, bool) {
	if len(a.Data) < 4 {
		return 0, false
	}
	return binary.NativeEndian.Uint32(a.Data[0:4]), true
}

// String decodes the attribute value as a NUL-terminated string.
func (a Attr) String() string {
	for i, b := range a.Data {
		if b == 0 {
			return string(a.Data[:i])
		}
	}
	return string(a.Data)
}

// AttrIterator walks a packed attribute region lazily, one attribute per
// Next call. Iteration ends when fewer bytes remain than a valid attribute
// header, when an attribute declares a length shorter than its own header,
// or when the declared length overruns the region. Trailing bytes that do
// not form a complete attribute are ignored, mirroring RTA_OK.
//
// The iterator does not retain or copy the region; Reset rewinds it for
// another pass over the same bytes.
type AttrIterator struct {
	region []byte
	rest   []byte
}

// NewAttrIterator returns an iterator over the packed attribute region.
func NewAttrIterator(region []byte) *AttrIterator {
	return &AttrIterator{region: region, rest: region}
}

// Next returns the next attribute. ok is false once the region is
// exhausted; afterwards every call keeps returning false until Reset.
func (it *AttrIterator) Next() (attr Attr, ok bool) {
	if len(it.rest) < attrHeaderLen {
		it.rest = nil
		return Attr{}, false
	}

	declared := int(binary.NativeEndian.Uint16(it.rest[0:2]))
	if declared < attrHeaderLen || declared > len(it.rest) {
		it.rest = nil
		return Attr{}, false
	}

	attr = Attr{
		Type: binary.NativeEndian.Uint16(it.rest[2:4]),
		Data: it.rest[attrHeaderLen:declared],
	}

	advance := alignAttr(declared)
	if advance >= len(it.rest) {
		it.rest = nil
	} else {
		it.rest = it.rest[advance:]
	}

	return attr, true
}

// Reset rewinds the iterator to the start of its region.
func (it *AttrIterator) Reset() {
	it.rest = it.region
}

// Package rtnl implements the NETLINK_ROUTE wire protocol pieces the
// conformance harness needs: the message header and neighbor-table codec,
// the attribute (rtattr) builder and iterator, a bound request/response
// socket, the request/response correlator, and thin neighbor-table
// helpers built on top of it.
//
// Structures mirror include/uapi/linux/netlink.h and rtnetlink.h byte for
// byte. Netlink is a host-byte-order protocol, so all field access goes
// through binary.NativeEndian at fixed offsets. Message-type and flag
// constants come from golang.org/x/sys/unix rather than being redeclared.
package rtnl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Wire Constants — include/uapi/linux/netlink.h
// -------------------------------------------------------------------------

// SizeofMsgHeader is the size of struct nlmsghdr in bytes.
const SizeofMsgHeader = unix.SizeofNlMsghdr

// SizeofNeighMsg is the size of struct ndmsg in bytes.
const SizeofNeighMsg = unix.SizeofNdMsg

// SizeofLinkMsg is the size of struct ifinfomsg in bytes.
const SizeofLinkMsg = unix.SizeofIfInfomsg

// msgAlign is NLMSG_ALIGNTO: messages within one datagram are aligned to
// this boundary.
const msgAlign = unix.NLMSG_ALIGNTO

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

var (
	// ErrTruncated indicates a buffer shorter than the declared or
	// minimum size of the structure being decoded.
	ErrTruncated = errors.New("truncated netlink message")

	// ErrBadSequence indicates a reply whose sequence number does not
	// match the request it should correlate with. This is a protocol
	// violation by the kernel under test.
	ErrBadSequence = errors.New("netlink reply sequence mismatch")

	// ErrBadPortID indicates a reply addressed to a port identity other
	// than the receiving socket's.
	ErrBadPortID = errors.New("netlink reply port ID mismatch")

	// ErrKernelReply wraps the errno carried by an NLMSG_ERROR reply.
	// Callers unwrap to the unix.Errno to decide whether the failure was
	// an expected scenario outcome (e.g. ENOENT) or a setup problem.
	ErrKernelReply = errors.New("kernel reported error")

	// ErrStopIteration is returned by a message handler to end a dump
	// exchange early without signalling failure.
	ErrStopIteration = errors.New("stop iteration")
)

// align rounds n up to the netlink alignment boundary.
func align(n int) int {
	return (n + msgAlign - 1) &^ (msgAlign - 1)
}

// -------------------------------------------------------------------------
// MsgHeader — struct nlmsghdr
// -------------------------------------------------------------------------

// MsgHeader is the fixed header every netlink message starts with.
//
// Wire format (16 bytes):
//
//	Bytes 0-3:   Len (total message length including this header)
//	Bytes 4-5:   Type
//	Bytes 6-7:   Flags
//	Bytes 8-11:  Seq (request sequence number, echoed in replies)
//	Bytes 12-15: PortID (destination port identity; the bound socket's
//	             port in kernel-to-user replies)
type MsgHeader struct {
	Len    uint32
	Type   uint16
	Flags  uint16
	Seq    uint32
	PortID uint32
}

// Marshal serializes the header into buf and returns the number of bytes
// written.
func (h *MsgHeader) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofMsgHeader {
		return 0, fmt.Errorf("marshal nlmsghdr: need %d bytes, got %d: %w",
			SizeofMsgHeader, len(buf), ErrTruncated)
	}

	binary.NativeEndian.PutUint32(buf[0:4], h.Len)
	binary.NativeEndian.PutUint16(buf[4:6], h.Type)
	binary.NativeEndian.PutUint16(buf[6:8], h.Flags)
	binary.NativeEndian.PutUint32(buf[8:12], h.Seq)
	binary.NativeEndian.PutUint32(buf[12:16], h.PortID)

	return SizeofMsgHeader, nil
}

// Unmarshal decodes the header from buf.
func (h *MsgHeader) Unmarshal(buf []byte) error {
	if len(buf) < SizeofMsgHeader {
		return fmt.Errorf("unmarshal nlmsghdr: got %d bytes, need %d: %w",
			len(buf), SizeofMsgHeader, ErrTruncated)
	}

	h.Len = binary.NativeEndian.Uint32(buf[0:4])
	h.Type = binary.NativeEndian.Uint16(buf[4:6])
	h.Flags = binary.NativeEndian.Uint16(buf[6:8])
	h.Seq = binary.NativeEndian.Uint32(buf[8:12])
	h.PortID = binary.NativeEndian.Uint32(buf[12:16])

	return nil
}

// -------------------------------------------------------------------------
// NeighMsg — struct ndmsg
// -------------------------------------------------------------------------

// NeighMsg is the fixed body of the neighbor-table message family
// (RTM_NEWNEIGH, RTM_DELNEIGH, RTM_GETNEIGH).
//
// Wire format (12 bytes): Family uint8, two padding bytes ignored by the
// kernel, IfIndex int32, State uint16, Flags uint8, Type uint8.
type NeighMsg struct {
	Family  uint8
	IfIndex int32
	State   uint16
	Flags   uint8
	Type    uint8
}

// Marshal serializes the body into buf, zeroing the padding bytes.
func (m *NeighMsg) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofNeighMsg {
		return 0, fmt.Errorf("marshal ndmsg: need %d bytes, got %d: %w",
			SizeofNeighMsg, len(buf), ErrTruncated)
	}

	buf[0] = m.Family
	buf[1] = 0
	binary.NativeEndian.PutUint16(buf[2:4], 0)
	binary.NativeEndian.PutUint32(buf[4:8], uint32(m.IfIndex))
	binary.NativeEndian.PutUint16(buf[8:10], m.State)
	buf[10] = m.Flags
	buf[11] = m.Type

	return SizeofNeighMsg, nil
}

// Unmarshal decodes the body from buf.
func (m *NeighMsg) Unmarshal(buf []byte) error {
	if len(buf) < SizeofNeighMsg {
		return fmt.Errorf("unmarshal ndmsg: got %d bytes, need %d: %w",
			len(buf), SizeofNeighMsg, ErrTruncated)
	}

	m.Family = buf[0]
	m.IfIndex = int32(binary.NativeEndian.Uint32(buf[4:8]))
	m.State = binary.NativeEndian.Uint16(buf[8:10])
	m.Flags = buf[10]
	m.Type = buf[11]

	return nil
}

// -------------------------------------------------------------------------
// LinkMsg — struct ifinfomsg
// -------------------------------------------------------------------------

// LinkMsg is the fixed body of the link message family (RTM_GETLINK,
// RTM_NEWLINK).
//
// Wire format (16 bytes): Family uint8, one padding byte, Type uint16,
// Index int32, Flags uint32, Change uint32.
type LinkMsg struct {
	Family uint8
	Type   uint16
	Index  int32
	Flags  uint32
	Change uint32
}

// Marshal serializes the body into buf, zeroing the padding byte.
func (m *LinkMsg) Marshal(buf []byte) (int, error) {
	if len(buf) < SizeofLinkMsg {
		return 0, fmt.Errorf("marshal ifinfomsg: need %d bytes, got %d: %w",
			SizeofLinkMsg, len(buf), ErrTruncated)
	}

	buf[0] = m.Family
	buf[1] = 0
	binary.NativeEndian.PutUint16(buf[2:4], m.Type)
	binary.NativeEndian.PutUint32(buf[4:8], uint32(m.Index))
	binary.NativeEndian.PutUint32(buf[8:12], m.Flags)
	binary.NativeEndian.PutUint32(buf[12:16], m.Change)

	return SizeofLinkMsg, nil
}

// Unmarshal decodes the body from buf.
func (m *LinkMsg) Unmarshal(buf []byte) error {
	if len(buf) < SizeofLinkMsg {
		return fmt.Errorf("unmarshal ifinfomsg: got %d bytes, need %d: %w",
			len(buf), SizeofLinkMsg, ErrTruncated)
	}

	m.Family = buf[0]
	m.Type = binary.NativeEndian.Uint16(buf[2:4])
	m.Index = int32(binary.NativeEndian.Uint32(buf[4:8]))
	m.Flags = binary.NativeEndian.Uint32(buf[8:12])
	m.Change = binary.NativeEndian.Uint32(buf[12:16])

	return nil
}

// -------------------------------------------------------------------------
// Message Composition
// -------------------------------------------------------------------------

// Compose encodes a complete netlink message from a header and payload
// segments. The header's Len field is computed from the segment total; any
// value the caller set is overwritten.
func Compose(h MsgHeader, segments ...[]byte) []byte {
	total := SizeofMsgHeader
	for _, seg := range segments {
		total += len(seg)
	}

	h.Len = uint32(total)

	buf := make([]byte, total)
	_, _ = h.Marshal(buf)

	off := SizeofMsgHeader
	for _, seg := range segments {
		off += copy(buf[off:], seg)
	}

	return buf
}

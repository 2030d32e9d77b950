package rtnl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// recvBufSize is the per-datagram receive buffer used by Exchange. Dump
// replies for the tables the harness inspects fit comfortably.
const recvBufSize = 8192

// Socket is the transport an Exchange runs over. *Conn is the production
// implementation; tests substitute an in-memory double.
type Socket interface {
	Send(msg []byte) error
	Recv(buf []byte) (int, error)
	PortID() uint32
	Close() error
}

// Message is one reply delivered to an Exchange handler. Payload is the
// bytes following the header and aliases the receive buffer, so handlers
// must not retain it across calls.
type Message struct {
	Header  MsgHeader
	Payload []byte
}

// Neigh decodes the payload's fixed ndmsg body and returns an iterator
// over the attributes that follow it.
func (m Message) Neigh() (NeighMsg, *AttrIterator, error) {
	var body NeighMsg
	if err := body.Unmarshal(m.Payload); err != nil {
		return NeighMsg{}, nil, err
	}
	return body, NewAttrIterator(m.Payload[SizeofNeighMsg:]), nil
}

// Link decodes the payload's fixed ifinfomsg body and returns an iterator
// over the attributes that follow it.
func (m Message) Link() (LinkMsg, *AttrIterator, error) {
	var body LinkMsg
	if err := body.Unmarshal(m.Payload); err != nil {
		return LinkMsg{}, nil, err
	}
	return body, NewAttrIterator(m.Payload[SizeofLinkMsg:]), nil
}

// Handler consumes one validated reply message. Returning ErrStopIteration
// ends a dump early without error; any other non-nil error aborts the
// exchange and is returned from Exchange unchanged.
type Handler func(Message) error

// Exchange sends req and correlates the kernel's reply stream against it.
//
// Every reply must echo the request's sequence number and carry the
// socket's port identity; a mismatch aborts with ErrBadSequence or
// ErrBadPortID. An NLMSG_ERROR reply with a nonzero errno aborts with an
// error wrapping both ErrKernelReply and the unix.Errno; a zero errno is
// the kernel's acknowledgment and ends the exchange successfully without
// invoking the handler.
//
// When dump is false the exchange ends after the first substantive reply
// (or acknowledgment). When dump is true it consumes NLM_F_MULTI parts
// across as many datagrams as needed until NLMSG_DONE, passing each
// substantive message to the handler.
func Exchange(s Socket, req []byte, dump bool, handle Handler) error {
	var reqHdr MsgHeader
	if err := reqHdr.Unmarshal(req); err != nil {
		return fmt.Errorf("exchange request: %w", err)
	}

	if err := s.Send(req); err != nil {
		return err
	}

	buf := make([]byte, recvBufSize)
	for {
		n, err := s.Recv(buf)
		if err != nil {
			return err
		}

		done, err := walkDatagram(s, reqHdr.Seq, buf[:n], dump, handle)
		if err != nil {
			if errors.Is(err, ErrStopIteration) {
				return nil
			}
			return err
		}
		if done {
			return nil
		}
	}
}

// walkDatagram processes every message packed into one received datagram.
// It reports done=true when the exchange is complete.
func walkDatagram(s Socket, seq uint32, data []byte, dump bool, handle Handler) (bool, error) {
	for len(data) > 0 {
		var hdr MsgHeader
		if err := hdr.Unmarshal(data); err != nil {
			return false, err
		}
		if int(hdr.Len) < SizeofMsgHeader || int(hdr.Len) > len(data) {
			return false, fmt.Errorf("netlink message declares %d bytes, %d remain: %w",
				hdr.Len, len(data), ErrTruncated)
		}

		if hdr.Seq != seq {
			return false, fmt.Errorf("reply sequence %d, request sequence %d: %w",
				hdr.Seq, seq, ErrBadSequence)
		}
		if hdr.PortID != s.PortID() {
			return false, fmt.Errorf("reply port ID %d, socket port ID %d: %w",
				hdr.PortID, s.PortID(), ErrBadPortID)
		}

		payload := data[SizeofMsgHeader:hdr.Len]

		switch hdr.Type {
		case unix.NLMSG_ERROR:
			return true, decodeAck(payload)

		case unix.NLMSG_DONE:
			if !dump {
				return false, fmt.Errorf("unexpected NLMSG_DONE outside dump: %w", ErrBadSequence)
			}
			return true, nil

		default:
			if err := handle(Message{Header: hdr, Payload: payload}); err != nil {
				return false, err
			}
			if !dump {
				return true, nil
			}
		}

		advance := align(int(hdr.Len))
		if advance >= len(data) {
			break
		}
		data = data[advance:]
	}

	return false, nil
}

// decodeAck interprets an NLMSG_ERROR payload: a host-order int32 errno
// (negated) followed by the echoed request header. Zero means success.
func decodeAck(payload []byte) error {
	if len(payload) < 4 {
		return fmt.Errorf("NLMSG_ERROR payload %d bytes: %w", len(payload), ErrTruncated)
	}

	code := int32(binary.NativeEndian.Uint32(payload[0:4]))
	if code == 0 {
		return nil
	}

	return fmt.Errorf("%w: %w", ErrKernelReply, unix.Errno(-code))
}

package rtnl

import (
	"bytes"
	"fmt"
	"net/netip"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Neighbor-Table Helpers
// -------------------------------------------------------------------------

// NeighEntry is one row of a neighbor-table dump.
type NeighEntry struct {
	NeighMsg
	// DST is the neighbor's protocol address (NDA_DST), nil when absent.
	DST []byte
	// LLAddr is the neighbor's link-layer address (NDA_LLADDR), nil when
	// absent.
	LLAddr []byte
}

// discard ignores acknowledgment-only exchanges' substantive replies.
func discard(Message) error { return nil }

// familyOf maps an address to its netlink address family.
func familyOf(addr netip.Addr) uint8 {
	if addr.Is4() {
		return unix.AF_INET
	}
	return unix.AF_INET6
}

// composeNeighReq builds a neighbor-table request addressed to the kernel.
func composeNeighReq(msgType, flags uint16, seq uint32, body NeighMsg, attrs []byte) []byte {
	bodyBuf := make([]byte, SizeofNeighMsg)
	_, _ = body.Marshal(bodyBuf)

	return Compose(MsgHeader{
		Type:  msgType,
		Flags: flags,
		Seq:   seq,
	}, bodyBuf, attrs)
}

// NeighSet installs or replaces a permanent neighbor-table entry mapping
// addr to lladdr on the given link, waiting for the kernel's
// acknowledgment.
func NeighSet(s Socket, seq uint32, linkIndex int32, addr netip.Addr, lladdr []byte) error {
	var attrs []byte
	dst := addr.AsSlice()
	attrs = AppendAttr(attrs, unix.NDA_DST, dst)
	attrs = AppendAttr(attrs, unix.NDA_LLADDR, lladdr)

	req := composeNeighReq(
		unix.RTM_NEWNEIGH,
		unix.NLM_F_REQUEST|unix.NLM_F_CREATE|unix.NLM_F_REPLACE|unix.NLM_F_ACK,
		seq,
		NeighMsg{
			Family:  familyOf(addr),
			IfIndex: linkIndex,
			State:   unix.NUD_PERMANENT,
		},
		attrs,
	)

	if err := Exchange(s, req, false, discard); err != nil {
		return fmt.Errorf("set neighbor %s: %w", addr, err)
	}
	return nil
}

// NeighDel removes the neighbor-table entry for addr on the given link,
// waiting for the kernel's acknowledgment.
func NeighDel(s Socket, seq uint32, linkIndex int32, addr netip.Addr) error {
	var attrs []byte
	attrs = AppendAttr(attrs, unix.NDA_DST, addr.AsSlice())

	req := composeNeighReq(
		unix.RTM_DELNEIGH,
		unix.NLM_F_REQUEST|unix.NLM_F_ACK,
		seq,
		NeighMsg{
			Family:  familyOf(addr),
			IfIndex: linkIndex,
		},
		attrs,
	)

	if err := Exchange(s, req, false, discard); err != nil {
		return fmt.Errorf("delete neighbor %s: %w", addr, err)
	}
	return nil
}

// NeighDump requests the full neighbor table for family and collects the
// decoded entries.
func NeighDump(s Socket, seq uint32, family uint8) ([]NeighEntry, error) {
	req := composeNeighReq(
		unix.RTM_GETNEIGH,
		unix.NLM_F_REQUEST|unix.NLM_F_DUMP,
		seq,
		NeighMsg{Family: family},
		nil,
	)

	var entries []NeighEntry
	err := Exchange(s, req, true, func(m Message) error {
		if m.Header.Type != unix.RTM_NEWNEIGH {
			return fmt.Errorf("neighbor dump carried message type %d: %w",
				m.Header.Type, ErrBadSequence)
		}

		body, it, err := m.Neigh()
		if err != nil {
			return err
		}

		entry := NeighEntry{NeighMsg: body}
		for {
			attr, ok := it.Next()
			if !ok {
				break
			}
			switch attr.Type {
			case unix.NDA_DST:
				entry.DST = bytes.Clone(attr.Data)
			case unix.NDA_LLADDR:
				entry.LLAddr = bytes.Clone(attr.Data)
			}
		}

		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dump neighbor table: %w", err)
	}

	return entries, nil
}

// LookupNeigh scans a dump result for the entry matching addr, returning
// ok=false when the table has no such neighbor.
func LookupNeigh(entries []NeighEntry, addr netip.Addr) (NeighEntry, bool) {
	want := addr.AsSlice()
	for _, e := range entries {
		if bytes.Equal(e.DST, want) {
			return e, true
		}
	}
	return NeighEntry{}, false
}

package rtnl

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// Link Resolution
// -------------------------------------------------------------------------

// Link identifies one network interface as reported by an RTM_GETLINK
// dump.
type Link struct {
	Index int32
	Name  string
	Flags uint32
}

// ErrNoLoopback indicates the link dump carried no loopback interface.
var ErrNoLoopback = errors.New("no loopback link found")

// Links dumps the interface table.
func Links(s Socket, seq uint32) ([]Link, error) {
	bodyBuf := make([]byte, SizeofLinkMsg)
	_, _ = (&LinkMsg{Family: unix.AF_UNSPEC}).Marshal(bodyBuf)

	req := Compose(MsgHeader{
		Type:  unix.RTM_GETLINK,
		Flags: unix.NLM_F_REQUEST | unix.NLM_F_DUMP,
		Seq:   seq,
	}, bodyBuf)

	var links []Link
	err := Exchange(s, req, true, func(m Message) error {
		if m.Header.Type != unix.RTM_NEWLINK {
			return fmt.Errorf("link dump carried message type %d: %w",
				m.Header.Type, ErrBadSequence)
		}

		body, it, err := m.Link()
		if err != nil {
			return err
		}

		link := Link{Index: body.Index, Flags: body.Flags}
		for {
			attr, ok := it.Next()
			if !ok {
				break
			}
			if attr.Type == unix.IFLA_IFNAME {
				link.Name = attr.String()
			}
		}

		links = append(links, link)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("dump link table: %w", err)
	}

	return links, nil
}

// LoopbackLink resolves the loopback interface, the link the neighbor
// scenarios attach their entries to.
func LoopbackLink(s Socket, seq uint32) (Link, error) {
	links, err := Links(s, seq)
	if err != nil {
		return Link{}, err
	}

	for _, l := range links {
		if l.Flags&unix.IFF_LOOPBACK != 0 {
			return l, nil
		}
	}

	return Link{}, ErrNoLoopback
}

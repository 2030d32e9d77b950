//go:build linux

package rtnl

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// -------------------------------------------------------------------------
// NETLINK_ROUTE Socket
// -------------------------------------------------------------------------

// Conn is a bound NETLINK_ROUTE socket. It satisfies Socket and owns the
// port identity the kernel addresses replies to.
type Conn struct {
	fd     int
	portID uint32
	seq    atomic.Uint32
	logger *slog.Logger
}

// DialOptions configures socket creation.
type DialOptions struct {
	// RecvBufSize, when nonzero, is applied as SO_RCVBUF.
	RecvBufSize int
	Logger      *slog.Logger
}

// Dial opens a NETLINK_ROUTE socket, binds it, and reads back the port
// identity the kernel assigned.
func Dial(opts DialOptions) (*Conn, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_RAW|unix.SOCK_CLOEXEC, unix.NETLINK_ROUTE)
	if err != nil {
		return nil, fmt.Errorf("create NETLINK_ROUTE socket: %w", err)
	}

	if opts.RecvBufSize > 0 {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, opts.RecvBufSize); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set SO_RCVBUF: %w", err)
		}
	}

	if err := unix.Bind(fd, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind netlink socket: %w", err)
	}

	sa, err := unix.Getsockname(fd)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("get netlink socket name: %w", err)
	}
	nlsa, ok := sa.(*unix.SockaddrNetlink)
	if !ok {
		unix.Close(fd)
		return nil, fmt.Errorf("unexpected sockaddr family %T for netlink socket", sa)
	}

	c := &Conn{
		fd:     fd,
		portID: nlsa.Pid,
		logger: logger.With(slog.String("component", "rtnl")),
	}
	c.logger.Debug("netlink socket bound",
		slog.Int("fd", fd),
		slog.Uint64("port_id", uint64(c.portID)))

	return c, nil
}

// Send writes one complete netlink message to the kernel.
func (c *Conn) Send(msg []byte) error {
	if err := unix.Sendto(c.fd, msg, 0, &unix.SockaddrNetlink{Family: unix.AF_NETLINK}); err != nil {
		return fmt.Errorf("send netlink message: %w", err)
	}
	return nil
}

// Recv reads one datagram from the kernel into buf and returns the number
// of bytes received. A datagram may carry several netlink messages.
func (c *Conn) Recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(c.fd, buf, 0)
	if err != nil {
		return 0, fmt.Errorf("receive netlink message: %w", err)
	}
	return n, nil
}

// PortID returns the port identity the kernel bound this socket to.
func (c *Conn) PortID() uint32 {
	return c.portID
}

// NextSeq returns a fresh sequence number for an outgoing request.
func (c *Conn) NextSeq() uint32 {
	return c.seq.Add(1)
}

// Close releases the socket.
func (c *Conn) Close() error {
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("close netlink socket: %w", err)
	}
	return nil
}

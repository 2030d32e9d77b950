package rtnl_test

import (
	"errors"
	"sync"

	"github.com/dantte-lp/kernwire/internal/rtnl"
)

// -------------------------------------------------------------------------
// MockSocket — Test double for rtnl.Socket
// -------------------------------------------------------------------------

// MockSocket implements rtnl.Socket without a real netlink socket. Sent
// messages are recorded; each Recv call returns the next queued datagram.
type MockSocket struct {
	mu     sync.Mutex
	port   uint32
	closed bool

	// Sent records all messages passed to Send.
	Sent [][]byte

	// Replies holds the datagrams Recv hands back, one per call.
	Replies [][]byte
	next    int

	// RecvFunc, when set, overrides the queued-reply behavior.
	RecvFunc func(buf []byte) (int, error)
}

// NewMockSocket creates a MockSocket bound to the given port identity.
func NewMockSocket(port uint32) *MockSocket {
	return &MockSocket{port: port}
}

func (m *MockSocket) Send(msg []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.New("mock: send on closed socket")
	}
	cp := make([]byte, len(msg))
	copy(cp, msg)
	m.Sent = append(m.Sent, cp)
	return nil
}

func (m *MockSocket) Recv(buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RecvFunc != nil {
		return m.RecvFunc(buf)
	}
	if m.next >= len(m.Replies) {
		return 0, errors.New("mock: no queued reply")
	}
	n := copy(buf, m.Replies[m.next])
	m.next++
	return n, nil
}

func (m *MockSocket) PortID() uint32 {
	return m.port
}

func (m *MockSocket) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

var _ rtnl.Socket = (*MockSocket)(nil)

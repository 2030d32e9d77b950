package fusesim_test

import (
	"bytes"
	"errors"
	"os"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/kernwire/internal/fusesim"
	"github.com/dantte-lp/kernwire/internal/fusewire"
)

// newPair starts a Server over one end of a socketpair and returns the
// other end as the simulated kernel side. SOCK_SEQPACKET preserves the
// one-request-per-read framing of /dev/fuse.
func newPair(t *testing.T, opts fusesim.Options) (*fusesim.Server, *os.File) {
	t.Helper()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_SEQPACKET|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		t.Fatalf("socketpair: %v", err)
	}

	devEnd := os.NewFile(uintptr(fds[0]), "fuse-dev")
	kernEnd := os.NewFile(uintptr(fds[1]), "fuse-kernel")

	srv := fusesim.NewServer(devEnd, opts)
	srv.Start()

	t.Cleanup(func() {
		kernEnd.Close()
		if err := srv.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})

	return srv, kernEnd
}

// sendRequest writes one framed request from the kernel side.
func sendRequest(t *testing.T, kern *os.File, hdr fusewire.InHeader, segments ...[]byte) {
	t.Helper()

	if _, err := kern.Write(fusewire.ComposeRequest(hdr, segments...)); err != nil {
		t.Fatalf("write request: %v", err)
	}
}

// readResponse reads one framed response on the kernel side.
func readResponse(t *testing.T, kern *os.File) (fusewire.OutHeader, []byte) {
	t.Helper()

	buf := make([]byte, 1<<16)
	n, err := kern.Read(buf)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}

	var hdr fusewire.OutHeader
	if err := hdr.Unmarshal(buf[:n]); err != nil {
		t.Fatalf("decode response header: %v", err)
	}
	if int(hdr.Len) != n {
		t.Fatalf("response declares %d bytes, read %d", hdr.Len, n)
	}

	return hdr, buf[fusewire.SizeofOutHeader:n]
}

// defaultAttrOut builds a plausible getattr response payload.
func defaultAttrOut() []byte {
	out := fusewire.AttrOut{AttrValid: 1, Attr: fusewire.DefaultAttr(0o40755, 1, 1)}
	return out.Bytes()
}

// initInBytes builds a FUSE_INIT request body at the given version.
func initInBytes(major, minor uint32) []byte {
	body := make([]byte, fusewire.SizeofInitIn)
	out := fusewire.InitOut{Major: major, Minor: minor, MaxReadahead: 131072}
	copy(body, out.Bytes()[:16])
	return body
}

// -------------------------------------------------------------------------
// TestInitHandshake — negotiation answered without scenario involvement
// -------------------------------------------------------------------------

func TestInitHandshake(t *testing.T) {
	t.Parallel()

	_, kern := newPair(t, fusesim.Options{})

	sendRequest(t, kern, fusewire.InHeader{
		Opcode: fusewire.OpInit,
		Unique: 2,
	}, initInBytes(fusewire.KernelVersion, 31))

	hdr, payload := readResponse(t, kern)
	if hdr.Error != 0 {
		t.Fatalf("handshake error = %d, want 0", hdr.Error)
	}
	if hdr.Unique != 2 {
		t.Errorf("handshake unique = %d, want 2", hdr.Unique)
	}

	var out fusewire.InitOut
	if err := out.Unmarshal(payload); err != nil {
		t.Fatalf("decode init response: %v", err)
	}
	if out.Major != fusewire.KernelVersion {
		t.Errorf("negotiated major = %d, want %d", out.Major, fusewire.KernelVersion)
	}
	if out.Minor > 31 {
		t.Errorf("negotiated minor = %d, want <= 31", out.Minor)
	}
}

// -------------------------------------------------------------------------
// TestQueuedResponseServed — identifier rewrite and capture exactness
// -------------------------------------------------------------------------

func TestQueuedResponseServed(t *testing.T) {
	t.Parallel()

	srv, kern := newPair(t, fusesim.Options{})

	want := fusewire.AttrOut{
		AttrValid: 1,
		Attr:      fusewire.DefaultAttr(0o40755, 1, 1),
	}
	if err := srv.SetResponse(fusewire.OpGetattr,
		fusewire.ComposeResponse(fusewire.OutHeader{}, want.Bytes())); err != nil {
		t.Fatalf("SetResponse() error = %v", err)
	}

	body := make([]byte, fusewire.SizeofGetattrIn)
	reqHdr := fusewire.InHeader{
		Opcode: fusewire.OpGetattr,
		Unique: 42,
		NodeID: 1,
		PID:    777,
	}
	sendRequest(t, kern, reqHdr, body)

	hdr, payload := readResponse(t, kern)
	if hdr.Error != 0 {
		t.Fatalf("response error = %d, want 0", hdr.Error)
	}
	if hdr.Unique != 42 {
		t.Errorf("response unique = %d, want 42 (request identifier)", hdr.Unique)
	}

	var got fusewire.AttrOut
	if err := got.Unmarshal(payload); err != nil {
		t.Fatalf("decode attr response: %v", err)
	}
	if got != want {
		t.Errorf("served payload = %+v, want %+v", got, want)
	}

	raw, err := srv.ActualRequest(fusewire.OpGetattr)
	if err != nil {
		t.Fatalf("ActualRequest() error = %v", err)
	}

	var gotHdr fusewire.InHeader
	if err := gotHdr.Unmarshal(raw); err != nil {
		t.Fatalf("decode captured header: %v", err)
	}
	reqHdr.Len = uint32(fusewire.SizeofInHeader + fusewire.SizeofGetattrIn)
	if gotHdr != reqHdr {
		t.Errorf("captured header = %+v, want %+v", gotHdr, reqHdr)
	}
	if !bytes.Equal(raw[fusewire.SizeofInHeader:], body) {
		t.Error("captured body differs from request body")
	}
}

// -------------------------------------------------------------------------
// TestResponseConsumedOnce — the table entry is cleared after serving
// -------------------------------------------------------------------------

func TestResponseConsumedOnce(t *testing.T) {
	t.Parallel()

	srv, kern := newPair(t, fusesim.Options{RequestTimeout: 250 * time.Millisecond})

	if err := srv.SetResponse(fusewire.OpGetattr,
		fusewire.ComposeResponse(fusewire.OutHeader{}, defaultAttrOut())); err != nil {
		t.Fatalf("SetResponse() error = %v", err)
	}

	body := make([]byte, fusewire.SizeofGetattrIn)
	sendRequest(t, kern, fusewire.InHeader{Opcode: fusewire.OpGetattr, Unique: 1, NodeID: 1}, body)

	if hdr, _ := readResponse(t, kern); hdr.Error != 0 {
		t.Fatalf("first response error = %d, want 0", hdr.Error)
	}
	if _, err := srv.ActualRequest(fusewire.OpGetattr); err != nil {
		t.Fatalf("ActualRequest() error = %v", err)
	}

	// The same opcode again, now with an empty table: synthesized error.
	sendRequest(t, kern, fusewire.InHeader{Opcode: fusewire.OpGetattr, Unique: 2, NodeID: 1}, body)

	hdr, _ := readResponse(t, kern)
	if hdr.Error != -int32(unix.EIO) {
		t.Errorf("synthesized error = %d, want %d", hdr.Error, -int32(unix.EIO))
	}
	if hdr.Unique != 2 {
		t.Errorf("synthesized unique = %d, want 2", hdr.Unique)
	}

	if _, err := srv.ActualRequest(fusewire.OpGetattr); !errors.Is(err, fusesim.ErrNoQueuedResponse) {
		t.Errorf("ActualRequest() error = %v, want ErrNoQueuedResponse", err)
	}
}

// -------------------------------------------------------------------------
// TestErrorResponseScenario — queued error replies pass through verbatim
// -------------------------------------------------------------------------

func TestErrorResponseScenario(t *testing.T) {
	t.Parallel()

	srv, kern := newPair(t, fusesim.Options{})

	if err := srv.SetResponse(fusewire.OpGetattr,
		fusewire.ErrorResponse(-int32(unix.ENOENT), 0)); err != nil {
		t.Fatalf("SetResponse() error = %v", err)
	}

	body := make([]byte, fusewire.SizeofGetattrIn)
	sendRequest(t, kern, fusewire.InHeader{Opcode: fusewire.OpGetattr, Unique: 5, NodeID: 1}, body)

	hdr, payload := readResponse(t, kern)
	if hdr.Error != -int32(unix.ENOENT) {
		t.Errorf("response error = %d, want %d", hdr.Error, -int32(unix.ENOENT))
	}
	if hdr.Unique != 5 {
		t.Errorf("response unique = %d, want 5", hdr.Unique)
	}
	if len(payload) != 0 {
		t.Errorf("error response carries %d payload bytes, want 0", len(payload))
	}
}

// -------------------------------------------------------------------------
// TestNoReplyOpcode — forget requests are captured but never answered
// -------------------------------------------------------------------------

func TestNoReplyOpcode(t *testing.T) {
	t.Parallel()

	srv, kern := newPair(t, fusesim.Options{})

	forgetBody := make([]byte, 8)
	sendRequest(t, kern, fusewire.InHeader{Opcode: fusewire.OpForget, Unique: 3, NodeID: 7}, forgetBody)

	if _, err := srv.ActualRequest(fusewire.OpForget); err != nil {
		t.Fatalf("ActualRequest(forget) error = %v", err)
	}

	// The next frame on the kernel side must be the reply to a later
	// request, not anything for the forget.
	if err := srv.SetResponse(fusewire.OpGetattr,
		fusewire.ComposeResponse(fusewire.OutHeader{}, defaultAttrOut())); err != nil {
		t.Fatalf("SetResponse() error = %v", err)
	}
	body := make([]byte, fusewire.SizeofGetattrIn)
	sendRequest(t, kern, fusewire.InHeader{Opcode: fusewire.OpGetattr, Unique: 4, NodeID: 1}, body)

	hdr, _ := readResponse(t, kern)
	if hdr.Unique != 4 {
		t.Errorf("first frame unique = %d, want 4 (no reply for forget)", hdr.Unique)
	}
}

// -------------------------------------------------------------------------
// TestActualRequestTimeout — bounded foreground waits
// -------------------------------------------------------------------------

func TestActualRequestTimeout(t *testing.T) {
	t.Parallel()

	srv, _ := newPair(t, fusesim.Options{RequestTimeout: 100 * time.Millisecond})

	start := time.Now()
	_, err := srv.ActualRequest(fusewire.OpGetattr)
	if !errors.Is(err, fusesim.ErrRequestTimeout) {
		t.Fatalf("ActualRequest() error = %v, want ErrRequestTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 100*time.Millisecond {
		t.Errorf("returned after %v, want at least the 100ms timeout", elapsed)
	}
}

// -------------------------------------------------------------------------
// TestStoppedServerWakesWaiters — teardown unblocks the foreground
// -------------------------------------------------------------------------

func TestStoppedServerWakesWaiters(t *testing.T) {
	t.Parallel()

	srv, kern := newPair(t, fusesim.Options{RequestTimeout: 5 * time.Second})

	done := make(chan error, 1)
	go func() {
		_, err := srv.ActualRequest(fusewire.OpGetattr)
		done <- err
	}()

	// Give the waiter a moment to block, then kill the transport.
	time.Sleep(50 * time.Millisecond)
	kern.Close()

	select {
	case err := <-done:
		if !errors.Is(err, fusesim.ErrServerStopped) {
			t.Errorf("ActualRequest() error = %v, want ErrServerStopped", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("waiter not released after transport teardown")
	}
}

// -------------------------------------------------------------------------
// TestSetResponseValidation
// -------------------------------------------------------------------------

func TestSetResponseTooShort(t *testing.T) {
	t.Parallel()

	srv, _ := newPair(t, fusesim.Options{})

	err := srv.SetResponse(fusewire.OpGetattr, make([]byte, fusewire.SizeofOutHeader-1))
	if !errors.Is(err, fusewire.ErrTruncated) {
		t.Errorf("SetResponse(short) error = %v, want ErrTruncated", err)
	}
}

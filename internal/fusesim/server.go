// Package fusesim runs a simulated FUSE server: it plays the userspace
// side of the kernel's FUSE transport so conformance scenarios can script
// exact responses and inspect the exact requests the kernel emitted.
//
// A Server owns one /dev/fuse descriptor, an opcode-indexed response
// table, per-opcode captured-request slots, and a single background
// responder goroutine. Scenarios queue a raw response with SetResponse,
// trigger a syscall against the mount, then retrieve the kernel's request
// bytes with ActualRequest. No process-wide state is involved; every
// Server is independent.
package fusesim

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/dantte-lp/kernwire/internal/fusewire"
	harnessmetrics "github.com/dantte-lp/kernwire/internal/metrics"
)

// DefaultRequestTimeout bounds how long ActualRequest waits for the
// kernel to emit a request before giving up.
const DefaultRequestTimeout = 10 * time.Second

// maxRequestSize is the responder's read buffer size. It covers the
// largest request the negotiated MaxWrite admits plus header overhead.
const maxRequestSize = 1<<20 + fusewire.SizeofInHeader + 4096

var (
	// ErrNoQueuedResponse indicates the kernel sent a request for which
	// the scenario queued no response; the responder answered with a
	// synthesized error to keep the caller unblocked.
	ErrNoQueuedResponse = errors.New("no response queued for opcode")

	// ErrRequestTimeout indicates the kernel did not emit the awaited
	// request within the configured timeout.
	ErrRequestTimeout = errors.New("timed out waiting for request")

	// ErrServerStopped indicates the responder has shut down, normally
	// after Unmount or Close.
	ErrServerStopped = errors.New("fuse server stopped")
)

// Options configures a Server.
type Options struct {
	// RequestTimeout bounds ActualRequest waits. Zero means
	// DefaultRequestTimeout.
	RequestTimeout time.Duration

	// MaxReadahead is offered to the kernel during FUSE_INIT.
	MaxReadahead uint32

	Logger  *slog.Logger
	Metrics *harnessmetrics.Collector
}

// Server simulates the userspace end of a FUSE mount.
type Server struct {
	dev     *os.File
	dir     string // mountpoint; empty for injected descriptors
	timeout time.Duration
	initOut fusewire.InitOut
	logger  *slog.Logger
	metrics *harnessmetrics.Collector

	mu        sync.Mutex
	cond      *sync.Cond
	responses map[fusewire.Opcode][]byte
	captured  map[fusewire.Opcode][]byte
	missed    map[fusewire.Opcode]bool
	stopped   bool

	wg sync.WaitGroup
}

// NewServer wraps an already-open FUSE device descriptor. The caller is
// expected to have completed (or be about to trigger) the mount that
// feeds it; tests inject one end of a socketpair instead. The responder
// does not run until Start.
func NewServer(dev *os.File, opts Options) *Server {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		dev:     dev,
		timeout: timeout,
		logger:  logger.With(slog.String("component", "fusesim")),
		metrics: opts.Metrics,
		initOut: fusewire.InitOut{
			Major:               fusewire.KernelVersion,
			Minor:               fusewire.KernelMinorVersion,
			MaxReadahead:        opts.MaxReadahead,
			MaxBackground:       12,
			CongestionThreshold: 9,
			MaxWrite:            1 << 20,
			TimeGran:            1,
		},
		responses: make(map[fusewire.Opcode][]byte),
		captured:  make(map[fusewire.Opcode][]byte),
		missed:    make(map[fusewire.Opcode]bool),
	}
	s.cond = sync.NewCond(&s.mu)

	return s
}

// Start launches the background responder. It must be called exactly
// once.
func (s *Server) Start() {
	s.wg.Add(1)
	go s.serve()
}

// SetResponse queues raw as the next reply for op, replacing any
// previously queued reply. raw must begin with a complete OutHeader; its
// Unique field is rewritten by the responder to match the request it
// answers.
func (s *Server) SetResponse(op fusewire.Opcode, raw []byte) error {
	if len(raw) < fusewire.SizeofOutHeader {
		return fmt.Errorf("response for %s is %d bytes, header needs %d: %w",
			op, len(raw), fusewire.SizeofOutHeader, fusewire.ErrTruncated)
	}

	cp := make([]byte, len(raw))
	copy(cp, raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[op] = cp
	delete(s.missed, op)

	return nil
}

// ActualRequest returns the raw bytes of the most recent request the
// kernel sent for op, blocking until the responder captures one. The
// captured slot is consumed; a second call waits for a fresh request.
//
// If the responder had to synthesize a default error because no response
// was queued for op, ActualRequest reports ErrNoQueuedResponse. If no
// request arrives within the configured timeout it reports
// ErrRequestTimeout.
func (s *Server) ActualRequest(op fusewire.Opcode) ([]byte, error) {
	deadline := time.Now().Add(s.timeout)
	timer := time.AfterFunc(s.timeout, s.cond.Broadcast)
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	for {
		if s.missed[op] {
			delete(s.missed, op)
			return nil, fmt.Errorf("%s: %w", op, ErrNoQueuedResponse)
		}
		if raw, ok := s.captured[op]; ok {
			delete(s.captured, op)
			return raw, nil
		}
		if s.stopped {
			return nil, fmt.Errorf("waiting for %s: %w", op, ErrServerStopped)
		}
		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("waiting for %s after %v: %w", op, s.timeout, ErrRequestTimeout)
		}

		s.cond.Wait()
	}
}

// Close stops the responder by closing the device and waits for it to
// drain. Safe to call after Unmount.
func (s *Server) Close() error {
	err := s.dev.Close()
	s.wg.Wait()

	if err != nil && !errors.Is(err, fs.ErrClosed) {
		return fmt.Errorf("close fuse device: %w", err)
	}
	return nil
}

// -------------------------------------------------------------------------
// Responder Loop
// -------------------------------------------------------------------------

// serve is the background responder: it reads requests off the device
// until the descriptor dies, answering each one exactly once.
func (s *Server) serve() {
	defer s.wg.Done()
	defer s.markStopped()

	buf := make([]byte, maxRequestSize)
	for {
		n, err := s.dev.Read(buf)
		if err != nil {
			if isShutdownError(err) {
				s.logger.Debug("responder stopped", slog.String("reason", err.Error()))
			} else {
				s.logger.Error("read fuse request", slog.Any("error", err))
			}
			return
		}

		s.handleRequest(buf[:n])
	}
}

// markStopped wakes every foreground waiter after the responder exits.
func (s *Server) markStopped() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// isShutdownError reports whether a device read error is the expected
// consequence of unmounting or closing, rather than a failure.
func isShutdownError(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, fs.ErrClosed) ||
		errors.Is(err, unix.ENODEV) ||
		errors.Is(err, unix.EBADF)
}

// handleRequest decodes one request and produces exactly one reply,
// except for the no-reply opcodes.
func (s *Server) handleRequest(req []byte) {
	var hdr fusewire.InHeader
	if err := hdr.Unmarshal(req); err != nil {
		s.logger.Error("malformed fuse request", slog.Any("error", err))
		s.violation()
		return
	}
	if int(hdr.Len) != len(req) {
		s.logger.Warn("fuse request length mismatch",
			slog.String("opcode", hdr.Opcode.String()),
			slog.Uint64("declared", uint64(hdr.Len)),
			slog.Int("read", len(req)))
		s.violation()
	}

	s.logger.Debug("fuse request",
		slog.String("opcode", hdr.Opcode.String()),
		slog.Uint64("unique", hdr.Unique),
		slog.Uint64("nodeid", hdr.NodeID))
	if s.metrics != nil {
		s.metrics.IncFUSERequest(hdr.Opcode.String())
	}

	// The handshake is answered internally so scenarios never have to
	// queue an INIT response.
	if hdr.Opcode == fusewire.OpInit {
		s.replyInit(req, hdr)
		return
	}

	if hdr.Opcode.NoReply() {
		s.capture(hdr.Opcode, req)
		return
	}

	resp := s.takeResponse(hdr.Opcode)
	if resp == nil {
		// Keep the kernel-side caller unblocked; the foreground learns
		// about the misuse through ActualRequest.
		s.logger.Warn("no queued response, synthesizing error",
			slog.String("opcode", hdr.Opcode.String()))
		if s.metrics != nil {
			s.metrics.IncFUSEDefaultError()
		}
		s.write(fusewire.ErrorResponse(-int32(unix.EIO), hdr.Unique))
		s.recordMiss(hdr.Opcode)
		return
	}

	if err := fusewire.RewriteUnique(resp, hdr.Unique); err != nil {
		s.logger.Error("rewrite response identifier", slog.Any("error", err))
		s.write(fusewire.ErrorResponse(-int32(unix.EIO), hdr.Unique))
		s.recordMiss(hdr.Opcode)
		return
	}

	s.write(resp)
	s.capture(hdr.Opcode, req)
}

// replyInit answers FUSE_INIT with the canned negotiation result,
// clamping the minor version to what the kernel offered.
func (s *Server) replyInit(req []byte, hdr fusewire.InHeader) {
	var in fusewire.InitIn
	if err := in.Unmarshal(req[fusewire.SizeofInHeader:]); err != nil {
		s.logger.Error("malformed FUSE_INIT", slog.Any("error", err))
		s.violation()
		s.write(fusewire.ErrorResponse(-int32(unix.EIO), hdr.Unique))
		return
	}

	out := s.initOut
	if in.Minor < out.Minor {
		out.Minor = in.Minor
	}

	s.logger.Debug("fuse handshake",
		slog.Uint64("kernel_major", uint64(in.Major)),
		slog.Uint64("kernel_minor", uint64(in.Minor)))

	s.write(fusewire.ComposeResponse(fusewire.OutHeader{Unique: hdr.Unique}, out.Bytes()))
}

// takeResponse removes and returns the queued response for op, or nil.
func (s *Server) takeResponse(op fusewire.Opcode) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	resp, ok := s.responses[op]
	if !ok {
		return nil
	}
	delete(s.responses, op)
	return resp
}

// capture stores the raw request in the per-opcode slot and wakes
// waiters.
func (s *Server) capture(op fusewire.Opcode, req []byte) {
	cp := make([]byte, len(req))
	copy(cp, req)

	s.mu.Lock()
	s.captured[op] = cp
	s.mu.Unlock()
	s.cond.Broadcast()
}

// recordMiss remembers a synthesized default error and wakes waiters.
func (s *Server) recordMiss(op fusewire.Opcode) {
	s.mu.Lock()
	s.missed[op] = true
	s.mu.Unlock()
	s.cond.Broadcast()
}

// write sends one complete response in a single write.
func (s *Server) write(resp []byte) {
	if _, err := s.dev.Write(resp); err != nil {
		if !isShutdownError(err) {
			s.logger.Error("write fuse response", slog.Any("error", err))
		}
	}
}

// violation records one FUSE protocol violation.
func (s *Server) violation() {
	if s.metrics != nil {
		s.metrics.IncProtocolViolation(harnessmetrics.ProtocolFUSE)
	}
}

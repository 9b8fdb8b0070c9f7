// Package console drives the interactive text console of a running
// virtual machine: send a line of input, wait for a marker in the
// output, with a bounded wait and a bounded retained tail for
// diagnostics.
//
// A Session is owned by exactly one flow. Its methods must not be
// called concurrently; the only internal goroutine is the stream
// reader, which hands arriving bytes to the owner through a channel.
package console

import (
	"bytes"
	"fmt"
	"io"
	"time"

	"grimm.is/bootlab/internal/clock"
	"grimm.is/bootlab/internal/logging"
)

// Process is the session's view of the VM process behind the console.
// Done is closed when the process exits; ExitErr is meaningful only
// after that. Kill force-terminates the process and everything it
// spawned.
type Process interface {
	Done() <-chan struct{}
	ExitErr() error
	Kill() error
}

const (
	readBufSize     = 4096
	chunkBacklog    = 64
	defaultTailSize = 64 * 1024
)

// Session wraps a live bidirectional console stream.
type Session struct {
	w    io.Writer
	proc Process
	echo io.Writer
	clk  clock.Clock
	log  *logging.Logger

	chunks  chan []byte
	quit    chan struct{}
	readErr error // set by the reader before it closes chunks

	tail  *tailBuffer
	carry []byte // unscanned bytes left over after the previous match
	alive bool
	done  bool
}

// Option configures a Session.
type Option func(*Session)

// WithProcess attaches the VM process handle, enabling exit detection
// during waits and force-termination on timeout.
func WithProcess(p Process) Option {
	return func(s *Session) {
		s.proc = p
	}
}

// WithEcho mirrors everything read from the console to w, typically a
// transcript file. Write errors on w are ignored.
func WithEcho(w io.Writer) Option {
	return func(s *Session) {
		s.echo = w
	}
}

// WithTailSize sets how many trailing bytes of console output are
// retained for diagnostics. Default: 64 KiB.
func WithTailSize(n int) Option {
	return func(s *Session) {
		s.tail = newTailBuffer(n)
	}
}

// WithClock sets the time source used for elapsed measurements.
func WithClock(c clock.Clock) Option {
	return func(s *Session) {
		s.clk = c
	}
}

// New starts a session over rw and begins reading from it immediately,
// so output emitted before the first WaitFor is not lost.
func New(rw io.ReadWriter, opts ...Option) *Session {
	s := &Session{
		w:      rw,
		clk:    &clock.RealClock{},
		log:    logging.WithComponent("console"),
		chunks: make(chan []byte, chunkBacklog),
		quit:   make(chan struct{}),
		tail:   newTailBuffer(defaultTailSize),
		alive:  true,
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.reader(rw)
	return s
}

func (s *Session) reader(r io.Reader) {
	buf := make([]byte, readBufSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case s.chunks <- chunk:
			case <-s.quit:
				return
			}
		}
		if err != nil {
			if err != io.EOF {
				s.readErr = err
			}
			close(s.chunks)
			return
		}
	}
}

// SendLine writes line followed by a newline to the VM's input. It does
// not wait for any response.
func (s *Session) SendLine(line string) error {
	if s.done || !s.alive {
		return ErrClosed
	}
	if _, err := s.w.Write([]byte(line + "\n")); err != nil {
		s.alive = false
		return fmt.Errorf("console write: %w", err)
	}
	s.log.Debug("sent line", "line", line)
	return nil
}

// WaitFor blocks until success appears in the console output, returning
// nil. It returns a BootPanicError immediately if failure appears
// first, a TimeoutError if neither appears within timeout, and a
// ProcessExitedError if the VM process dies mid-wait.
//
// Scanning is incremental: each newly arrived chunk is examined along
// with a lookback window just long enough to catch a marker split
// across chunk boundaries, so whichever marker appears earlier in the
// stream wins even if both are present by the time a scan runs. A
// timeout force-terminates the process before returning; a hung VM
// never outlives its test.
func (s *Session) WaitFor(success, failure string, timeout time.Duration) error {
	if s.done || !s.alive {
		return ErrClosed
	}
	if success == "" {
		return fmt.Errorf("console: empty success pattern")
	}
	window := len(success)
	if len(failure) > window {
		window = len(failure)
	}
	window--

	start := s.clk.Now()
	s.log.Debug("waiting for console output", "pattern", success, "timeout", timeout.String())
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var procDone <-chan struct{}
	if s.proc != nil {
		procDone = s.proc.Done()
	}

	// Bytes that arrived after the previous match have not been scanned
	// for these markers yet; the match may already be sitting in them.
	scan := s.carry
	s.carry = nil
	if matched, err := s.check(scan, success, failure, start); matched {
		return err
	}
	scan = lookback(scan, window)

	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return s.exited(start, true)
			}
			s.ingest(chunk)
			scan = append(scan, chunk...)
			if matched, err := s.check(scan, success, failure, start); matched {
				return err
			}
			scan = lookback(scan, window)

		case <-procDone:
			// Chunks read before the exit may still hold the marker;
			// drain what has already arrived before giving up.
			for {
				select {
				case chunk, ok := <-s.chunks:
					if !ok {
						return s.exited(start, true)
					}
					s.ingest(chunk)
					scan = append(scan, chunk...)
					if matched, err := s.check(scan, success, failure, start); matched {
						return err
					}
					scan = lookback(scan, window)
				default:
					return s.exited(start, false)
				}
			}

		case <-timer.C:
			s.alive = false
			if s.proc != nil {
				if err := s.proc.Kill(); err != nil {
					s.log.Warn("killing timed-out process", "error", err)
				}
			}
			s.log.Error("console wait timed out", "pattern", success, "timeout", timeout.String())
			return &TimeoutError{Success: success, Failure: failure, Timeout: timeout, Tail: s.tail.String()}
		}
	}
}

// check scans for both markers and resolves in stream order: the one
// whose occurrence starts earlier wins. On success the bytes after the
// match are carried over for the next wait, so a prompt already echoed
// before the next command is not rematched.
func (s *Session) check(scan []byte, success, failure string, start time.Time) (bool, error) {
	idxS := bytes.Index(scan, []byte(success))
	idxF := -1
	if failure != "" {
		idxF = bytes.Index(scan, []byte(failure))
	}
	if idxS >= 0 && (idxF < 0 || idxS <= idxF) {
		s.carry = append([]byte(nil), scan[idxS+len(success):]...)
		s.log.Debug("console matched", "pattern", success, "elapsed", s.clk.Since(start).String())
		return true, nil
	}
	if idxF >= 0 {
		s.alive = false
		s.log.Error("console matched failure marker", "marker", failure, "elapsed", s.clk.Since(start).String())
		return true, &BootPanicError{Marker: failure, Tail: s.tail.String()}
	}
	return false, nil
}

func (s *Session) exited(start time.Time, chanClosed bool) error {
	s.alive = false
	var err error
	if s.proc != nil {
		select {
		case <-s.proc.Done():
			err = s.proc.ExitErr()
		default:
		}
	}
	if err == nil && chanClosed {
		err = s.readErr
	}
	s.log.Error("process exited during console wait", "elapsed", s.clk.Since(start).String(), "error", err)
	return &ProcessExitedError{Err: err, Tail: s.tail.String()}
}

func (s *Session) ingest(chunk []byte) {
	s.tail.Write(chunk)
	if s.echo != nil {
		s.echo.Write(chunk)
	}
}

// lookback keeps the trailing window bytes of already-scanned input. A
// marker cannot fit entirely inside it, so nothing already rejected can
// match again.
func lookback(scan []byte, window int) []byte {
	if len(scan) <= window {
		return scan
	}
	n := copy(scan, scan[len(scan)-window:])
	return scan[:n]
}

// Alive reports whether the session can still be used: it has not been
// closed and no wait has resolved to a fatal outcome.
func (s *Session) Alive() bool {
	return s.alive && !s.done
}

// Tail returns the retained trailing console output, including anything
// that arrived since the last wait.
func (s *Session) Tail() string {
	s.drainPending()
	return s.tail.String()
}

// Close force-terminates the underlying process if it is still running
// and marks the session unusable. Safe to call more than once.
func (s *Session) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.alive = false
	close(s.quit)

	var err error
	if s.proc != nil {
		select {
		case <-s.proc.Done():
		default:
			err = s.proc.Kill()
		}
	}
	s.drainPending()
	return err
}

func (s *Session) drainPending() {
	for {
		select {
		case chunk, ok := <-s.chunks:
			if !ok {
				return
			}
			s.ingest(chunk)
		default:
			return
		}
	}
}

// Package transport owns exclusive access to one instrument byte stream.
// It reassembles framed responses with an explicit receive state machine
// and routes everything else - the device multiplexes unframed log text
// onto the same stream - into a diagnostic channel.
package transport

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"chromahost/pkg/errors"
	"chromahost/pkg/frame"
	"chromahost/pkg/metrics"
	"chromahost/pkg/serial"
)

// Stream is the byte stream to the device. *serial.Port and *serial.Conn
// both satisfy it.
type Stream interface {
	Read(buf []byte) (int, error)
	Write(buf []byte) (int, error)
	SetReadTimeout(d time.Duration)
	Close() error
}

// recvState is the tagged state of the frame reassembly machine.
type recvState int

const (
	seekSync1 recvState = iota
	seekSync2
	readLength
	readBody
	frameDone
)

func (s recvState) String() string {
	switch s {
	case seekSync1:
		return "SEEK_SYNC1"
	case seekSync2:
		return "SEEK_SYNC2"
	case readLength:
		return "READ_LENGTH"
	case readBody:
		return "READ_BODY"
	case frameDone:
		return "DONE"
	}
	return "UNKNOWN"
}

// attemptPoll bounds how long a single blocking read may hold the stream,
// so the receive deadline is honored with sub-attempt granularity.
const attemptPoll = 50 * time.Millisecond

// Session wraps one stream with frame reassembly and diagnostics.
// It assumes at most one request in flight; callers must serialize
// Receive/Write pairs.
type Session struct {
	mu     sync.Mutex
	stream Stream
	diag   *diagBuffer
	log    *logrus.Entry

	state   recvState
	bodyLen int
	body    []byte
	pending []byte // bytes read from the stream but not yet consumed
	readBuf []byte
}

// Option configures a Session.
type Option func(*Session)

// WithDiagnosticSink routes complete diagnostic lines to fn instead of
// the default logger.
func WithDiagnosticSink(fn func(line string)) Option {
	return func(s *Session) { s.diag.sink = fn }
}

// NewSession creates a session owning the given stream.
func NewSession(stream Stream, opts ...Option) *Session {
	log := logrus.WithField("component", "transport")
	s := &Session{
		stream:  stream,
		log:     log,
		state:   seekSync1,
		readBuf: make([]byte, 256),
	}
	s.diag = newDiagBuffer(func(line string) {
		logrus.WithField("component", "device").Info(line)
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Write sends raw bytes to the device.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.stream.Write(data)
	return err
}

// Receive runs the state machine until a complete frame payload is
// assembled or the timeout expires. Checksum mismatches and non-positive
// declared lengths surface as FRAMING errors; running out of time
// surfaces as a TIMEOUT error.
func (s *Session) Receive(timeout time.Duration) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked()
	deadline := time.Now().Add(timeout)

	for {
		// Consume anything already buffered before touching the stream.
		for len(s.pending) > 0 {
			b := s.pending[0]
			s.pending = s.pending[1:]
			payload, err := s.feed(b)
			if err != nil {
				s.log.WithError(err).Debug("frame reassembly failed")
				return nil, err
			}
			if payload != nil {
				metrics.FramesReceived.Inc()
				// Copy so the returned payload never aliases the reused
				// reassembly buffer; see s.body in feed/resetLocked.
				return append([]byte(nil), payload...), nil
			}
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, errors.Timeout("no frame within %v (state %s)", timeout, s.state)
		}
		if remaining > attemptPoll {
			remaining = attemptPoll
		}
		s.stream.SetReadTimeout(remaining)
		n, err := s.stream.Read(s.readBuf)
		if err != nil {
			if isTimeout(err) {
				continue
			}
			return nil, errors.Wrap(errors.ErrConnection, err, "stream read")
		}
		s.pending = append(s.pending, s.readBuf[:n]...)
	}
}

// feed advances the state machine by one byte. It returns the completed
// payload (checksum stripped) when the frame is done.
func (s *Session) feed(b byte) ([]byte, error) {
	switch s.state {
	case seekSync1:
		if b == frame.Sync1 {
			s.state = seekSync2
			return nil, nil
		}
		s.diag.push([]byte{b})
		return nil, nil

	case seekSync2:
		if b == frame.Sync2 {
			s.state = readLength
			return nil, nil
		}
		// The held sync byte turned out to be stray text after all.
		s.diag.push([]byte{frame.Sync1})
		if b == frame.Sync1 {
			// This byte may itself start a real preamble.
			return nil, nil
		}
		s.diag.push([]byte{b})
		s.state = seekSync1
		return nil, nil

	case readLength:
		if b == 0 {
			s.state = seekSync1
			return nil, errors.Framing("declared frame length %d", b)
		}
		s.bodyLen = int(b)
		s.body = s.body[:0]
		s.state = readBody
		return nil, nil

	case readBody:
		s.body = append(s.body, b)
		if len(s.body) < s.bodyLen {
			return nil, nil
		}
		s.state = frameDone
		payload, err := frame.SplitChecksum(s.body)
		s.state = seekSync1
		if err != nil {
			return nil, err
		}
		return payload, nil

	default:
		s.state = seekSync1
		return nil, errors.Framing("receive state machine in unknown state")
	}
}

func (s *Session) resetLocked() {
	s.state = seekSync1
	s.bodyLen = 0
	s.body = s.body[:0]
}

// PollDiagnostics drains any bytes waiting on the stream into the
// diagnostic channel without blocking. Safe to call at any time,
// including when no request is outstanding.
func (s *Session) PollDiagnostics() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) > 0 {
		s.diag.push(s.pending)
		s.pending = s.pending[:0]
	}

	s.stream.SetReadTimeout(0)
	for {
		n, err := s.stream.Read(s.readBuf)
		if n > 0 {
			s.diag.push(s.readBuf[:n])
		}
		if err != nil || n == 0 {
			return
		}
	}
}

// ClearDiagnostics discards buffered partial diagnostic text.
func (s *Session) ClearDiagnostics() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diag.clear()
}

// Close releases the underlying stream. Idempotent when the stream's
// Close is.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream.Close()
}

func isTimeout(err error) bool {
	if stderrors.Is(err, serial.ErrTimeout) {
		return true
	}
	type timeouter interface{ Timeout() bool }
	te, ok := err.(timeouter)
	return ok && te.Timeout()
}

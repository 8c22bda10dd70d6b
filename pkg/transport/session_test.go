package transport

import (
	"bytes"
	"net"
	"sync"
	"testing"
	"time"

	"chromahost/pkg/errors"
	"chromahost/pkg/frame"
	"chromahost/pkg/serial"
)

// fakeStream is an in-memory Stream fed by tests.
type fakeStream struct {
	mu     sync.Mutex
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
	closes int
}

func (f *fakeStream) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return 0, serial.ErrClosed
	}
	if f.in.Len() == 0 {
		return 0, serial.ErrTimeout
	}
	return f.in.Read(buf)
}

func (f *fakeStream) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(buf)
}

func (f *fakeStream) SetReadTimeout(time.Duration) {}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.closes++
	return nil
}

func (f *fakeStream) inject(data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in.Write(data)
}

func newTestSession(t *testing.T) (*Session, *fakeStream, *[]string) {
	t.Helper()
	stream := &fakeStream{}
	var lines []string
	s := NewSession(stream, WithDiagnosticSink(func(line string) {
		lines = append(lines, line)
	}))
	return s, stream, &lines
}

func TestReceiveValidFrame(t *testing.T) {
	s, stream, _ := newTestSession(t)
	stream.inject(frame.Encode([]byte{0x00}))

	payload, err := s.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x00}) {
		t.Fatalf("payload=%x want 00", payload)
	}
}

func TestReceiveTimeout(t *testing.T) {
	s, _, _ := newTestSession(t)
	_, err := s.Receive(60 * time.Millisecond)
	if !errors.IsCode(err, errors.ErrTimeout) {
		t.Fatalf("err=%v want TIMEOUT", err)
	}
}

func TestReceiveChecksumMismatch(t *testing.T) {
	s, stream, _ := newTestSession(t)
	f := frame.Encode([]byte{0x00})
	f[len(f)-1] ^= 0x01 // corrupt the CRC
	stream.inject(f)

	_, err := s.Receive(time.Second)
	if !errors.IsCode(err, errors.ErrFraming) {
		t.Fatalf("err=%v want FRAMING", err)
	}
}

func TestReceiveZeroLength(t *testing.T) {
	s, stream, _ := newTestSession(t)
	stream.inject([]byte{frame.Sync1, frame.Sync2, 0x00})

	_, err := s.Receive(time.Second)
	if !errors.IsCode(err, errors.ErrFraming) {
		t.Fatalf("err=%v want FRAMING", err)
	}
}

func TestReceiveSkipsStrayText(t *testing.T) {
	s, stream, lines := newTestSession(t)
	stream.inject([]byte("boot: valve homing done\n"))
	stream.inject(frame.Encode([]byte{0, 2, 0, 10}))

	payload, err := s.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(payload, []byte{0, 2, 0, 10}) {
		t.Fatalf("payload=%x", payload)
	}
	if len(*lines) != 1 || (*lines)[0] != "boot: valve homing done" {
		t.Fatalf("diagnostic lines=%q", *lines)
	}
}

func TestReceiveFalseSyncStart(t *testing.T) {
	s, stream, _ := newTestSession(t)
	// A stray 0x21 not followed by 0x37, then a real frame. The second
	// 0x21 here is the true preamble start.
	stream.inject([]byte{frame.Sync1, 'x'})
	stream.inject(frame.Encode([]byte{0x00}))

	payload, err := s.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x00}) {
		t.Fatalf("payload=%x", payload)
	}
}

func TestReceiveRepeatedSyncByte(t *testing.T) {
	s, stream, _ := newTestSession(t)
	// 21 21 37 ...: the second 0x21 begins the actual preamble.
	stream.inject([]byte{frame.Sync1})
	stream.inject(frame.Encode([]byte{0x00}))

	payload, err := s.Receive(time.Second)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if !bytes.Equal(payload, []byte{0x00}) {
		t.Fatalf("payload=%x", payload)
	}
}

func TestPollDiagnostics(t *testing.T) {
	s, stream, lines := newTestSession(t)

	stream.inject([]byte("weight ch0 tared\npartial"))
	s.PollDiagnostics()
	if len(*lines) != 1 || (*lines)[0] != "weight ch0 tared" {
		t.Fatalf("lines=%q", *lines)
	}

	// The pending tail completes on the next poll.
	stream.inject([]byte(" line\n"))
	s.PollDiagnostics()
	if len(*lines) != 2 || (*lines)[1] != "partial line" {
		t.Fatalf("lines=%q", *lines)
	}
}

func TestPollDiagnosticsDrainsTCPStream(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	served := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		conn.Write([]byte("boot: pump controller ready\n"))
		served <- conn
	}()

	stream, err := serial.OpenTCP(ln.Addr().String(), time.Second)
	if err != nil {
		t.Fatalf("OpenTCP: %v", err)
	}
	defer stream.Close()

	var mu sync.Mutex
	var lines []string
	s := NewSession(stream, WithDiagnosticSink(func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	}))

	// The line may still be in flight; poll until it lands.
	deadline := time.Now().Add(time.Second)
	for {
		s.PollDiagnostics()
		mu.Lock()
		n := len(lines)
		mu.Unlock()
		if n > 0 || time.Now().After(deadline) {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(lines) != 1 || lines[0] != "boot: pump controller ready" {
		t.Fatalf("diagnostic lines=%q, want the boot line drained", lines)
	}
	(<-served).Close()
}

func TestClearDiagnostics(t *testing.T) {
	s, stream, lines := newTestSession(t)

	stream.inject([]byte("orphaned tail"))
	s.PollDiagnostics()
	s.ClearDiagnostics()
	stream.inject([]byte("\n"))
	s.PollDiagnostics()
	if len(*lines) != 0 {
		t.Fatalf("lines=%q want none", *lines)
	}
}

func TestDiagnosticsHexFallback(t *testing.T) {
	s, stream, lines := newTestSession(t)

	stream.inject([]byte{0xff, 0xfe, 0xfd, '\n'})
	s.PollDiagnostics()
	if len(*lines) != 1 || (*lines)[0] != "raw: fffefd" {
		t.Fatalf("lines=%q", *lines)
	}
}

func TestCloseIdempotent(t *testing.T) {
	s, stream, _ := newTestSession(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if stream.closes != 2 {
		t.Fatalf("closes=%d", stream.closes)
	}
}

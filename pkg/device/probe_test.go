package device

import (
	"net"
	"testing"
	"time"

	"chromahost/pkg/frame"
)

// ackServer accepts one connection and answers every incoming frame
// with a success ack, enough to pass the handshake ping.
func ackServer(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
			conn.Write(frame.Encode([]byte{0}))
		}
	}()
	return ln.Addr().String()
}

func TestProbeTCP(t *testing.T) {
	addr := ackServer(t)
	result := Probe("tcp:"+addr, 0, testConfig())
	if result.Kind != ProbeOK {
		t.Fatalf("kind=%v err=%v, want ok", result.Kind, result.Err)
	}
}

func TestProbeTCPSilentPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	result := Probe("tcp:"+ln.Addr().String(), 0, testConfig())
	if result.Kind != ProbeNoProtocol {
		t.Fatalf("kind=%v err=%v, want no protocol", result.Kind, result.Err)
	}
}

func TestProbeTCPConnectHonorsBudget(t *testing.T) {
	// TEST-NET-1 is never routable, so the connect must run into the
	// caller's budget rather than the stock ten-second one.
	cfg := testConfig()
	start := time.Now()
	result := Probe("tcp:192.0.2.1:1", 0, cfg)
	if result.Kind != ProbePortBusy {
		t.Fatalf("kind=%v err=%v, want port busy", result.Kind, result.Err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("connect took %v with a %v budget", elapsed, cfg.OverallTimeout)
	}
}

func TestProbeAbsentPort(t *testing.T) {
	result := Probe("/dev/ttyNOSUCHDEVICE0", 115200, testConfig())
	if result.Kind != ProbePortAbsent {
		t.Fatalf("kind=%v err=%v, want port absent", result.Kind, result.Err)
	}
}

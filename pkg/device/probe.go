package device

import (
	"fmt"
	"os"
	"strings"

	"chromahost/pkg/errors"
	"chromahost/pkg/serial"
	"chromahost/pkg/transport"
)

// ProbeKind classifies what a connection probe found at a port.
type ProbeKind int

const (
	// ProbeOK means an instrument answered the ping.
	ProbeOK ProbeKind = iota

	// ProbePortAbsent means the device node does not exist.
	ProbePortAbsent

	// ProbePortBusy means the port exists but could not be opened.
	ProbePortBusy

	// ProbeNoProtocol means the port opened but nothing spoke the
	// instrument protocol on it.
	ProbeNoProtocol
)

func (k ProbeKind) String() string {
	switch k {
	case ProbeOK:
		return "ok"
	case ProbePortAbsent:
		return "port absent"
	case ProbePortBusy:
		return "port busy"
	case ProbeNoProtocol:
		return "no protocol"
	}
	return fmt.Sprintf("ProbeKind(%d)", int(k))
}

// ProbeResult is the outcome of probing one port.
type ProbeResult struct {
	Kind ProbeKind
	Err  error
}

// Probe checks whether an instrument is reachable at the given address
// without leaving a session open. A "tcp:host:port" address probes the
// protocol emulator instead of a serial device.
func Probe(address string, baud int, cfg Config) ProbeResult {
	stream, result := openStream(address, baud, cfg)
	if stream == nil {
		return result
	}
	s, err := Open(stream, cfg)
	if err != nil {
		return ProbeResult{Kind: ProbeNoProtocol, Err: err}
	}
	s.Close()
	return ProbeResult{Kind: ProbeOK}
}

// openStream dials the address, distinguishing an absent device node
// from one that exists but will not open.
func openStream(address string, baud int, cfg Config) (transport.Stream, ProbeResult) {
	if target, ok := strings.CutPrefix(address, "tcp:"); ok {
		cfg.applyDefaults()
		conn, err := serial.OpenTCP(target, cfg.OverallTimeout)
		if err != nil {
			return nil, ProbeResult{Kind: ProbePortBusy, Err: err}
		}
		return conn, ProbeResult{}
	}
	if _, err := os.Stat(address); os.IsNotExist(err) {
		return nil, ProbeResult{Kind: ProbePortAbsent, Err: err}
	}
	if !serial.IsDeviceAvailable(address) {
		return nil, ProbeResult{Kind: ProbePortBusy, Err: errors.Connection("%s exists but cannot be opened", address)}
	}
	serCfg := serial.DefaultConfig()
	serCfg.Device = address
	serCfg.BaudRate = baud
	port, err := serial.Open(serCfg)
	if err != nil {
		return nil, ProbeResult{Kind: ProbePortBusy, Err: err}
	}
	// Discard whatever the device emitted before we were listening, so
	// the handshake ping starts from a clean line.
	port.Flush()
	return port, ProbeResult{}
}

// Dial opens a stream at the address ("tcp:host:port" or a device node)
// and establishes a verified session on it.
func Dial(address string, baud int, cfg Config, opts ...transport.Option) (*Session, error) {
	stream, result := openStream(address, baud, cfg)
	if stream == nil {
		return nil, errors.Wrap(errors.ErrConnection, result.Err, "open %s (%s)", address, result.Kind)
	}
	return Open(stream, cfg, opts...)
}

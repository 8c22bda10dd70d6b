// Package device implements the instrument command protocol on top of a
// transport session: one command in flight, retry-with-timeout
// discipline, and the high-level program/state operations.
package device

import (
	"time"

	"github.com/sirupsen/logrus"

	"chromahost/pkg/errors"
	"chromahost/pkg/frame"
	"chromahost/pkg/metrics"
	"chromahost/pkg/transport"
)

// Config holds the dispatcher timeout policy.
type Config struct {
	// AttemptTimeout bounds one request/response attempt (default 500ms).
	AttemptTimeout time.Duration

	// OverallTimeout bounds one command including retries (default 10s).
	OverallTimeout time.Duration
}

// DefaultConfig returns the stock timeout policy: half-second attempts
// inside a ten-second budget.
func DefaultConfig() Config {
	return Config{
		AttemptTimeout: 500 * time.Millisecond,
		OverallTimeout: 10 * time.Second,
	}
}

func (c *Config) applyDefaults() {
	if c.AttemptTimeout == 0 {
		c.AttemptTimeout = 500 * time.Millisecond
	}
	if c.OverallTimeout == 0 {
		c.OverallTimeout = 10 * time.Second
	}
}

// quiet commands are high-frequency; excluded from retry logging to keep
// diagnostics readable.
func quiet(cmd byte) bool {
	return cmd == frame.CmdPing || cmd == frame.CmdGetDeviceState
}

// Dispatcher sends one command at a time over a transport session.
type Dispatcher struct {
	session *transport.Session
	cfg     Config
	log     *logrus.Entry
}

// NewDispatcher wraps a transport session with the retry policy.
func NewDispatcher(session *transport.Session, cfg Config) *Dispatcher {
	cfg.applyDefaults()
	return &Dispatcher{
		session: session,
		cfg:     cfg,
		log:     logrus.WithField("component", "dispatcher"),
	}
}

// Send writes one command frame and waits for exactly one framed
// response. On a timeout or framing error the identical frame is resent
// until the overall budget is exceeded; connection and protocol-shape
// errors surface immediately.
func (d *Dispatcher) Send(cmd byte, body []byte) ([]byte, error) {
	name := frame.CommandName(cmd)
	if 1+len(body) > frame.MaxBody {
		return nil, errors.Protocol("%s: body of %d bytes exceeds frame capacity", name, len(body))
	}
	f := frame.EncodeCommand(cmd, body)

	if !quiet(cmd) {
		d.log.WithField("command", name).Debugf("sending (id %d, %d byte body)", cmd, len(body))
	}

	start := time.Now()
	for {
		metrics.CommandsSent.WithLabelValues(name).Inc()
		if err := d.session.Write(f); err != nil {
			return nil, errors.Wrap(errors.ErrConnection, err, "%s: write", name)
		}
		resp, err := d.session.Receive(d.cfg.AttemptTimeout)
		if err == nil {
			metrics.CommandDuration.Observe(time.Since(start).Seconds())
			return resp, nil
		}

		code := errors.CodeOf(err)
		if code == errors.ErrFraming {
			metrics.FramingErrors.Inc()
		}
		if code != errors.ErrTimeout && code != errors.ErrFraming {
			return nil, err
		}
		if time.Since(start) > d.cfg.OverallTimeout {
			metrics.CommandFailures.WithLabelValues(name).Inc()
			return nil, errors.Wrap(errors.ErrTimeout, err, "%s: no valid response within %v", name, d.cfg.OverallTimeout)
		}
		metrics.CommandRetries.WithLabelValues(name).Inc()
		if !quiet(cmd) {
			d.log.WithField("command", name).WithError(err).Debug("retrying")
		}
	}
}

// Ping sends the ping command. A non-zero first response byte or any
// protocol failure means "not reachable" rather than an error.
func (d *Dispatcher) Ping() bool {
	resp, err := d.Send(frame.CmdPing, nil)
	if err != nil || len(resp) == 0 {
		return false
	}
	return resp[0] == 0
}

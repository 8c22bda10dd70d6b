package transport

import (
	"bytes"
	"encoding/hex"
	"strings"
	"unicode/utf8"

	"chromahost/pkg/metrics"
)

// diagBuffer accumulates unframed bytes from the device and emits
// complete newline-terminated lines to the sink. Text is decoded as
// UTF-8 opportunistically; a line that does not decode is emitted as a
// hex dump instead. A pending tail with no newline yet is held until
// more bytes arrive or the buffer is cleared.
type diagBuffer struct {
	buf  []byte
	sink func(line string)
}

func newDiagBuffer(sink func(line string)) *diagBuffer {
	return &diagBuffer{sink: sink}
}

func (d *diagBuffer) push(data []byte) {
	d.buf = append(d.buf, data...)
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			return
		}
		line := d.buf[:idx]
		d.buf = d.buf[idx+1:]
		d.emit(line)
	}
}

func (d *diagBuffer) emit(line []byte) {
	if d.sink == nil {
		return
	}
	if utf8.Valid(line) {
		text := strings.TrimSpace(string(line))
		if text != "" {
			metrics.DiagnosticLines.Inc()
			d.sink(text)
		}
		return
	}
	metrics.DiagnosticLines.Inc()
	d.sink("raw: " + hex.EncodeToString(line))
}

func (d *diagBuffer) clear() {
	d.buf = d.buf[:0]
}

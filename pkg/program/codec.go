package program

import (
	"bytes"
	"encoding/binary"
	"math"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
)

// appendStep packs one step into its 16-byte wire record: two valve ids,
// two pad bytes, then little-endian f32 flow rate, volume, duration.
// The wire order is flow/volume/duration; keep it that way even though
// the step reads more naturally as flow/duration/volume.
func appendStep(dst []byte, step ProgramStep) []byte {
	dst = append(dst, step.ReagentValveID, step.ColumnValveID, 0, 0)
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(step.FlowRate))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(step.Volume))
	dst = binary.LittleEndian.AppendUint32(dst, math.Float32bits(step.Duration))
	return dst
}

func decodeStep(rec []byte) ProgramStep {
	return ProgramStep{
		ReagentValveID: rec[0],
		ColumnValveID:  rec[1],
		FlowRate:       math.Float32frombits(binary.LittleEndian.Uint32(rec[4:8])),
		Volume:         math.Float32frombits(binary.LittleEndian.Uint32(rec[8:12])),
		Duration:       math.Float32frombits(binary.LittleEndian.Uint32(rec[12:16])),
	}
}

// EncodeBlocks packs steps into 16-byte records in order, grouped into
// transfer blocks of StepsPerBlock records each; a trailing partial
// group becomes its own shorter final block.
func EncodeBlocks(steps []ProgramStep) [][]byte {
	var blocks [][]byte
	var block []byte
	for i, step := range steps {
		block = appendStep(block, step)
		if (i+1)%StepsPerBlock == 0 {
			blocks = append(blocks, block)
			block = nil
		}
	}
	if len(block) > 0 {
		blocks = append(blocks, block)
	}
	return blocks
}

// DecodeBlocks parses every complete 16-byte record in each block in
// order. A trailing remainder that is not a whole record is logged and
// dropped, never merged into adjacent data.
func DecodeBlocks(blocks [][]byte) []ProgramStep {
	var steps []ProgramStep
	for i, block := range blocks {
		n := len(block) / StepSize
		for j := 0; j < n; j++ {
			steps = append(steps, decodeStep(block[j*StepSize:(j+1)*StepSize]))
		}
		if rem := len(block) % StepSize; rem != 0 {
			logrus.WithFields(logrus.Fields{
				"component": "program",
				"block":     i,
				"bytes":     rem,
			}).Warn("dropping incomplete trailing step record")
		}
	}
	return steps
}

// EncodeNameTable writes each name UTF-8 encoded and zero-padded into
// its slotWidth-byte region at (slot-1)*slotWidth. Unset slots remain
// all-zero. Names longer than the slot width are truncated (at a rune
// boundary) rather than rejected; slots outside 1..capacity are ignored.
func EncodeNameTable(names map[int]string, capacity, slotWidth int) []byte {
	buf := make([]byte, capacity*slotWidth)
	for slot, name := range names {
		if slot < 1 || slot > capacity {
			continue
		}
		encoded := truncateUTF8(name, slotWidth)
		copy(buf[(slot-1)*slotWidth:], encoded)
	}
	return buf
}

// DecodeNameTable splits data into slotWidth-byte chunks, strips trailing
// NUL padding, and decodes UTF-8. It always yields exactly capacity
// entries (slots 1..capacity); missing source bytes yield empty names.
func DecodeNameTable(data []byte, capacity, slotWidth int) map[int]string {
	names := make(map[int]string, capacity)
	for slot := 1; slot <= capacity; slot++ {
		start := (slot - 1) * slotWidth
		end := start + slotWidth
		if start > len(data) {
			start = len(data)
		}
		if end > len(data) {
			end = len(data)
		}
		chunk := bytes.TrimRight(data[start:end], "\x00")
		names[slot] = string(chunk)
	}
	return names
}

// truncateUTF8 cuts s to at most width bytes without splitting a rune.
func truncateUTF8(s string, width int) string {
	if len(s) <= width {
		return s
	}
	for width > 0 && !utf8.RuneStart(s[width]) {
		width--
	}
	return s[:width]
}

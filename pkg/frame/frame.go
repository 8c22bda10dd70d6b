// Package frame implements the wire framing used by the instrument
// firmware: a two-byte preamble, a one-byte total length, the payload
// (command id plus body), and a big-endian CRC-32 of the payload.
package frame

import (
	"encoding/binary"
	"hash/crc32"

	"chromahost/pkg/errors"
)

const (
	// Sync1 and Sync2 form the fixed frame preamble.
	Sync1 = 0x21
	Sync2 = 0x37

	// TrailerSize is the CRC-32 appended after the payload.
	TrailerSize = 4

	// MaxBody is the largest payload (command id + body) that fits the
	// one-byte length field. Callers must enforce this before encoding;
	// the codec itself does not.
	MaxBody = 255 - TrailerSize
)

// Checksum returns the CRC-32 (IEEE) of the payload, matching zlib.crc32
// on the host side and the Arduino CRC32 library in the firmware.
func Checksum(payload []byte) uint32 {
	return crc32.ChecksumIEEE(payload)
}

// Encode wraps a raw payload into a complete frame. Device responses use
// this directly: they carry no command-id echo, just the response data.
func Encode(payload []byte) []byte {
	out := make([]byte, 0, 3+len(payload)+TrailerSize)
	out = append(out, Sync1, Sync2, byte(len(payload)+TrailerSize))
	out = append(out, payload...)
	out = binary.BigEndian.AppendUint32(out, Checksum(payload))
	return out
}

// EncodeCommand builds a request frame whose payload is the command id
// followed by the command body.
func EncodeCommand(commandID byte, body []byte) []byte {
	payload := make([]byte, 0, 1+len(body))
	payload = append(payload, commandID)
	payload = append(payload, body...)
	return Encode(payload)
}

// SplitChecksum verifies the trailing CRC-32 of a received frame body
// (everything between the length byte and the end of the frame) and
// returns the payload with the checksum stripped.
func SplitChecksum(body []byte) ([]byte, error) {
	if len(body) <= TrailerSize {
		return nil, errors.Framing("frame body too short: %d bytes", len(body))
	}
	payload := body[:len(body)-TrailerSize]
	want := binary.BigEndian.Uint32(body[len(body)-TrailerSize:])
	if got := Checksum(payload); got != want {
		return nil, errors.Framing("checksum mismatch: computed %08x, received %08x", got, want)
	}
	return payload, nil
}

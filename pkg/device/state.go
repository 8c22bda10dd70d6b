package device

import (
	"encoding/binary"
	"math"

	"chromahost/pkg/errors"
)

// stateSize is the minimum device state payload. Firmware revisions may
// append fields; extra bytes are ignored.
const stateSize = 20

// State is the decoded periodic snapshot of the instrument.
type State struct {
	PumpSpeed     float32 `json:"pump_speed"`     // ml/min
	PumpVolume    float32 `json:"pump_volume"`    // microliters pumped so far
	ProgramStep   uint16  `json:"program_step"`   // index of the executing step
	DeviceState   uint8   `json:"device_state"`   // firmware run-level
	ReagentValve  uint8   `json:"reagent_valve"`  // selected reagent port
	ReagentMoving uint8   `json:"reagent_moving"` // non-zero while the valve turns
	ColumnValve   uint8   `json:"column_valve"`   // selected column port
	ColumnMoving  uint8   `json:"column_moving"`  // non-zero while the valve turns
	Running       bool    `json:"running"`        // a program is executing
	StepProgress  uint8   `json:"step_progress"`  // raw 0..255 progress of the step
}

// Progress reports the current step completion as a percentage.
func (s *State) Progress() float64 {
	return float64(s.StepProgress) / 2.55
}

// PumpVolumeML reports the pumped volume in milliliters.
func (s *State) PumpVolumeML() float64 {
	return float64(s.PumpVolume) / 1000.0
}

// DecodeState parses a GET_DEVICE_STATE response payload. Responses
// shorter than the fixed layout are rejected rather than partially
// decoded.
func DecodeState(data []byte) (*State, error) {
	if len(data) < stateSize {
		return nil, errors.Protocol("device state response is %d bytes, need at least %d", len(data), stateSize)
	}
	return &State{
		PumpSpeed:     math.Float32frombits(binary.LittleEndian.Uint32(data[0:4])),
		PumpVolume:    math.Float32frombits(binary.LittleEndian.Uint32(data[4:8])),
		ProgramStep:   binary.LittleEndian.Uint16(data[8:10]),
		DeviceState:   data[10],
		ReagentValve:  data[11],
		ReagentMoving: data[12],
		ColumnValve:   data[13],
		ColumnMoving:  data[14],
		Running:       data[15] != 0,
		StepProgress:  data[16],
		// data[17:20] is padding.
	}, nil
}

// Package program models an instrument program - reagent/column name
// tables plus an ordered step list - and converts between the declarative
// flush/sleep description, the firmware's 16-byte binary step records,
// and the fixed-slot name table layout.
package program

// Firmware layout constants. These are a fixed contract with one
// firmware revision.
const (
	// StepSize is the size of one packed step record.
	StepSize = 16

	// StepsPerBlock is how many step records travel in one transfer
	// block.
	StepsPerBlock = 5

	// MaxReagents and MaxColumns are the firmware's name table
	// capacities.
	MaxReagents = 6
	MaxColumns  = 6

	// NameWidth is the fixed byte width of one name slot (UTF-8,
	// zero-padded).
	NameWidth = 40

	// SentinelValve means "leave this valve's position unchanged".
	SentinelValve = 0xff
)

// SlotToID converts a 1-based UI/firmware-visible slot number to the
// 0-based valve id used on the wire.
func SlotToID(slot int) uint8 {
	return uint8(slot - 1)
}

// IDToSlot converts a 0-based wire valve id to the 1-based slot number.
func IDToSlot(id uint8) int {
	return int(id) + 1
}

// ProgramStep is one device-ready step. Volume and Duration may be
// +Inf, meaning unbounded; FlowRate 0 means pump off.
type ProgramStep struct {
	ReagentValveID uint8
	ColumnValveID  uint8
	FlowRate       float32 // mL/min
	Volume         float32 // mL
	Duration       float32 // seconds
}

// FlushStep is a human-authored flush operation. Volume and Duration
// use suffix notation ("20ml", "2h30m"); empty means unbounded.
type FlushStep struct {
	Reagent  string `yaml:"reagent"`
	Column   string `yaml:"column"`
	FlowRate string `yaml:"flow_rate"`
	Volume   string `yaml:"volume,omitempty"`
	Duration string `yaml:"duration,omitempty"`
}

// SleepStep is a human-authored pause. It lowers to a step with both
// valve ids set to the sentinel and the pump off.
type SleepStep struct {
	Duration string `yaml:"duration"`
}

// StepSpec is one entry of the declarative program list: exactly one of
// Flush or Sleep is set.
type StepSpec struct {
	Flush *FlushStep `yaml:"flush,omitempty"`
	Sleep *SleepStep `yaml:"sleep,omitempty"`
}

// Program is a complete device-ready program. Reagents and Columns map
// 1-based slot numbers to names.
type Program struct {
	Reagents map[int]string
	Columns  map[int]string
	Steps    []ProgramStep
}

package frame

import "fmt"

// Command ids understood by the firmware. This is a closed contract with
// one firmware revision; ids are not extensible at runtime.
const (
	CmdPing              = 0
	CmdValve             = 1
	CmdPump              = 2
	CmdInitProgramWrite  = 4
	CmdWriteProgramBlock = 5
	CmdExecuteProgram    = 6
	CmdGetProgramBlock   = 7
	CmdGetProgramLength  = 8
	CmdGetReagents       = 9
	CmdGetColumns        = 10
	CmdSetReagents       = 11
	CmdSetColumns        = 12
	CmdAbortProgram      = 13
	CmdGetDeviceState    = 14
	CmdTareWeightSensor  = 15
)

var commandNames = map[byte]string{
	CmdPing:              "PING",
	CmdValve:             "VALVE_CMD",
	CmdPump:              "PUMP_CMD",
	CmdInitProgramWrite:  "INIT_PROGRAM_WRITE",
	CmdWriteProgramBlock: "WRITE_PROGRAM_BLOCK",
	CmdExecuteProgram:    "EXECUTE_PROGRAM",
	CmdGetProgramBlock:   "GET_PROGRAM_BLOCK",
	CmdGetProgramLength:  "GET_PROGRAM_LENGTH",
	CmdGetReagents:       "GET_REAGENTS",
	CmdGetColumns:        "GET_COLUMNS",
	CmdSetReagents:       "SET_REAGENTS",
	CmdSetColumns:        "SET_COLUMNS",
	CmdAbortProgram:      "ABORT_PROGRAM",
	CmdGetDeviceState:    "GET_DEVICE_STATE",
	CmdTareWeightSensor:  "TARE_WEIGHT_SENSOR",
}

// CommandName returns the human-readable name for a command id, for
// diagnostics and logs.
func CommandName(id byte) string {
	if name, ok := commandNames[id]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN_CMD_%d", id)
}

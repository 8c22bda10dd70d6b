package device

import (
	"encoding/binary"
	"math"

	"github.com/sirupsen/logrus"

	"chromahost/pkg/errors"
	"chromahost/pkg/frame"
	"chromahost/pkg/metrics"
	"chromahost/pkg/program"
	"chromahost/pkg/transport"
)

// Session is a connected instrument: a transport session plus the
// command dispatcher and the program/state operations on top of them.
type Session struct {
	transport *transport.Session
	disp      *Dispatcher
	log       *logrus.Entry
}

// NewSession builds a session over an already-established transport.
func NewSession(ts *transport.Session, cfg Config) *Session {
	return &Session{
		transport: ts,
		disp:      NewDispatcher(ts, cfg),
		log:       logrus.WithField("component", "device"),
	}
}

// Open wraps a raw byte stream in a transport session and verifies the
// instrument answers a ping before handing the session back. On failure
// the stream is closed.
func Open(stream transport.Stream, cfg Config, opts ...transport.Option) (*Session, error) {
	ts := transport.NewSession(stream, opts...)
	s := NewSession(ts, cfg)
	if !s.disp.Ping() {
		ts.Close()
		return nil, errors.Connection("no instrument protocol on stream")
	}
	metrics.Connected.Set(1)
	return s, nil
}

// Check reports whether the instrument still answers a ping.
func (s *Session) Check() bool {
	return s.disp.Ping()
}

// ValveCommand moves both valves. Ids are 0-based wire ids; the sentinel
// leaves that valve untouched.
func (s *Session) ValveCommand(reagentID, columnID uint8) error {
	_, err := s.disp.Send(frame.CmdValve, []byte{reagentID, columnID})
	return err
}

// PumpCommand sets the pump speed target (ml/min) and acceleration
// (ml/min per second).
func (s *Session) PumpCommand(speed, acceleration float32) error {
	body := make([]byte, 0, 8)
	body = binary.LittleEndian.AppendUint32(body, math.Float32bits(speed))
	body = binary.LittleEndian.AppendUint32(body, math.Float32bits(acceleration))
	_, err := s.disp.Send(frame.CmdPump, body)
	return err
}

// TareWeightSensor zeroes one weight sensor channel (0-7).
func (s *Session) TareWeightSensor(channel int) error {
	if channel < 0 || channel > 7 {
		return errors.Protocol("tare channel %d out of range 0-7", channel)
	}
	_, err := s.disp.Send(frame.CmdTareWeightSensor, []byte{byte(channel)})
	return err
}

// ExecuteProgram starts the stored program.
func (s *Session) ExecuteProgram() error {
	s.log.Info("executing program")
	_, err := s.disp.Send(frame.CmdExecuteProgram, nil)
	return err
}

// AbortProgram stops program execution and the pump.
func (s *Session) AbortProgram() error {
	s.log.Info("aborting program")
	_, err := s.disp.Send(frame.CmdAbortProgram, nil)
	return err
}

// GetDeviceState fetches and decodes the periodic state snapshot.
func (s *Session) GetDeviceState() (*State, error) {
	resp, err := s.disp.Send(frame.CmdGetDeviceState, nil)
	if err != nil {
		return nil, err
	}
	return DecodeState(resp)
}

// programLength asks the firmware for the stored step count and the
// block capacity. Both are big-endian on the wire, unlike the step
// payload floats.
func (s *Session) programLength() (current, max int, err error) {
	resp, err := s.disp.Send(frame.CmdGetProgramLength, nil)
	if err != nil {
		return 0, 0, err
	}
	if len(resp) < 4 {
		return 0, 0, errors.Protocol("program length response is %d bytes, need 4", len(resp))
	}
	return int(binary.BigEndian.Uint16(resp[0:2])), int(binary.BigEndian.Uint16(resp[2:4])), nil
}

// ProgramLength reports how many steps the instrument currently stores.
func (s *Session) ProgramLength() (int, error) {
	current, _, err := s.programLength()
	return current, err
}

// WriteProgram uploads a complete program: name tables first, then the
// step records in transfer blocks, then a length readback to verify the
// upload. The block capacity is checked before any block is written.
func (s *Session) WriteProgram(p *program.Program) error {
	s.log.WithField("steps", len(p.Steps)).Info("uploading program")
	if _, err := s.disp.Send(frame.CmdInitProgramWrite, nil); err != nil {
		return err
	}
	if err := s.SetReagents(p.Reagents); err != nil {
		return err
	}
	if err := s.SetColumns(p.Columns); err != nil {
		return err
	}
	_, maxBlocks, err := s.programLength()
	if err != nil {
		return err
	}
	blocks := program.EncodeBlocks(p.Steps)
	if len(blocks) > maxBlocks {
		return errors.Capacity("program needs %d blocks, instrument stores at most %d", len(blocks), maxBlocks)
	}
	for i, block := range blocks {
		if _, err := s.disp.Send(frame.CmdWriteProgramBlock, block); err != nil {
			return err
		}
		s.log.Debugf("uploaded block %d/%d", i+1, len(blocks))
	}
	stored, _, err := s.programLength()
	if err != nil {
		return err
	}
	if stored != len(p.Steps) {
		return errors.Protocol("upload verification failed: instrument stores %d steps, wrote %d", stored, len(p.Steps))
	}
	s.log.Info("program upload verified")
	return nil
}

// ReadProgram downloads the stored program: name tables, then the step
// records fetched in full blocks plus one partial block for the tail.
func (s *Session) ReadProgram() (*program.Program, error) {
	reagents, err := s.GetReagents()
	if err != nil {
		return nil, err
	}
	columns, err := s.GetColumns()
	if err != nil {
		return nil, err
	}
	length, _, err := s.programLength()
	if err != nil {
		return nil, err
	}
	s.log.WithField("steps", length).Debug("reading program")

	var blocks [][]byte
	fullBlocks := length / program.StepsPerBlock
	tail := length % program.StepsPerBlock
	for i := 0; i < fullBlocks; i++ {
		block, err := s.getProgramBlock(i*program.StepsPerBlock, program.StepsPerBlock)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	if tail > 0 {
		block, err := s.getProgramBlock(fullBlocks*program.StepsPerBlock, tail)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return &program.Program{
		Reagents: reagents,
		Columns:  columns,
		Steps:    program.DecodeBlocks(blocks),
	}, nil
}

func (s *Session) getProgramBlock(stepIndex, stepCount int) ([]byte, error) {
	body := make([]byte, 0, 4)
	body = binary.BigEndian.AppendUint16(body, uint16(stepIndex))
	body = binary.BigEndian.AppendUint16(body, uint16(stepCount))
	return s.disp.Send(frame.CmdGetProgramBlock, body)
}

// SetReagents uploads the reagent name table.
func (s *Session) SetReagents(names map[int]string) error {
	table := program.EncodeNameTable(names, program.MaxReagents, program.NameWidth)
	_, err := s.disp.Send(frame.CmdSetReagents, table)
	return err
}

// SetColumns uploads the column name table.
func (s *Session) SetColumns(names map[int]string) error {
	table := program.EncodeNameTable(names, program.MaxColumns, program.NameWidth)
	_, err := s.disp.Send(frame.CmdSetColumns, table)
	return err
}

// GetReagents downloads the reagent name table, keyed by 1-based slot.
func (s *Session) GetReagents() (map[int]string, error) {
	resp, err := s.disp.Send(frame.CmdGetReagents, nil)
	if err != nil {
		return nil, err
	}
	return program.DecodeNameTable(resp, program.MaxReagents, program.NameWidth), nil
}

// GetColumns downloads the column name table, keyed by 1-based slot.
func (s *Session) GetColumns() (map[int]string, error) {
	resp, err := s.disp.Send(frame.CmdGetColumns, nil)
	if err != nil {
		return nil, err
	}
	return program.DecodeNameTable(resp, program.MaxColumns, program.NameWidth), nil
}

// PollDiagnostics drains any unframed bytes sitting on the stream into
// the diagnostic sink.
func (s *Session) PollDiagnostics() {
	s.transport.PollDiagnostics()
}

// ClearDiagnostics discards any partially accumulated diagnostic line.
func (s *Session) ClearDiagnostics() {
	s.transport.ClearDiagnostics()
}

// Close releases the underlying stream. Safe to call more than once.
func (s *Session) Close() error {
	metrics.Connected.Set(0)
	return s.transport.Close()
}

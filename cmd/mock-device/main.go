// mock-device simulates the chromatography instrument firmware over TCP
// for testing the host without hardware. It implements the full command
// set against an in-memory device model:
// - program storage with block-wise write and read-back
// - reagent/column name tables
// - valve and pump state with fake step progression while running
// - periodic unframed log lines, as the real firmware emits on the
//   shared serial line
//
// Usage:
//
//	mock-device -addr :8432 [-log-interval 5s]
package main

import (
	"encoding/binary"
	"flag"
	"fmt"
	"math"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"chromahost/pkg/frame"
	"chromahost/pkg/program"
)

const (
	maxBlocks = 10
	maxSteps  = maxBlocks * program.StepsPerBlock
	tableSize = program.MaxReagents * program.NameWidth
)

// deviceModel is the emulated instrument state shared by all
// connections and the progression ticker.
type deviceModel struct {
	mu sync.Mutex

	reagents [tableSize]byte
	columns  [tableSize]byte
	steps    []byte // packed step records

	running      bool
	stepIdx      int
	stepElapsed  float32 // seconds into the current step
	pumpSpeed    float32 // ml/min
	pumpVolume   float32 // ul
	reagentValve uint8
	columnValve  uint8
}

func newDeviceModel() *deviceModel {
	m := &deviceModel{}
	// The firmware boots with placeholder names in every slot.
	for i := 0; i < program.MaxReagents; i++ {
		copy(m.reagents[i*program.NameWidth:], fmt.Sprintf("Reagent_%d", i+1))
		copy(m.columns[i*program.NameWidth:], fmt.Sprintf("Column_%d", i+1))
	}
	return m
}

func (m *deviceModel) stepCount() int {
	return len(m.steps) / program.StepSize
}

// step returns the idx'th stored record, already decoded.
func (m *deviceModel) step(idx int) program.ProgramStep {
	blocks := [][]byte{m.steps[idx*program.StepSize : (idx+1)*program.StepSize]}
	return program.DecodeBlocks(blocks)[0]
}

func (m *deviceModel) handle(cmd byte, body []byte) []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch cmd {
	case frame.CmdPing:
		return []byte{0}

	case frame.CmdValve:
		if len(body) < 2 {
			return []byte{1}
		}
		if body[0] != program.SentinelValve {
			m.reagentValve = body[0]
		}
		if body[1] != program.SentinelValve {
			m.columnValve = body[1]
		}
		return []byte{0}

	case frame.CmdPump:
		if len(body) < 8 {
			return []byte{1}
		}
		m.pumpSpeed = math.Float32frombits(binary.LittleEndian.Uint32(body[0:4]))
		return []byte{0}

	case frame.CmdInitProgramWrite:
		m.running = false
		m.steps = nil
		return []byte{0}

	case frame.CmdWriteProgramBlock:
		if m.stepCount()+len(body)/program.StepSize > maxSteps {
			return []byte{1}
		}
		m.steps = append(m.steps, body...)
		return []byte{0}

	case frame.CmdExecuteProgram:
		if m.stepCount() > 0 {
			m.running = true
			m.stepIdx = 0
			m.stepElapsed = 0
			m.applyStepLocked()
		}
		return []byte{0}

	case frame.CmdAbortProgram:
		m.running = false
		m.pumpSpeed = 0
		return []byte{0}

	case frame.CmdGetProgramBlock:
		if len(body) < 4 {
			return []byte{1}
		}
		idx := int(binary.BigEndian.Uint16(body[0:2]))
		count := int(binary.BigEndian.Uint16(body[2:4]))
		start := idx * program.StepSize
		end := start + count*program.StepSize
		if start > len(m.steps) || end > len(m.steps) {
			return []byte{1}
		}
		return append([]byte(nil), m.steps[start:end]...)

	case frame.CmdGetProgramLength:
		resp := make([]byte, 0, 4)
		resp = binary.BigEndian.AppendUint16(resp, uint16(m.stepCount()))
		resp = binary.BigEndian.AppendUint16(resp, maxBlocks)
		return resp

	case frame.CmdGetReagents:
		return append([]byte(nil), m.reagents[:]...)

	case frame.CmdGetColumns:
		return append([]byte(nil), m.columns[:]...)

	case frame.CmdSetReagents:
		copy(m.reagents[:], body)
		return []byte{0}

	case frame.CmdSetColumns:
		copy(m.columns[:], body)
		return []byte{0}

	case frame.CmdGetDeviceState:
		return m.stateLocked()

	case frame.CmdTareWeightSensor:
		return []byte{0}
	}
	return []byte{1}
}

// stateLocked packs the 20-byte device state snapshot.
func (m *deviceModel) stateLocked() []byte {
	deviceState := byte(0)
	running := byte(0)
	progress := byte(0)
	if m.running {
		deviceState = 1
		running = 1
		step := m.step(m.stepIdx)
		if step.Duration > 0 && !math.IsInf(float64(step.Duration), 1) {
			progress = byte(math.Min(255, float64(m.stepElapsed/step.Duration*255)))
		}
	}
	buf := make([]byte, 0, 20)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(m.pumpSpeed))
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(m.pumpVolume))
	buf = binary.LittleEndian.AppendUint16(buf, uint16(m.stepIdx))
	buf = append(buf, deviceState)
	buf = append(buf, m.reagentValve, 0, m.columnValve, 0)
	buf = append(buf, running, progress, 0, 0, 0)
	return buf
}

// applyStepLocked makes the pump and valves reflect the current step.
func (m *deviceModel) applyStepLocked() {
	step := m.step(m.stepIdx)
	m.pumpSpeed = step.FlowRate
	if step.ReagentValveID != program.SentinelValve {
		m.reagentValve = step.ReagentValveID
	}
	if step.ColumnValveID != program.SentinelValve {
		m.columnValve = step.ColumnValveID
	}
}

// tick advances the fake execution by dt. Steps complete when their
// duration elapses; unbounded steps run until aborted.
func (m *deviceModel) tick(dt float32) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.running {
		return
	}
	m.stepElapsed += dt
	m.pumpVolume += m.pumpSpeed / 60.0 * dt * 1000.0 // ml/min -> ul

	step := m.step(m.stepIdx)
	if math.IsInf(float64(step.Duration), 1) || m.stepElapsed < step.Duration {
		return
	}
	m.stepIdx++
	m.stepElapsed = 0
	if m.stepIdx >= m.stepCount() {
		m.running = false
		m.stepIdx = 0
		m.pumpSpeed = 0
		return
	}
	m.applyStepLocked()
}

// connection serializes frame and log-line writes to one client.
type connection struct {
	mu   sync.Mutex
	conn net.Conn
}

func (c *connection) sendFrame(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write(frame.Encode(payload))
	return err
}

func (c *connection) sendLogLine(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.conn.Write([]byte(line + "\r\n"))
	return err
}

// serve reads command frames with the firmware's receive loop and
// answers each one.
func serve(c *connection, model *deviceModel, logInterval time.Duration, log *logrus.Entry) {
	defer c.conn.Close()

	done := make(chan struct{})
	defer close(done)
	if logInterval > 0 {
		go func() {
			ticker := time.NewTicker(logInterval)
			defer ticker.Stop()
			for {
				select {
				case <-done:
					return
				case <-ticker.C:
					model.mu.Lock()
					line := fmt.Sprintf("[device] pump %.2f ml/min, volume %.1f ul, running=%v",
						model.pumpSpeed, model.pumpVolume, model.running)
					model.mu.Unlock()
					if c.sendLogLine(line) != nil {
						return
					}
				}
			}
		}()
	}

	const (
		waitSync1 = iota
		waitSync2
		readLength
		readBody
	)
	state := waitSync1
	var bodyLen int
	var body []byte
	buf := make([]byte, 512)

	for {
		n, err := c.conn.Read(buf)
		if err != nil {
			log.WithError(err).Debug("client gone")
			return
		}
		for _, b := range buf[:n] {
			switch state {
			case waitSync1:
				if b == frame.Sync1 {
					state = waitSync2
				}
			case waitSync2:
				if b == frame.Sync2 {
					state = readLength
				} else {
					state = waitSync1
				}
			case readLength:
				if b == 0 {
					state = waitSync1
					continue
				}
				bodyLen = int(b)
				body = body[:0]
				state = readBody
			case readBody:
				body = append(body, b)
				if len(body) < bodyLen {
					continue
				}
				state = waitSync1
				payload, err := frame.SplitChecksum(body)
				if err != nil {
					log.WithError(err).Warn("dropping corrupt command frame")
					continue
				}
				cmd := payload[0]
				resp := model.handle(cmd, payload[1:])
				log.WithField("command", frame.CommandName(cmd)).Debug("handled")
				if err := c.sendFrame(resp); err != nil {
					return
				}
			}
		}
	}
}

func main() {
	addr := flag.String("addr", ":8432", "TCP listen address")
	logInterval := flag.Duration("log-interval", 5*time.Second, "unframed log line interval (0 disables)")
	debug := flag.Bool("debug", false, "log every handled command")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	log := logrus.WithField("component", "mock-device")

	model := newDeviceModel()
	go func() {
		const dt = 100 * time.Millisecond
		ticker := time.NewTicker(dt)
		defer ticker.Stop()
		for range ticker.C {
			model.tick(float32(dt.Seconds()))
		}
	}()

	listener, err := net.Listen("tcp", *addr)
	if err != nil {
		log.WithError(err).Fatal("listen")
	}
	log.WithField("addr", listener.Addr().String()).Info("mock device listening")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		listener.Close()
		os.Exit(0)
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			log.WithError(err).Error("accept")
			return
		}
		log.WithField("remote", conn.RemoteAddr().String()).Info("client connected")
		go serve(&connection{conn: conn}, model, *logInterval, log)
	}
}

// chromactl runs one-shot operations against the instrument: upload and
// execute programs, inspect device state, move valves, drive the pump.
//
// Usage:
//
//	chromactl [-device /dev/ttyUSB0|-device tcp:host:port] <command> [args]
//
// Commands:
//
//	ping                 check whether the instrument answers
//	probe                classify what is present at the port
//	state                print one decoded device state snapshot
//	upload <file.yaml>   upload a program, verify the stored length
//	read                 download and print the stored program
//	run <file.yaml>      upload, execute, and watch until it finishes
//	exec                 execute the stored program
//	abort                abort execution and stop the pump
//	valve <reagent> <column>   move valves (1-based slots, 0 = keep)
//	pump <ml/min> [accel]      set pump speed
//	tare <channel>       zero one weight sensor channel (0-7)
//	ports                list candidate serial ports
package main

import (
	"flag"
	"fmt"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"chromahost/pkg/device"
	"chromahost/pkg/program"
	"chromahost/pkg/serial"
)

func main() {
	deviceFlag := flag.String("device", "/dev/ttyUSB0", "serial device or tcp:host:port")
	baud := flag.Int("baud", 115200, "serial baud rate")
	timeout := flag.Duration("timeout", 10*time.Second, "overall per-command timeout")
	debug := flag.Bool("debug", false, "debug logging")
	flag.Parse()

	if *debug {
		logrus.SetLevel(logrus.DebugLevel)
	} else {
		logrus.SetLevel(logrus.WarnLevel)
	}

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	command := flag.Arg(0)
	args := flag.Args()[1:]

	cfg := device.DefaultConfig()
	cfg.OverallTimeout = *timeout

	// Commands that need no open session.
	switch command {
	case "ports":
		ports, err := serial.ListPorts()
		if err != nil {
			fatal("list ports: %v", err)
		}
		for _, port := range ports {
			fmt.Println(port)
		}
		return
	case "probe":
		result := device.Probe(*deviceFlag, *baud, cfg)
		fmt.Printf("%s: %s\n", *deviceFlag, result.Kind)
		if result.Err != nil {
			fmt.Printf("  %v\n", result.Err)
		}
		if result.Kind != device.ProbeOK {
			os.Exit(1)
		}
		return
	}

	session, err := device.Dial(*deviceFlag, *baud, cfg)
	if err != nil {
		fatal("connect %s: %v", *deviceFlag, err)
	}
	defer session.Close()

	if err := run(session, command, args); err != nil {
		fatal("%s: %v", command, err)
	}
}

func run(session *device.Session, command string, args []string) error {
	switch command {
	case "ping":
		if !session.Check() {
			return fmt.Errorf("no response")
		}
		fmt.Println("ok")
		return nil

	case "state":
		state, err := session.GetDeviceState()
		if err != nil {
			return err
		}
		printState(state)
		return nil

	case "upload":
		p, err := loadProgram(args)
		if err != nil {
			return err
		}
		if err := session.WriteProgram(p); err != nil {
			return err
		}
		fmt.Printf("uploaded %d steps\n", len(p.Steps))
		return nil

	case "read":
		p, err := session.ReadProgram()
		if err != nil {
			return err
		}
		printProgram(p)
		return nil

	case "run":
		p, err := loadProgram(args)
		if err != nil {
			return err
		}
		if err := session.WriteProgram(p); err != nil {
			return err
		}
		if err := session.ExecuteProgram(); err != nil {
			return err
		}
		return watch(session, len(p.Steps))

	case "exec":
		return session.ExecuteProgram()

	case "abort":
		return session.AbortProgram()

	case "valve":
		if len(args) != 2 {
			return fmt.Errorf("usage: valve <reagent slot> <column slot>")
		}
		reagent, err := valveArg(args[0])
		if err != nil {
			return err
		}
		column, err := valveArg(args[1])
		if err != nil {
			return err
		}
		return session.ValveCommand(reagent, column)

	case "pump":
		if len(args) < 1 || len(args) > 2 {
			return fmt.Errorf("usage: pump <ml/min> [accel]")
		}
		speed, err := strconv.ParseFloat(args[0], 32)
		if err != nil {
			return fmt.Errorf("speed %q: %w", args[0], err)
		}
		accel := 10.0
		if len(args) == 2 {
			if accel, err = strconv.ParseFloat(args[1], 32); err != nil {
				return fmt.Errorf("accel %q: %w", args[1], err)
			}
		}
		return session.PumpCommand(float32(speed), float32(accel))

	case "tare":
		if len(args) != 1 {
			return fmt.Errorf("usage: tare <channel>")
		}
		channel, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("channel %q: %w", args[0], err)
		}
		return session.TareWeightSensor(channel)
	}
	return fmt.Errorf("unknown command %q", command)
}

func loadProgram(args []string) (*program.Program, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("expected one program file argument")
	}
	return program.LoadFile(args[0])
}

// valveArg maps a 1-based slot argument to a wire id; 0 keeps the
// current position.
func valveArg(arg string) (uint8, error) {
	slot, err := strconv.Atoi(arg)
	if err != nil {
		return 0, fmt.Errorf("valve slot %q: %w", arg, err)
	}
	if slot == 0 {
		return program.SentinelValve, nil
	}
	if slot < 1 || slot > program.MaxReagents {
		return 0, fmt.Errorf("valve slot %d out of range 1-%d", slot, program.MaxReagents)
	}
	return program.SlotToID(slot), nil
}

// watch polls the device until the running flag clears, rewriting the
// step progress in place on the console.
func watch(session *device.Session, totalSteps int) error {
	for {
		state, err := session.GetDeviceState()
		if err != nil {
			return err
		}
		if !state.Running {
			fmt.Printf("\nprogram finished\n")
			return nil
		}
		fmt.Printf("running step %d/%d: %d%%    \r",
			state.ProgramStep+1, totalSteps, int(math.Round(state.Progress())))
		time.Sleep(100 * time.Millisecond)
	}
}

func printState(state *device.State) {
	running := "idle"
	if state.Running {
		running = fmt.Sprintf("running step %d (%.0f%%)", state.ProgramStep+1, state.Progress())
	}
	fmt.Printf("pump:    %.2f ml/min, %.2f ml pumped\n", state.PumpSpeed, state.PumpVolumeML())
	fmt.Printf("valves:  reagent %d (moving=%d), column %d (moving=%d)\n",
		program.IDToSlot(state.ReagentValve), state.ReagentMoving,
		program.IDToSlot(state.ColumnValve), state.ColumnMoving)
	fmt.Printf("program: %s\n", running)
}

func printProgram(p *program.Program) {
	fmt.Println("reagents:")
	for slot := 1; slot <= program.MaxReagents; slot++ {
		if name := p.Reagents[slot]; name != "" {
			fmt.Printf("  %d: %s\n", slot, name)
		}
	}
	fmt.Println("columns:")
	for slot := 1; slot <= program.MaxColumns; slot++ {
		if name := p.Columns[slot]; name != "" {
			fmt.Printf("  %d: %s\n", slot, name)
		}
	}
	fmt.Printf("steps (%d):\n", len(p.Steps))
	for i, step := range p.Steps {
		fmt.Printf("  %2d: %s\n", i+1, describeStep(p, step))
	}
}

func describeStep(p *program.Program, step program.ProgramStep) string {
	duration := "unbounded"
	if !math.IsInf(float64(step.Duration), 1) {
		duration = (time.Duration(step.Duration) * time.Second).String()
	}
	if step.ReagentValveID == program.SentinelValve && step.FlowRate == 0 {
		return fmt.Sprintf("sleep %s", duration)
	}
	volume := "unbounded"
	if !math.IsInf(float64(step.Volume), 1) {
		volume = fmt.Sprintf("%.1f ml", step.Volume)
	}
	reagent := p.Reagents[program.IDToSlot(step.ReagentValveID)]
	column := p.Columns[program.IDToSlot(step.ColumnValveID)]
	return fmt.Sprintf("flush %s -> %s at %.2f ml/min, %s or %s",
		reagent, column, step.FlowRate, volume, duration)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

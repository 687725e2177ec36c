package channel

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"github.com/pkg/term"

	"github.com/mamsctl/mams/internal/align"
	"github.com/mamsctl/mams/internal/errs"
)

// SerialPort is the subset of *term.Term the serial loop needs, narrowed
// to a capability interface so tests can substitute a pty.
type SerialPort interface {
	Write(p []byte) (int, error)
	Read(p []byte) (int, error)
	Close() error
}

// OpenSerialPort opens devicename at 115200 8N1, matching spec.md §6's
// framing requirement, the way serial_port_open opened Dire Wolf's TNC
// link with github.com/pkg/term.
func OpenSerialPort(devicename string) (SerialPort, error) {
	t, err := term.Open(devicename, term.RawMode)
	if err != nil {
		return nil, errs.Newf(errs.Unexpected, "open serial port %s: %v", devicename, err)
	}
	if err := t.SetSpeed(115200); err != nil {
		return nil, errs.Newf(errs.Unexpected, "set serial speed: %v", err)
	}
	return t, nil
}

// Serial runs the human-operator channel loop on the given port until
// exit is signaled. It blocks waiting for a line, dispatches it, and loops
// (spec.md §4.5).
func Serial(ctx context.Context, port SerialPort, d *Deps, exit align.ExitSignal) error {
	reader := bufio.NewReader(port)
	logger := d.Logger.With("channel", "serial")

	for {
		if exit.ShouldExit() {
			return nil
		}
		line, err := reader.ReadString('\n')
		if err != nil {
			return errs.Newf(errs.Unexpected, "serial read: %v", err)
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			continue
		}

		cmd, err := ParseCommand(line)
		if err != nil {
			writeLine(port, "ERR")
			continue
		}

		if err := dispatchSerial(ctx, port, d, cmd, exit); err != nil {
			logger.Warn("command failed", "kind", cmd.Kind, "error", err)
		}
	}
}

func writeLine(port SerialPort, s string) {
	_, _ = port.Write([]byte(s + "\n"))
}

func dispatchSerial(ctx context.Context, port SerialPort, d *Deps, cmd Command, exit align.ExitSignal) error {
	switch cmd.Kind {
	case "IDN":
		writeLine(port, d.HandleIDN())
		return nil

	case "READ":
		if len(cmd.Args) != 2 {
			writeLine(port, "ERR")
			return errs.New(errs.Invalid, "READ requires 2 arguments")
		}
		fiber, err1 := parseUint(cmd.Args[0])
		samples, err2 := parseUint(cmd.Args[1])
		if err1 != nil || err2 != nil {
			writeLine(port, "ERR")
			return errs.New(errs.Invalid, "bad READ arguments")
		}
		min, max, mean, err := d.ReadAveragedCoupling(ctx, fiber, samples)
		if err != nil {
			writeLine(port, "ERR")
			return err
		}
		writeLine(port, fmt.Sprintf("%d %d %d", min, max, mean))
		return nil

	case "WRITE":
		if len(cmd.Args) != 3 {
			writeLine(port, "ERR")
			return errs.New(errs.Invalid, "WRITE requires 3 arguments")
		}
		pair, e1 := parseUint(cmd.Args[0])
		left, e2 := parseUint(cmd.Args[1])
		right, e3 := parseUint(cmd.Args[2])
		if e1 != nil || e2 != nil || e3 != nil {
			writeLine(port, "ERR")
			return errs.New(errs.Invalid, "bad WRITE arguments")
		}
		if err := d.Write(ctx, pair, uint16(left), uint16(right)); err != nil {
			writeLine(port, "ERR")
			return err
		}
		writeLine(port, "OK")
		return nil

	case "START":
		if len(cmd.Args) != 3 {
			writeLine(port, "ERR")
			return errs.New(errs.Invalid, "START requires 3 arguments")
		}
		numSamples, e1 := parseUint(cmd.Args[0])
		minStepBits, e2 := parseUint(cmd.Args[1])
		hysteresis, e3 := parseUint(cmd.Args[2])
		if e1 != nil || e2 != nil || e3 != nil {
			writeLine(port, "ERR")
			return errs.New(errs.Invalid, "bad START arguments")
		}
		if err := d.ValidateStartParams(minStepBits, hysteresis); err != nil {
			writeLine(port, "ERR")
			return err
		}
		if !d.Arbiter.StartSerial() {
			writeLine(port, "BUSY")
			return nil
		}
		defer d.Arbiter.Stop()

		d.Align.NumSamples = numSamples
		d.Align.MinStepSize = 1 << uint(minStepBits)
		d.Align.HysteresisStepSize = hysteresis
		if err := d.Align.HysteresisDischarge(ctx); err != nil {
			writeLine(port, "ERR")
			return err
		}
		writeLine(port, "STARTING")
		sink := &serialSink{port: port}
		runErr := d.Align.Run(ctx, align.OwnerSerial, sink, exit)
		writeLine(port, "STOPPED")
		return runErr

	default:
		writeLine(port, "ERR")
		return errs.Newf(errs.Invalid, "unknown command %q", cmd.Kind)
	}
}

// serialSink implements align.Sink for the operator channel: every frame
// is followed by a blocking wait for a single acknowledgment byte before
// the alignment loop proceeds (spec.md §6).
type serialSink struct {
	port SerialPort
}

func (s *serialSink) EmitInitialState(ctx context.Context, bias map[int][2]uint16) error {
	order := sortedBiasKeys(bias)
	writeLine(s.port, formatBiasFrame(bias, order))
	return s.awaitAck()
}

func (s *serialSink) EmitIterationFrame(ctx context.Context, frame align.Frame) error {
	couplingOrder := sortedKeys(frame.Coupling)
	writeLine(s.port, formatCouplingFrame(frame.Coupling, couplingOrder))
	biasOrder := sortedBiasKeys(frame.Bias)
	writeLine(s.port, formatBiasFrame(frame.Bias, biasOrder))
	return s.awaitAck()
}

func (s *serialSink) awaitAck() error {
	ack := make([]byte, 1)
	_, err := s.port.Read(ack)
	if err != nil {
		return errs.Newf(errs.Unexpected, "await ack: %v", err)
	}
	return nil
}

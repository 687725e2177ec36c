package channel

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/mamsctl/mams/internal/align"
	"github.com/mamsctl/mams/internal/errs"
)

// FifoPaths names the two named pipes the orchestrator bus communicates
// over (original_source/src/main.c's FIFO_IN/FIFO_OUT constants).
type FifoPaths struct {
	In  string
	Out string
}

// EnsureFifos creates both pipes, mode 0777, if they do not already
// exist, matching fifo_utils_make_fifo.
func EnsureFifos(paths FifoPaths) error {
	for _, p := range []string{paths.In, paths.Out} {
		if err := syscall.Mkfifo(p, 0777); err != nil && !os.IsExist(err) {
			return errs.Newf(errs.Unexpected, "mkfifo %s: %v", p, err)
		}
	}
	return nil
}

// fifoReaderUnblockToken is written into the inbound pipe to release a
// goroutine parked in a blocking Open/Read, the graceful-close mechanism
// spec.md §5 calls for in place of thread cancellation.
const fifoReaderUnblockToken = "dummy\n"

// fifoReader is the auxiliary thread of spec.md §5: it blocks reading
// FIFO_IN and posts each line onto a single-slot channel, replacing the
// original should_process_fifo polled flag with a proper blocking queue —
// the main loop below never busy-waits.
func fifoReader(path string, lines chan<- string, exit align.ExitSignal) {
	for {
		if exit.ShouldExit() {
			close(lines)
			return
		}
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			close(lines)
			return
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" || line == "dummy" {
				continue
			}
			select {
			case lines <- line:
			default:
				// Single-slot queue: a still-unconsumed previous command
				// is replaced rather than blocking the reader thread.
				select {
				case <-lines:
				default:
				}
				lines <- line
			}
		}
		f.Close()
		if exit.ShouldExit() {
			close(lines)
			return
		}
	}
}

// UnblockFifoReader writes the dummy token into the inbound pipe to
// release a reader parked in a blocking open/read during shutdown
// (original_source's send_dummy_string_to_fifo_in).
func UnblockFifoReader(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return errs.Newf(errs.Unexpected, "open fifo for unblock write: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(fifoReaderUnblockToken); err != nil {
		return errs.Newf(errs.Unexpected, "write unblock token: %v", err)
	}
	return nil
}

// Orchestrator runs the supervisor channel loop: it blocks on the
// single-slot command queue fed by fifoReader, dispatches the same
// vocabulary as Serial except WRITE (spec.md §4.5), and writes iteration
// data to the run log rather than an acknowledged line stream.
func Orchestrator(ctx context.Context, paths FifoPaths, logPath string, d *Deps, exit align.ExitSignal) error {
	lines := make(chan string, 1)
	go fifoReader(paths.In, lines, exit)

	outFile, err := os.OpenFile(paths.Out, os.O_WRONLY, 0)
	if err != nil {
		return errs.Newf(errs.Unexpected, "open fifo out: %v", err)
	}
	defer outFile.Close()

	logger := d.Logger.With("channel", "orchestrator")

	for {
		if exit.ShouldExit() {
			return nil
		}
		line, ok := <-lines
		if !ok {
			return nil
		}
		cmd, err := ParseCommand(line)
		if err != nil {
			writeLineTo(outFile, "ERR")
			continue
		}
		if err := dispatchOrchestrator(ctx, outFile, logPath, d, cmd, exit); err != nil {
			logger.Warn("command failed", "kind", cmd.Kind, "error", err)
		}
	}
}

func writeLineTo(w interface{ Write([]byte) (int, error) }, s string) {
	_, _ = w.Write([]byte(s + "\n"))
}

// dispatchOrchestrator mirrors dispatchSerial for IDN, READ and START but
// refuses WRITE with ERR, so START is the orchestrator's only command that
// changes bias (spec.md §4.5). A successful START streams its data to
// logPath instead of awaiting per-iteration acks.
func dispatchOrchestrator(ctx context.Context, out *os.File, logPath string, d *Deps, cmd Command, exit align.ExitSignal) error {
	switch cmd.Kind {
	case "IDN":
		writeLineTo(out, d.HandleIDN())
		return nil

	case "READ":
		if len(cmd.Args) != 2 {
			writeLineTo(out, "ERR")
			return errs.New(errs.Invalid, "READ requires 2 arguments")
		}
		fiber, e1 := parseUint(cmd.Args[0])
		samples, e2 := parseUint(cmd.Args[1])
		if e1 != nil || e2 != nil {
			writeLineTo(out, "ERR")
			return errs.New(errs.Invalid, "bad READ arguments")
		}
		min, max, mean, err := d.ReadAveragedCoupling(ctx, fiber, samples)
		if err != nil {
			writeLineTo(out, "ERR")
			return err
		}
		writeLineTo(out, fmt.Sprintf("%d %d %d", min, max, mean))
		return nil

	case "START":
		if len(cmd.Args) != 3 {
			writeLineTo(out, "ERR")
			return errs.New(errs.Invalid, "START requires 3 arguments")
		}
		numSamples, e1 := parseUint(cmd.Args[0])
		minStepBits, e2 := parseUint(cmd.Args[1])
		hysteresis, e3 := parseUint(cmd.Args[2])
		if e1 != nil || e2 != nil || e3 != nil {
			writeLineTo(out, "ERR")
			return errs.New(errs.Invalid, "bad START arguments")
		}
		if err := d.ValidateStartParams(minStepBits, hysteresis); err != nil {
			writeLineTo(out, "ERR")
			return err
		}
		if !d.Arbiter.StartOrchestrator() {
			writeLineTo(out, "BUSY")
			return nil
		}
		defer d.Arbiter.Stop()

		logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			writeLineTo(out, "ERR")
			return errs.Newf(errs.Unexpected, "open orchestrator log: %v", err)
		}
		defer logFile.Close()

		d.Align.NumSamples = numSamples
		d.Align.MinStepSize = 1 << uint(minStepBits)
		d.Align.HysteresisStepSize = hysteresis
		if err := d.Align.HysteresisDischarge(ctx); err != nil {
			writeLineTo(out, "ERR")
			return err
		}
		writeLineTo(out, "STARTING")

		start := time.Now()
		sink := &orchestratorSink{
			log:         logFile,
			numFibers:   d.Align.NumFibers,
			minStep:     d.Align.MinStepSize,
			maxStep:     d.Align.MaxStepSize,
			numSamples:  numSamples,
			hysteresis:  hysteresis,
			wroteHeader: false,
		}
		runErr := d.Align.Run(ctx, align.OwnerOrchestrator, sink, exit)
		fmt.Fprintf(logFile, "Elapsed time:%dms\n", time.Since(start).Milliseconds())
		writeLineTo(out, "STOPPED")
		return runErr

	default:
		writeLineTo(out, "ERR")
		return errs.Newf(errs.Invalid, "unknown command %q or not permitted on this channel", cmd.Kind)
	}
}

// orchestratorSink implements align.Sink by appending each iteration's
// frame to the run log (spec.md §6's orchestrator log format), with no
// acknowledgment wait between iterations.
type orchestratorSink struct {
	log         *os.File
	numFibers   int
	minStep     uint16
	maxStep     uint16
	numSamples  int
	hysteresis  int
	wroteHeader bool
}

func (s *orchestratorSink) writeHeader() {
	if s.wroteHeader {
		return
	}
	fmt.Fprintf(s.log, "N:%d\n", s.numFibers)
	fmt.Fprintf(s.log, "MIN STEP:%d\n", s.minStep)
	fmt.Fprintf(s.log, "MAX STEP:%d\n", s.maxStep)
	fmt.Fprintf(s.log, "NUM OF SAMPLES:%d\n", s.numSamples)
	fmt.Fprintf(s.log, "HYSTERESIS STEP SIZE:%d\n", s.hysteresis)
	s.wroteHeader = true
}

func (s *orchestratorSink) EmitInitialState(ctx context.Context, bias map[int][2]uint16) error {
	s.writeHeader()
	order := sortedBiasKeys(bias)
	fmt.Fprintln(s.log, formatBiasFrame(bias, order))
	return nil
}

func (s *orchestratorSink) EmitIterationFrame(ctx context.Context, frame align.Frame) error {
	s.writeHeader()
	couplingOrder := sortedKeys(frame.Coupling)
	fmt.Fprintln(s.log, formatCouplingFrame(frame.Coupling, couplingOrder))
	biasOrder := sortedBiasKeys(frame.Bias)
	fmt.Fprintln(s.log, formatBiasFrame(frame.Bias, biasOrder))
	return nil
}

// Command mams is the multi-channel fiber alignment controller: it loads
// deployment configuration, wires the piezo registry and hardware
// interfaces, and runs the two request channels concurrently (spec.md §5 —
// the main thread serves the serial/operator channel while a background
// goroutine serves the orchestrator FIFO channel).
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/mamsctl/mams/internal/align"
	"github.com/mamsctl/mams/internal/arbiter"
	"github.com/mamsctl/mams/internal/channel"
	"github.com/mamsctl/mams/internal/config"
	"github.com/mamsctl/mams/internal/discover"
	"github.com/mamsctl/mams/internal/hwiface"
	"github.com/mamsctl/mams/internal/logging"
	"github.com/mamsctl/mams/internal/mapping"
	"github.com/mamsctl/mams/internal/piezo"
	"github.com/mamsctl/mams/internal/rtsched"
)

// version is set at release time; "dev" is the unreleased default.
var version = "dev"

// exitFlag implements align.ExitSignal over an atomic bool, set by the
// SIGINT/SIGTERM handler below instead of the original's direct mutation
// of a global from inside the signal handler itself.
type exitFlag struct {
	flag atomic.Bool
}

func (e *exitFlag) ShouldExit() bool { return e.flag.Load() }
func (e *exitFlag) set()             { e.flag.Store(true) }

func main() {
	var (
		showVersion = pflag.BoolP("version", "v", false, "Print version and exit.")
		configPath  = pflag.StringP("config", "c", "mams.yaml", "Deployment config file (YAML).")
		rtPriority  = pflag.IntP("rt-priority", "r", 0, "SCHED_RR priority to request. 0 disables real-time scheduling.")
		help        = pflag.BoolP("help", "h", false, "Display help text.")
	)

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - multi-channel piezo fiber alignment controller.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUsage: mams [options]\n")
		pflag.PrintDefaults()
	}
	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}
	if *showVersion {
		fmt.Println("mams", version)
		os.Exit(0)
	}

	logger := logging.Init(os.Stderr, logging.LevelInfo)
	logging.Separator(os.Stderr, os.Getpid())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		logger.Fatal("config load failed", "error", err)
	}

	if *rtPriority > 0 {
		if err := rtsched.EnableRoundRobin(*rtPriority); err != nil {
			logger.Warn("real-time scheduling unavailable, continuing with default scheduler", "error", err)
		}
	}

	registry := piezo.New(cfg.NumFibers)
	for _, p := range cfg.Pairs {
		if err := registry.SetDAC(p.Fiber, p.LeftDevice, p.LeftChannel, p.RightDevice, p.RightChannel, p.MaxBias); err != nil {
			logger.Fatal("bad pair config", "fiber", p.Fiber, "error", err)
		}
	}

	m, err := mapping.Load(cfg)
	if err != nil {
		logger.Fatal("bad mapping config", "error", err)
	}

	// No real SPI ADC/DAC driver is in scope (spec.md §1's hardware trait
	// boundary): the simulator stands in as the running ADC/DAC backend,
	// wired device-for-device to the configured pairs.
	sim := hwiface.NewSimulator(2)
	for _, p := range cfg.Pairs {
		sim.Wire(p.RightDevice, hwiface.Address{Device: p.LeftDevice, Channel: p.LeftChannel}, hwiface.Address{Device: p.RightDevice, Channel: p.RightChannel})
	}

	minStep := uint16(1 << uint(cfg.Timing.MinStepSizeDefault))
	maxStep := uint16(1 << uint(cfg.Timing.MaxStepBits))
	settling := time.Duration(cfg.Timing.SettlingTimeMicros) * time.Microsecond

	alignCtx := align.NewContext(registry, sim, sim, m, cfg.NumFibers, minStep, maxStep,
		cfg.Timing.HysteresisStepSize, cfg.Timing.NumOfSamples, settling, logger.With("component", "align"))

	// The status GPIO line is best-effort (spec.md §6): an unconfigured or
	// unavailable chip falls back to the no-op stub rather than failing
	// startup.
	if cfg.Status.Chip != "" {
		line, err := hwiface.OpenOutputGPIO(cfg.Status.Chip, cfg.Status.Offset)
		if err != nil {
			logger.Warn("status gpio unavailable, continuing without it", "chip", cfg.Status.Chip, "error", err)
		} else {
			alignCtx.Status = line
		}
	}

	arb := &arbiter.Arbiter{}

	deps := &channel.Deps{
		Identifier:  fmt.Sprintf("MAMS-%d-FIBER", cfg.NumFibers),
		Registry:    registry,
		Align:       alignCtx,
		Arbiter:     arb,
		ADC:         sim,
		DAC:         sim,
		MaxStepBits: cfg.Timing.MaxStepBits,
		Logger:      logger,
	}

	paths := channel.FifoPaths{In: cfg.Paths.FifoIn, Out: cfg.Paths.FifoOut}
	if err := channel.EnsureFifos(paths); err != nil {
		logger.Fatal("failed to create orchestrator fifos", "error", err)
	}

	exit := &exitFlag{}
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		exit.set()
		// Release the orchestrator goroutine from its blocking FIFO
		// read, matching original_source's send_dummy_string_to_fifo_in.
		if err := channel.UnblockFifoReader(paths.In); err != nil {
			logger.Warn("failed to unblock fifo reader", "error", err)
		}
	}()

	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := channel.Orchestrator(ctx, paths, cfg.Paths.OrchestratorLog, deps, exit); err != nil {
			logger.Error("orchestrator channel exited", "error", err)
		}
	}()

	devicePath, err := discover.ResolveSerialDevice(cfg.Paths.SerialDevice)
	if err != nil {
		logger.Fatal("failed to resolve serial device", "error", err)
	}
	port, err := channel.OpenSerialPort(devicePath)
	if err != nil {
		logger.Fatal("failed to open serial port", "device", devicePath, "error", err)
	}
	if err := channel.Serial(ctx, port, deps, exit); err != nil {
		logger.Error("serial channel exited", "error", err)
	}

	exit.set()
	wg.Wait()
}

// loadConfig reads path, falling back to the built-in reference 8-fiber
// layout only when the caller left the default filename untouched and it
// is simply absent (e.g. running the simulator with no deployment yet
// written) — an explicit -c path that fails to load is always an error.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil && path == "mams.yaml" {
		if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
			return config.Default(), nil
		}
	}
	return cfg, err
}

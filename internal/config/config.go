// Package config loads the deployment-time configuration for a MAMS
// controller instance: fiber count, DAC addressing per pair, the
// input/output fiber mapping, device paths, and search timing — everything
// spec.md treats as compile-time/deployment constants but which is more
// honestly a YAML file in a Go service, the way Dire Wolf's direwolf.conf
// (loaded with gopkg.in/yaml.v3 in src/deviceid.go) configures Dire Wolf.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// PairConfig is the static wiring of one fiber's piezo pair to its DAC
// channels, read once at startup and handed to piezo.Registry.SetDAC.
type PairConfig struct {
	Fiber         int    `yaml:"fiber"`
	LeftDevice    int    `yaml:"left_device"`
	LeftChannel   int    `yaml:"left_channel"`
	RightDevice   int    `yaml:"right_device"`
	RightChannel  int    `yaml:"right_channel"`
	MaxBias       uint16 `yaml:"max_bias"`
}

// MappingEntry pairs one input fiber with the output fiber whose coupling
// reading evaluates moves on it, and records the input/output
// classification mapping.Load needs.
type MappingEntry struct {
	Fiber int    `yaml:"fiber"`
	Role  string `yaml:"role"` // "input" or "output"
	// ReadAt is only meaningful for input fibers: the output fiber index
	// whose ADC reading is used to evaluate moves on this input fiber.
	ReadAt int `yaml:"read_at"`
}

// Timing holds the settling and sampling parameters of §3/§4.3.
type Timing struct {
	SettlingTimeMicros  int `yaml:"settling_time_micros"`
	NumOfSamples        int `yaml:"num_of_samples"`
	HysteresisStepSize  int `yaml:"hysteresis_step_size"`
	MaxStepBits         int `yaml:"max_step_bits"`
	MinStepSizeDefault  int `yaml:"min_step_size_default"`
}

// Paths holds the filesystem surface of the two request channels.
type Paths struct {
	SerialDevice  string `yaml:"serial_device"`
	FifoIn        string `yaml:"fifo_in"`
	FifoOut       string `yaml:"fifo_out"`
	OrchestratorLog string `yaml:"orchestrator_log"`
}

// StatusGPIO names the optional digital "alignment running" line (spec.md
// §6's best-effort GPIO collaborator). Chip is left empty to run with no
// real line attached, falling back to hwiface.NopGPIO.
type StatusGPIO struct {
	Chip   string `yaml:"chip"`
	Offset int    `yaml:"offset"`
}

// Config is the root deployment document.
type Config struct {
	NumFibers int            `yaml:"num_fibers"`
	Pairs     []PairConfig   `yaml:"pairs"`
	Mapping   []MappingEntry `yaml:"mapping"`
	Timing    Timing         `yaml:"timing"`
	Paths     Paths          `yaml:"paths"`
	Status    StatusGPIO     `yaml:"status_gpio"`
}

// Default returns the reference 8-fiber deployment described by spec.md's
// "typical N=8" note, used when no config file is present (e.g. running
// the simulator).
func Default() *Config {
	const n = 8
	cfg := &Config{
		NumFibers: n,
		Timing: Timing{
			SettlingTimeMicros: 2000,
			NumOfSamples:       4,
			HysteresisStepSize: 0,
			MaxStepBits:        12,
			MinStepSizeDefault: 4,
		},
		Paths: Paths{
			SerialDevice:    "/dev/ttyUSB0",
			FifoIn:          "artifacts/fifo_in",
			FifoOut:         "artifacts/fifo_out",
			OrchestratorLog: "logs/mams-algorithm.log",
		},
	}
	for i := 0; i < n/2; i++ {
		cfg.Pairs = append(cfg.Pairs, PairConfig{
			Fiber: i, LeftDevice: i, LeftChannel: 0, RightDevice: i, RightChannel: 1,
			MaxBias: 1<<16 - 1,
		})
		cfg.Mapping = append(cfg.Mapping, MappingEntry{Fiber: i, Role: "input", ReadAt: i + n/2})
	}
	for i := n / 2; i < n; i++ {
		cfg.Pairs = append(cfg.Pairs, PairConfig{
			Fiber: i, LeftDevice: i, LeftChannel: 0, RightDevice: i, RightChannel: 1,
			MaxBias: 1<<16 - 1,
		})
		cfg.Mapping = append(cfg.Mapping, MappingEntry{Fiber: i, Role: "output"})
	}
	return cfg
}

// Load reads and validates a YAML deployment file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %q: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks internal consistency: every fiber in [0,N) has exactly
// one pair and one mapping entry, and min_step_bits constraints from §6
// hold for the configured default.
func (c *Config) Validate() error {
	if c.NumFibers <= 0 {
		return fmt.Errorf("config: num_fibers must be positive")
	}
	if len(c.Pairs) != c.NumFibers {
		return fmt.Errorf("config: expected %d pairs, got %d", c.NumFibers, len(c.Pairs))
	}
	if len(c.Mapping) != c.NumFibers {
		return fmt.Errorf("config: expected %d mapping entries, got %d", c.NumFibers, len(c.Mapping))
	}
	seen := make(map[int]bool, c.NumFibers)
	for _, p := range c.Pairs {
		if p.Fiber < 0 || p.Fiber >= c.NumFibers {
			return fmt.Errorf("config: pair fiber %d out of range", p.Fiber)
		}
		seen[p.Fiber] = true
	}
	if len(seen) != c.NumFibers {
		return fmt.Errorf("config: duplicate or missing pair fiber indices")
	}
	mapped := make(map[int]bool, c.NumFibers)
	for _, e := range c.Mapping {
		if e.Fiber < 0 || e.Fiber >= c.NumFibers || mapped[e.Fiber] {
			return fmt.Errorf("config: mapping fiber %d out of range or duplicated", e.Fiber)
		}
		mapped[e.Fiber] = true
	}
	if c.Timing.MaxStepBits <= 0 || c.Timing.MaxStepBits > 15 {
		return fmt.Errorf("config: max_step_bits out of range")
	}
	if c.Timing.MinStepSizeDefault <= 0 {
		return fmt.Errorf("config: min_step_size_default must be positive")
	}
	if c.Timing.MinStepSizeDefault > c.Timing.MaxStepBits-2 {
		return fmt.Errorf("config: min_step_size_default must be at most max_step_bits-2")
	}
	return nil
}

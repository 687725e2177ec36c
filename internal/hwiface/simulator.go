package hwiface

import (
	"context"
	"math"
	"sync"
)

// Simulator implements ADC and DAC over a synthetic, single-modal coupling
// surface per fiber: coupling(left, right) peaks at a configured (left,
// right) optimum and falls off as a Gaussian in the bias-offset distance,
// matching the landscape described for scenario 4 in spec.md §8. It lets
// the alignment loop and algorithm kernel be exercised without real SPI
// hardware, per the "hardware trait boundary" design note in spec.md §9.
type Simulator struct {
	mu       sync.Mutex
	bias     map[Address]uint16 // last written DAC value per address
	peak     map[int]peak       // per-fiber optimum, keyed by ADC device (== fiber index)
	channels int                // channels per ADC device
	// wiring records which (device,channel) feeds the left/right bias for
	// a given fiber's coupling function, set via Wire.
	wiring map[int]wiring
}

type peak struct {
	left, right float64
	width       float64 // larger width = broader, easier-to-find peak
	maxValue    float64
}

type wiring struct {
	left, right Address
}

// NewSimulator builds a simulator with channelsPerDevice ADC channels per
// device (mirroring an ADC array where each fiber has its own device).
func NewSimulator(channelsPerDevice int) *Simulator {
	return &Simulator{
		bias:     make(map[Address]uint16),
		peak:     make(map[int]peak),
		wiring:   make(map[int]wiring),
		channels: channelsPerDevice,
	}
}

// SetPeak configures the synthetic optimum for the fiber read out on adc
// device adcDevice: the bias pair (left, right) that maximizes coupling,
// and maxValue the coupling reading at that optimum.
func (s *Simulator) SetPeak(adcDevice int, left, right float64, width, maxValue float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peak[adcDevice] = peak{left: left, right: right, width: width, maxValue: maxValue}
}

// Wire records which DAC addresses drive the left/right bias read out by
// the given ADC device, so ReadFirstNChannels can compute that device's
// coupling from the last biases written to them.
func (s *Simulator) Wire(adcDevice int, left, right Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.wiring[adcDevice] = wiring{left: left, right: right}
}

func (s *Simulator) Write(_ context.Context, device int, channel int, value uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bias[Address{Device: device, Channel: channel}] = value
	return nil
}

func (s *Simulator) couplingLocked(adcDevice int) uint16 {
	pk, ok := s.peak[adcDevice]
	if !ok {
		return 0
	}
	w, ok := s.wiring[adcDevice]
	if !ok {
		return 0
	}
	l := float64(s.bias[w.left])
	r := float64(s.bias[w.right])
	dl := l - pk.left
	dr := r - pk.right
	dist2 := dl*dl + dr*dr
	width := pk.width
	if width <= 0 {
		width = 1
	}
	v := pk.maxValue * math.Exp(-dist2/(2*width*width))
	if v < 0 {
		v = 0
	}
	if v > math.MaxUint16 {
		v = math.MaxUint16
	}
	return uint16(v)
}

func (s *Simulator) ReadFirstNChannels(_ context.Context, device int, n int, out []uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := 0; ch < n && ch < len(out); ch++ {
		// Only channel 0 of each device is wired to a peak in this
		// simulator; other channels read back zero.
		if ch == 0 {
			out[ch] = s.couplingLocked(device)
		} else {
			out[ch] = 0
		}
	}
	return nil
}

// Bias returns the last value written to the given address, for test
// assertions.
func (s *Simulator) Bias(addr Address) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bias[addr]
}

// NopDisplay discards every write; used when no physical LCD is attached.
type NopDisplay struct{}

func (NopDisplay) WriteLineCenter(int, string) error { return nil }

// NopGPIO is a GPIO stub that always succeeds, for tests and hosts with no
// GPIO hardware attached.
type NopGPIO struct{ state bool }

func (g *NopGPIO) Set(high bool) error { g.state = high; return nil }
func (g *NopGPIO) Get() (bool, error)  { return g.state, nil }

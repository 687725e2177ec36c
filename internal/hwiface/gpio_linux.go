//go:build linux

package hwiface

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

// CdevGPIO is a GPIO line backed by the Linux gpiocdev character device
// (warthog618/go-gpiocdev), Dire Wolf's GPIO dependency. It implements
// the GPIO capability interface the alignment core consumes; failures here
// are logged by callers and never abort a search, per spec.md §6.
type CdevGPIO struct {
	line *gpiocdev.Line
}

// OpenOutputGPIO requests offset on chip as an output line, initially low.
func OpenOutputGPIO(chip string, offset int) (*CdevGPIO, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsOutput(0))
	if err != nil {
		return nil, fmt.Errorf("gpio: request %s:%d: %w", chip, offset, err)
	}
	return &CdevGPIO{line: l}, nil
}

// OpenInputGPIO requests offset on chip as an input line.
func OpenInputGPIO(chip string, offset int) (*CdevGPIO, error) {
	l, err := gpiocdev.RequestLine(chip, offset, gpiocdev.AsInput)
	if err != nil {
		return nil, fmt.Errorf("gpio: request %s:%d: %w", chip, offset, err)
	}
	return &CdevGPIO{line: l}, nil
}

func (g *CdevGPIO) Set(high bool) error {
	v := 0
	if high {
		v = 1
	}
	return g.line.SetValue(v)
}

func (g *CdevGPIO) Get() (bool, error) {
	v, err := g.line.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

// Close releases the underlying line.
func (g *CdevGPIO) Close() error {
	return g.line.Close()
}

// Package mapping provides the input/output classification of each fiber
// and the input→output read pairing, derived once from deployment config
// (spec.md §2.3).
package mapping

import (
	"fmt"

	"github.com/mamsctl/mams/internal/config"
	"github.com/mamsctl/mams/internal/fiberlist"
)

// Mapping is the resolved input/output classification for a deployment.
type Mapping struct {
	InputList  *fiberlist.List
	OutputList *fiberlist.List
	// ReadFor maps an input fiber index to the output fiber index that
	// evaluates moves on it.
	ReadFor map[int]int
}

// Load builds a Mapping from the deployment config's mapping entries.
func Load(cfg *config.Config) (*Mapping, error) {
	in := fiberlist.New(cfg.NumFibers)
	out := fiberlist.New(cfg.NumFibers)
	readFor := make(map[int]int)

	for _, e := range cfg.Mapping {
		switch e.Role {
		case "input":
			if err := in.Append(e.Fiber); err != nil {
				return nil, err
			}
			readFor[e.Fiber] = e.ReadAt
		case "output":
			if err := out.Append(e.Fiber); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("mapping: fiber %d has unknown role %q", e.Fiber, e.Role)
		}
	}
	for f, readAt := range readFor {
		if readAt < 0 || readAt >= cfg.NumFibers {
			return nil, fmt.Errorf("mapping: input fiber %d reads out-of-range fiber %d", f, readAt)
		}
	}
	return &Mapping{InputList: in, OutputList: out, ReadFor: readFor}, nil
}

// InitialReadList builds the read_list paired with InputList: read_list[i]
// is the output fiber that correlates with input_list[i], per spec.md
// §4.3 step 3.
func (m *Mapping) InitialReadList(capacity int) (*fiberlist.List, error) {
	rl := fiberlist.New(capacity)
	for i := 0; i < m.InputList.Len(); i++ {
		fiber := m.InputList.At(i)
		readAt, ok := m.ReadFor[fiber]
		if !ok {
			return nil, fmt.Errorf("mapping: no read pairing for input fiber %d", fiber)
		}
		if err := rl.Append(readAt); err != nil {
			return nil, err
		}
	}
	return rl, nil
}

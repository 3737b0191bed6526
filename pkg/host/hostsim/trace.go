// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package hostsim

import (
	"fmt"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// TraceEvent is one step of a recorded guest execution: the block at Addr
// with Insns static instructions executes Count times on vCPU.
type TraceEvent struct {
	Addr  uint64 `yaml:"addr"`
	Insns uint64 `yaml:"insns"`
	Count uint64 `yaml:"count,omitempty"`
	VCPU  uint32 `yaml:"vcpu,omitempty"`
}

// Trace is a recorded block-execution sequence, replayable through a Host.
//
//	events:
//	  - {addr: 0x400000, insns: 2, count: 3}
//	  - {addr: 0x400010, insns: 4}
//
// count defaults to 1; addresses may use hex notation.
type Trace struct {
	Events []TraceEvent `yaml:"events"`
}

// LoadTrace reads and validates a YAML trace file.
func LoadTrace(fs afero.Fs, path string) (*Trace, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace %s: %w", path, err)
	}

	var t Trace
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to parse trace %s: %w", path, err)
	}
	if len(t.Events) == 0 {
		return nil, fmt.Errorf("trace %s has no events", path)
	}
	for i, ev := range t.Events {
		if ev.Insns == 0 {
			return nil, fmt.Errorf("trace %s event %d: instruction count must be nonzero", path, i)
		}
	}
	return &t, nil
}

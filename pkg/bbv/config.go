// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package bbv

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Project-Slicer/qpoints/pkg/bbv/sink"
)

// Policy selects how slice boundaries are detected.
type Policy string

const (
	// PolicyInterval ends a slice whenever the executed-instruction
	// accumulator reaches Config.IntervalSize.
	PolicyInterval Policy = "interval"
	// PolicyCheckpoint ends a slice whenever the designated checkpoint
	// address range has executed at least once since the last flush.
	PolicyCheckpoint Policy = "ckpt"
)

// FlushMode controls whether a trailing partial slice is flushed at guest
// shutdown. The two reference behaviors differ per policy, so the default
// defers to the policy.
type FlushMode int

const (
	// FlushPolicyDefault flushes at exit only if the selected policy does:
	// the checkpoint policy flushes once past its first checkpoint, the
	// interval policy never flushes a partial trailing slice.
	FlushPolicyDefault FlushMode = iota
	FlushAlways
	FlushNever
)

// DefaultIntervalSize is the slice length, in executed instructions, used
// by the interval policy unless configured otherwise.
const DefaultIntervalSize = 100_000_000

// Config carries everything the engine needs at installation time.
type Config struct {
	// Policy selects the slice-boundary strategy. Defaults to PolicyInterval.
	Policy Policy

	// IntervalSize is the interval policy's slice length in instructions.
	IntervalSize uint64

	// CkptStart and CkptLen bound the checkpoint marker function's address
	// range [CkptStart, CkptStart+CkptLen). Both are required, and must be
	// nonzero, when Policy is PolicyCheckpoint.
	CkptStart uint64
	CkptLen   uint64

	// KVAStart, when nonzero, is the lowest kernel virtual address: blocks
	// at or above it are not counted.
	KVAStart uint64

	// TopK ranks each slice's blocks by descending weighted count and
	// truncates to the top K. Zero emits every contributing block in
	// discovery order, unranked.
	TopK int

	// FlushAtExit overrides the policy's trailing-slice behavior.
	FlushAtExit FlushMode

	// Name is the benchmark name; the output file is <Name>_bbv.gz unless
	// BBVFile is set.
	Name string

	// BBVFile, when set, is used verbatim as the output file name.
	BBVFile string
}

// DefaultConfig returns the configuration the engine runs with when given
// no options: interval slicing at 100M instructions, no ranking, output to
// trace_bbv.gz.
func DefaultConfig() Config {
	return Config{
		Policy:       PolicyInterval,
		IntervalSize: DefaultIntervalSize,
		Name:         "trace",
	}
}

// OutputFile returns the file name slice rows are written to.
func (c Config) OutputFile() string {
	if c.BBVFile != "" {
		return c.BBVFile
	}
	return sink.FileName(c.Name)
}

// Validate reports the first configuration error, or nil.
func (c Config) Validate() error {
	switch c.Policy {
	case PolicyInterval:
		if c.IntervalSize == 0 {
			return fmt.Errorf("interval size must be nonzero")
		}
	case PolicyCheckpoint:
		if c.CkptStart == 0 {
			return fmt.Errorf("ckpt_start is required for the checkpoint policy")
		}
		if c.CkptLen == 0 {
			return fmt.Errorf("ckpt_len is required for the checkpoint policy")
		}
	default:
		return fmt.Errorf("unknown policy: %s", c.Policy)
	}
	if c.TopK < 0 {
		return fmt.Errorf("top must be non-negative, got %d", c.TopK)
	}
	if c.Name == "" && c.BBVFile == "" {
		return fmt.Errorf("benchmark name must not be empty")
	}
	return nil
}

// ParseOptions parses plugin-style key=val option strings into a Config,
// starting from DefaultConfig. Numeric values accept 0x-prefixed hex.
// The returned Config is already validated.
func ParseOptions(args []string) (Config, error) {
	cfg := DefaultConfig()

	for _, arg := range args {
		key, val, ok := strings.Cut(arg, "=")
		if !ok {
			return cfg, fmt.Errorf("malformed option (expected key=val): %s", arg)
		}

		var err error
		switch key {
		case "policy":
			switch Policy(val) {
			case PolicyInterval, PolicyCheckpoint:
				cfg.Policy = Policy(val)
			default:
				err = fmt.Errorf("invalid policy: %s", val)
			}
		case "interval":
			cfg.IntervalSize, err = parseUint(val, "interval size")
		case "ckpt_start":
			cfg.CkptStart, err = parseUint(val, "checkpoint func start")
		case "ckpt_len":
			cfg.CkptLen, err = parseUint(val, "checkpoint func len")
		case "kva":
			cfg.KVAStart, err = parseUint(val, "kernel VA start")
		case "top":
			var k uint64
			k, err = parseUint(val, "top block count")
			cfg.TopK = int(k)
		case "flush_at_exit":
			switch val {
			case "on":
				cfg.FlushAtExit = FlushAlways
			case "off":
				cfg.FlushAtExit = FlushNever
			default:
				err = fmt.Errorf("invalid flush_at_exit (expected on or off): %s", val)
			}
		case "name":
			if val == "" {
				err = fmt.Errorf("empty benchmark name")
			}
			cfg.Name = val
		case "bbv_file":
			if val == "" {
				err = fmt.Errorf("empty bbv_file")
			}
			cfg.BBVFile = val
		default:
			err = fmt.Errorf("unknown option: %s", key)
		}
		if err != nil {
			return cfg, err
		}
	}

	return cfg, cfg.Validate()
}

func parseUint(val, prompt string) (uint64, error) {
	n, err := strconv.ParseUint(val, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %s", prompt, val)
	}
	return n, nil
}

// Usage returns the option summary printed alongside configuration errors.
func Usage() string {
	return `Available options:
  policy=<interval|ckpt>        slice boundary policy (default interval)
  interval=<insns>              interval slice size (default 100000000)
  ckpt_start=<addr>             checkpoint func start (required for ckpt)
  ckpt_len=<len>                checkpoint func len (required for ckpt)
  kva=<addr>                    kernel VA start; blocks above are ignored
  top=<k>                       emit only the top k weighted blocks (0 = all)
  flush_at_exit=<on|off>        override trailing partial slice flush
  name=<bench name>             benchmark name (default trace)
  bbv_file=<file>               output file (default <name>_bbv.gz)
`
}

// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

// qpoints replays a recorded basic-block trace through the BBV profiling
// engine and writes the resulting basic-block-vector file, the same
// artifact the engine produces when installed in a live instrumentation
// runtime. Engine options are passed as positional key=val arguments,
// mirroring the plugin's argument surface:
//
//	qpoints -trace guest.yaml name=gcc policy=interval interval=100000000
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/Project-Slicer/qpoints/pkg/bbv"
	"github.com/Project-Slicer/qpoints/pkg/bbv/sink"
	"github.com/Project-Slicer/qpoints/pkg/host/hostsim"
)

var (
	tracePath string
	verbose   bool
)

func init() {
	flag.StringVar(&tracePath, "trace", "", "Block trace file to replay (YAML)")
	flag.BoolVar(&verbose, "verbose", false, "Enable verbose logging")
}

func main() {
	flag.Parse()

	var logger logr.Logger
	if verbose {
		zapLog, _ := zap.NewDevelopment()
		logger = zapr.NewLogger(zapLog)
	} else {
		logger = logr.Discard()
	}

	if tracePath == "" {
		fmt.Fprintf(os.Stderr, "Error: -trace is required\n")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := bbv.ParseOptions(flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprint(os.Stderr, bbv.Usage())
		os.Exit(1)
	}

	fs := afero.NewOsFs()

	trace, err := hostsim.LoadTrace(fs, tracePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	out, err := sink.NewGzipFile(fs, cfg.OutputFile())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	engine, err := bbv.New(cfg, out, logger)
	if err != nil {
		out.Close()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	h := hostsim.New()
	h.Attach(engine)

	replayErr := h.Replay(trace)
	h.Shutdown()

	if err := out.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "Error closing %s: %v\n", cfg.OutputFile(), err)
		os.Exit(1)
	}
	if replayErr != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", replayErr)
		os.Exit(1)
	}

	stats := engine.Stats()
	fmt.Printf("Replayed %d events: %d blocks, %d slices emitted, %d discarded -> %s\n",
		len(trace.Events), stats.Blocks, stats.SlicesEmitted, stats.SlicesDiscarded,
		cfg.OutputFile())
}

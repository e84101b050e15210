// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/peterbourgon/ff/v3"

	"github.com/chhetripradeep/samply/internal/controller"
	"github.com/chhetripradeep/samply/nativeunwind"
)

const (
	// Default values for CLI flags
	defaultSampleInterval = time.Millisecond
	defaultStackWindow    = 64 * 1024
	defaultOutput         = "profile.json"
	defaultFormat         = "json"
)

// Help strings for command line arguments
var (
	pidHelp      = "Attach to the given PID instead of launching a command."
	intervalHelp = "Sampling interval. One sample is taken per live thread per interval."
	durationHelp = "Stop recording after this duration. Zero records until the " +
		"target exits or the session is interrupted."
	outHelp    = "Output file path. A .gz suffix enables compression for JSON output."
	formatHelp = "Output format, one of 'json' or 'pprof'."
	symbolPathHelp = "Extra directory searched for debug symbol files. " +
		"May be given multiple times; comma-separated lists are accepted too."
	mergeByAddressHelp = "Merge call tree nodes per code address instead of per function."
	stackWindowHelp    = "Bytes of stack copied per sample. Deep stacks need a " +
		"larger window to unwind completely."
	maxDepthHelp = fmt.Sprintf("Maximum unwound frames per sample, capped at %d.",
		nativeunwind.MaxStackDepth)
	verboseModeHelp = "Enable verbose logging and debugging capabilities."
	versionHelp     = "Show version."
)

// symbolPathFlag accumulates repeated -symbol-path values.
type symbolPathFlag struct {
	paths *[]string
}

func (f symbolPathFlag) String() string {
	if f.paths == nil {
		return ""
	}
	return strings.Join(*f.paths, ",")
}

func (f symbolPathFlag) Set(value string) error {
	for _, dir := range strings.Split(value, ",") {
		if dir = strings.TrimSpace(dir); dir != "" {
			*f.paths = append(*f.paths, dir)
		}
	}
	return nil
}

func parseArgs() (*controller.Config, error) {
	var args controller.Config

	fs := flag.NewFlagSet("samply", flag.ExitOnError)

	// Please keep the parameters ordered alphabetically in the source-code.
	fs.DurationVar(&args.Duration, "duration", 0, durationHelp)
	fs.StringVar(&args.Format, "format", defaultFormat, formatHelp)
	fs.DurationVar(&args.SampleInterval, "interval", defaultSampleInterval,
		intervalHelp)
	fs.UintVar(&args.MaxDepth, "max-depth", nativeunwind.MaxStackDepth,
		maxDepthHelp)
	fs.BoolVar(&args.MergeByAddress, "merge-by-address", false,
		mergeByAddressHelp)
	fs.StringVar(&args.Output, "out", defaultOutput, outHelp)
	fs.UintVar(&args.PID, "pid", 0, pidHelp)
	fs.UintVar(&args.StackWindow, "stack-window", defaultStackWindow,
		stackWindowHelp)
	fs.Var(symbolPathFlag{paths: &args.SymbolPaths}, "symbol-path",
		symbolPathHelp)

	fs.BoolVar(&args.VerboseMode, "v", false, "Shorthand for -verbose.")
	fs.BoolVar(&args.VerboseMode, "verbose", false, verboseModeHelp)
	fs.BoolVar(&args.Version, "version", false, versionHelp)

	fs.Usage = func() {
		fmt.Fprintf(fs.Output(),
			"Usage: samply [flags] [command [args...]]\n\n")
		fs.PrintDefaults()
	}

	args.Fs = fs

	err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("SAMPLY"),
	)
	if err != nil {
		return nil, err
	}
	args.Args = fs.Args()

	return &args, nil
}

// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/chhetripradeep/samply/internal/controller"

import (
	"flag"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/chhetripradeep/samply/reporter"
)

const (
	// MinSampleInterval guards against timer periods short enough to
	// starve the target through constant suspension.
	MinSampleInterval = 100 * time.Microsecond
	// MaxSampleInterval is an arbitrary sanity bound.
	MaxSampleInterval = time.Second

	// MinStackWindow keeps at least one useful frame chain per sample.
	MinStackWindow = 4 * 1024
	// MaxStackWindow bounds the per-sample copy cost.
	MaxStackWindow = 1024 * 1024
)

// Config carries the parsed command line configuration of one profiling
// session.
type Config struct {
	// PID selects attach mode: profile the existing process. Zero means
	// launch mode.
	PID uint
	// Args is the command to launch in launch mode.
	Args []string

	SampleInterval time.Duration
	// Duration limits the recording time. Zero records until the target
	// exits or the session is interrupted.
	Duration time.Duration

	Output string
	Format string
	// SymbolPaths lists extra directories searched for debug files.
	SymbolPaths []string
	// MergeByAddress disables function level frame merging.
	MergeByAddress bool
	StackWindow uint
	MaxDepth    uint

	VerboseMode bool
	Version     bool

	Fs *flag.FlagSet
}

// Dump logs all flag values, used in verbose mode.
func (cfg *Config) Dump() {
	log.Debug("Config:")
	cfg.Fs.VisitAll(func(f *flag.Flag) {
		log.Debugf("%s: %v", f.Name, f.Value)
	})
}

// Validate checks the configuration for consistency.
func (cfg *Config) Validate() error {
	if cfg.PID == 0 && len(cfg.Args) == 0 {
		return fmt.Errorf("need either -pid or a command to launch")
	}
	if cfg.PID != 0 && len(cfg.Args) > 0 {
		return fmt.Errorf("-pid and a launch command are mutually exclusive")
	}
	if cfg.SampleInterval < MinSampleInterval ||
		cfg.SampleInterval > MaxSampleInterval {
		return fmt.Errorf("sample interval %v out of range [%v, %v]",
			cfg.SampleInterval, MinSampleInterval, MaxSampleInterval)
	}
	if cfg.Duration < 0 {
		return fmt.Errorf("duration must not be negative")
	}
	if cfg.StackWindow < MinStackWindow || cfg.StackWindow > MaxStackWindow {
		return fmt.Errorf("stack window %d out of range [%d, %d]",
			cfg.StackWindow, MinStackWindow, MaxStackWindow)
	}
	if cfg.Output == "" {
		return fmt.Errorf("output path must not be empty")
	}
	if _, err := reporter.ParseFormat(cfg.Format); err != nil {
		return err
	}
	return nil
}

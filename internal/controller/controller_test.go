// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package controller

import (
	"errors"
	"flag"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		PID:            1234,
		SampleInterval: time.Millisecond,
		Output:         "profile.json",
		Format:         "json",
		StackWindow:    64 * 1024,
		Fs:             flag.NewFlagSet("test", flag.ContinueOnError),
	}
}

func TestConfigValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*Config)
		wantErr string
	}{
		"valid": {
			mutate: func(*Config) {},
		},
		"launch mode": {
			mutate: func(cfg *Config) {
				cfg.PID = 0
				cfg.Args = []string{"/bin/sleep", "10"}
			},
		},
		"no target": {
			mutate:  func(cfg *Config) { cfg.PID = 0 },
			wantErr: "need either",
		},
		"both targets": {
			mutate: func(cfg *Config) {
				cfg.Args = []string{"/bin/true"}
			},
			wantErr: "mutually exclusive",
		},
		"interval too short": {
			mutate: func(cfg *Config) {
				cfg.SampleInterval = time.Microsecond
			},
			wantErr: "out of range",
		},
		"interval too long": {
			mutate: func(cfg *Config) {
				cfg.SampleInterval = time.Minute
			},
			wantErr: "out of range",
		},
		"bad stack window": {
			mutate:  func(cfg *Config) { cfg.StackWindow = 16 },
			wantErr: "stack window",
		},
		"no output": {
			mutate:  func(cfg *Config) { cfg.Output = "" },
			wantErr: "output path",
		},
		"bad format": {
			mutate:  func(cfg *Config) { cfg.Format = "yaml" },
			wantErr: "unknown output format",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "recording", StateRecording.String())
	assert.Equal(t, "stopping", StateStopping.String())
	assert.Equal(t, "finalizing", StateFinalizing.String())
	assert.Equal(t, "done", StateDone.String())
}

func TestNewControllerStartsIdle(t *testing.T) {
	c := New(validConfig())
	assert.Equal(t, StateIdle, c.State())
	assert.NotEmpty(t, c.sessionID)
}

func TestStateTransitions(t *testing.T) {
	c := New(validConfig())

	require.True(t, c.transition(StateIdle, StateRecording))
	assert.Equal(t, StateRecording, c.State())

	// Stopping is entered exactly once, whether cancellation or target
	// exit got there first.
	require.True(t, c.transition(StateRecording, StateStopping))
	assert.False(t, c.transition(StateRecording, StateStopping))
	assert.Equal(t, StateStopping, c.State())

	// A straggling cancellation must not regress a later state.
	c.setState(StateFinalizing)
	assert.False(t, c.transition(StateRecording, StateStopping))
	assert.Equal(t, StateFinalizing, c.State())
}

func TestErrorWithExitCode(t *testing.T) {
	inner := errors.New("boom")
	err := codedError(ExitAttachError, inner)
	assert.Equal(t, ExitAttachError, err.Code())
	assert.ErrorIs(t, err, inner)
}

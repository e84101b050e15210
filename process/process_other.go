//go:build !linux

// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package process // import "github.com/chhetripradeep/samply/process"

import (
	"errors"

	"github.com/chhetripradeep/samply/libpf"
)

var errUnsupported = errors.New("process sampling is only supported on Linux")

// NewPtrace is not supported on this platform.
func NewPtrace(_ libpf.PID) (Process, error) {
	return nil, errUnsupported
}

// Launch is not supported on this platform.
func Launch(_ []string) (*Target, error) {
	return nil, errUnsupported
}

// AttachPID is not supported on this platform.
func AttachPID(_ libpf.PID) (*Target, error) {
	return nil, errUnsupported
}

// ReadMappings is not supported on this platform.
func ReadMappings(_ libpf.PID) ([]Mapping, error) {
	return nil, errUnsupported
}

// Target is a stub on unsupported platforms.
type Target struct{}

func (t *Target) PID() libpf.PID                     { return 0 }
func (t *Target) Cmdline() []string                  { return nil }
func (t *Target) Alive() bool                        { return false }
func (t *Target) ExitChannel() <-chan libpf.Void     { return nil }

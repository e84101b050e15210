// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package controller // import "github.com/chhetripradeep/samply/internal/controller"

// Exit codes returned by the CLI.
const (
	ExitSuccess = 0
	ExitFailure = 1

	// Go's flag package calls os.Exit(2) on parse errors.
	ExitParseError  = 2
	ExitAttachError = 3
	ExitOutputError = 4
	ExitUnwindError = 5
)

// ErrorWithExitCode carries the exit code the CLI should terminate with.
type ErrorWithExitCode struct {
	error
	code int
}

func codedError(code int, err error) ErrorWithExitCode {
	return ErrorWithExitCode{error: err, code: code}
}

func (e ErrorWithExitCode) Code() int {
	return e.code
}

func (e ErrorWithExitCode) Unwrap() error {
	return e.error
}

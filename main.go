// Copyright The samply Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/chhetripradeep/samply/internal/controller"
	"github.com/chhetripradeep/samply/vc"
)

func main() {
	os.Exit(mainWithExitCode())
}

func mainWithExitCode() int {
	args, err := parseArgs()
	if err != nil {
		return parseError("Failure to parse arguments: %v", err)
	}

	if args.Version {
		fmt.Printf("samply %s (revision %s, build timestamp %s)\n",
			vc.Version(), vc.Revision(), vc.BuildTimestamp())
		return controller.ExitSuccess
	}

	if args.VerboseMode {
		log.SetLevel(log.DebugLevel)
		args.Dump()
	}

	if err = args.Validate(); err != nil {
		return parseError("%v", err)
	}

	// Context to drive the session; the first interrupt stops recording
	// gracefully, the profile captured so far is still written.
	mainCtx, mainCancel := signal.NotifyContext(context.Background(),
		unix.SIGINT, unix.SIGTERM)
	defer mainCancel()

	ctl := controller.New(args)
	if err = ctl.Run(mainCtx); err != nil {
		log.Error(err)
		var coded controller.ErrorWithExitCode
		if errors.As(err, &coded) {
			return coded.Code()
		}
		return controller.ExitFailure
	}

	return controller.ExitSuccess
}

func parseError(msg string, args ...any) int {
	log.Errorf(msg, args...)
	return controller.ExitParseError
}

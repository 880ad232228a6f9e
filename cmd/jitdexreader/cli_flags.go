// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"flag"
	"os"
	"time"

	"github.com/peterbourgon/ff/v3"
)

const (
	defaultArgPID           = 0
	defaultArgScratchPrefix = "/tmp/jitdexreader"
	defaultArgPollInterval  = 100 * time.Millisecond
	defaultArgDropSymfiles  = false
	defaultArgVerbose       = false
)

var (
	pidHelp           = "PID of the target process to monitor."
	scratchPrefixHelp = "Base path new scratch artifacts are created under."
	pollIntervalHelp  = "Periodic polling interval."
	dropSymfilesHelp  = "Discard JIT symfile bytes after recording their offsets, instead of retaining them."
	verboseHelp       = "Enable debug-level logging."
)

type arguments struct {
	pid           int
	scratchPrefix string
	pollInterval  time.Duration
	dropSymfiles  bool
	verbose       bool

	fs *flag.FlagSet
}

func (args *arguments) SanityCheck() error {
	if args.pid <= 0 {
		return errors.New("a positive -pid is required")
	}
	if args.scratchPrefix == "" {
		return errors.New("-scratch-prefix must not be empty")
	}
	return nil
}

func parseArgs() (*arguments, error) {
	var args arguments

	fs := flag.NewFlagSet("jitdexreader", flag.ExitOnError)

	fs.IntVar(&args.pid, "pid", defaultArgPID, pidHelp)
	fs.StringVar(&args.scratchPrefix, "scratch-prefix", defaultArgScratchPrefix, scratchPrefixHelp)
	fs.DurationVar(&args.pollInterval, "poll-interval", defaultArgPollInterval, pollIntervalHelp)
	fs.BoolVar(&args.dropSymfiles, "drop-symfiles", defaultArgDropSymfiles, dropSymfilesHelp)
	fs.BoolVar(&args.verbose, "verbose", defaultArgVerbose, verboseHelp)

	fs.Usage = func() {
		fs.PrintDefaults()
	}

	args.fs = fs

	return &args, ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("JITDEXREADER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
		ff.WithAllowMissingConfigFile(true),
	)
}

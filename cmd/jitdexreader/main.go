// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Command jitdexreader is a demonstration driver for the jitdebug
// reader: it monitors one target pid, feeding it perf-event records
// read from stdin (in the format perfrecord.Reader decodes) and
// logging every resolved debug-info record.
package main

import (
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/android-la64/platform-system-extras/jitdebug"
	"github.com/android-la64/platform-system-extras/libpf"
	"github.com/android-la64/platform-system-extras/perfrecord"
)

func main() {
	args, err := parseArgs()
	if err != nil {
		log.WithError(err).Fatal("failed to parse arguments")
	}
	if err := args.SanityCheck(); err != nil {
		args.fs.Usage()
		log.WithError(err).Fatal("invalid arguments")
	}
	if args.verbose {
		log.SetLevel(log.DebugLevel)
	}

	cfg := jitdebug.DefaultConfig(args.scratchPrefix)
	cfg.PollInterval = args.pollInterval
	if args.dropSymfiles {
		cfg.SymfileMode = jitdebug.SymfileDrop
	}

	reader, err := jitdebug.NewReader(cfg, 4096, func(info jitdebug.DebugInfo) bool {
		logDebugInfo(info)
		return true
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build reader")
	}

	pid := libpf.PID(args.pid)
	reader.UpdateRecord(jitdebug.Record{Kind: jitdebug.RecordMmap, PID: pid, Filename: jitdebug.RuntimeLibraryPath})
	reader.UpdateRecord(jitdebug.Record{Kind: jitdebug.RecordSample, PID: pid})
	reader.Start()
	defer reader.Stop()

	go feedRecords(reader, os.Stdin)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
}

// feedRecords decodes perf-event records from r and hands every
// recognized one to reader.UpdateRecord, until the stream ends.
func feedRecords(reader *jitdebug.Reader, r *os.File) {
	pr, err := perfrecord.NewReader(r, perfrecord.Config{
		SampleIDAll: true,
		SampleType:  perfrecord.SampleTID | perfrecord.SampleTime,
	})
	if err != nil {
		log.WithError(err).Error("failed to build perf record reader")
		return
	}
	for {
		rec, err := pr.Next()
		if err != nil {
			log.WithError(err).Debug("perf record stream ended")
			return
		}
		jitRec, ok := perfrecord.ToJITRecord(rec)
		if !ok {
			continue
		}
		reader.UpdateRecord(jitRec)
	}
}

func logDebugInfo(info jitdebug.DebugInfo) {
	entry := log.WithFields(log.Fields{
		"pid":       info.PID,
		"timestamp": info.Timestamp,
	})
	switch {
	case info.JIT != nil:
		entry.WithFields(log.Fields{
			"symbol":      info.JIT.SymbolName,
			"code_addr":   info.JIT.CodeAddr,
			"scratch_url": info.JIT.ScratchURL,
		}).Info("jit debug-info")
	case info.Dex != nil:
		entry.WithFields(log.Fields{
			"path":               info.Dex.Path,
			"offset":             info.Dex.Offset,
			"extracted_from_apk": info.Dex.ExtractedFromApk,
		}).Info("dex debug-info")
	}
}

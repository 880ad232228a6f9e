// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package periodiccaller allows periodic calls of functions, with the
// ability for the callback itself to disable and re-enable future ticks.
package periodiccaller // import "github.com/android-la64/platform-system-extras/libpf/periodiccaller"

import (
	"sync/atomic"
	"time"
)

// Ticker periodically invokes a callback until Stop is called. Unlike a
// plain time.Ticker, a Ticker here starts out gated by an enabled flag that
// the callback itself controls via Disable/Enable: a scheduler that
// disables itself on tick-entry and only re-enables on a normal exit
// cannot re-enter itself while a tick is in flight, and a scheduler with
// nothing registered can stay disabled indefinitely without stopping the
// underlying timer.
type Ticker struct {
	ticker  *time.Ticker
	stop    chan struct{}
	enabled atomic.Bool
}

// Start starts a Ticker that calls callback every interval until Stop is
// called. The Ticker starts enabled.
func Start(interval time.Duration, callback func()) *Ticker {
	t := &Ticker{
		ticker: time.NewTicker(interval),
		stop:   make(chan struct{}),
	}
	t.enabled.Store(true)

	go func() {
		defer t.ticker.Stop()
		for {
			select {
			case <-t.ticker.C:
				// A pending tick and Stop can be ready at once and select
				// picks between them at random, so check stop first.
				select {
				case <-t.stop:
					return
				default:
				}
				if t.enabled.Load() {
					callback()
				}
			case <-t.stop:
				return
			}
		}
	}()

	return t
}

// Disable suppresses future ticks until Enable is called again. It does
// not cancel a callback invocation already in progress.
func (t *Ticker) Disable() {
	t.enabled.Store(false)
}

// Enable resumes delivering ticks to the callback.
func (t *Ticker) Enable() {
	t.enabled.Store(true)
}

// Enabled reports whether ticks are currently being delivered.
func (t *Ticker) Enabled() bool {
	return t.enabled.Load()
}

// Stop terminates the Ticker permanently. It must be called at most once.
func (t *Ticker) Stop() {
	close(t.stop)
}

// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package jitdebug // import "github.com/android-la64/platform-system-extras/jitdebug"

import "time"

// SymfileMode controls whether JIT symfile bytes are retained in the
// scratch artifact or discarded after their offsets are recorded.
type SymfileMode int

const (
	SymfileRetain SymfileMode = iota
	SymfileDrop
)

// DeliveryMode selects how debug-info batches reach the consumer.
type DeliveryMode int

const (
	// DeliveryImmediate hands each tick's batch straight to the consumer.
	DeliveryImmediate DeliveryMode = iota
	// DeliveryOrdered buffers records in a timestamp-ordered heap and
	// drains them only as the external record feed's watermark advances.
	DeliveryOrdered
)

// Config holds the small set of options this reader exposes.
type Config struct {
	// ScratchPrefix is the base path new scratch artifacts are created
	// under.
	ScratchPrefix string
	// SymfileMode selects retain-vs-drop for JIT symfile bytes.
	SymfileMode SymfileMode
	// DeliveryMode selects immediate-vs-ordered consumer delivery.
	DeliveryMode DeliveryMode
	// PollInterval is the periodic tick interval.
	PollInterval time.Duration
}

// DefaultConfig returns a Config with a 100ms poll interval and
// immediate, retaining delivery.
func DefaultConfig(scratchPrefix string) Config {
	return Config{
		ScratchPrefix: scratchPrefix,
		SymfileMode:   SymfileRetain,
		DeliveryMode:  DeliveryImmediate,
		PollInterval:  100 * time.Millisecond,
	}
}

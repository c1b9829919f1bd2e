// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 ModelRelay Contributors

package router

import (
	"context"
	"time"
)

// SetSleepFunc replaces the retry delay sleeper, so tests can observe
// delays without waiting them out.
func (d *Dispatcher) SetSleepFunc(fn func(context.Context, time.Duration) error) {
	d.sleepFn = fn
}

// Drain waits for in-flight tracking writes.
func (d *Dispatcher) Drain() { d.drain() }

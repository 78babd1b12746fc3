// Monotonic millisecond clock shim for MQTT timestamps
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mqtt

import "time"

// Clock produces the 32-bit wrapping millisecond timestamps Sample.Millis
// carries, standing in for the nRF52840 TIMER peripheral's free-running
// 1 kHz tick (64 MHz base clock, /64000 prescaler) the way arm/timer.go
// derives its nanotime multiplier from a reference frequency ratio rather
// than reading a free-running register directly; out of scope as a
// peripheral, per aether/socket.Entropy's precedent.
type Clock struct {
	start time.Time
}

// NewClock starts the clock at the current wall time.
func NewClock() *Clock {
	return &Clock{start: time.Now()}
}

// Millis returns the elapsed milliseconds since NewClock, truncated to 32
// bits the way a free-running hardware counter wraps.
func (c *Clock) Millis() uint32 {
	return uint32(uint64(time.Since(c.start).Milliseconds()))
}

// Nordic nRF52840 register access
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package reg provides primitives for retrieving and modifying nRF52840
// memory-mapped registers, in the style of the top-level internal/reg
// package used by the NXP i.MX6 peripheral drivers. It omits the i.MX6
// cache-maintenance call (arm.CacheFlushData) those drivers require: the
// Cortex-M4F core on the nRF52840 has no data cache between the CPU and its
// peripheral bus, so there is nothing to flush.
package reg

import (
	"sync"
	"unsafe"
)

var mutex sync.Mutex

// Get reads a bitfield at pos with the given mask from the register at
// addr.
func Get(addr uint32, pos int, mask int) (val uint32) {
	r := (*uint32)(unsafe.Pointer(uintptr(addr)))

	mutex.Lock()
	val = uint32((int(*r) >> pos) & mask)
	mutex.Unlock()

	return
}

// Set sets an individual bit at pos in the register at addr.
func Set(addr uint32, pos int) {
	r := (*uint32)(unsafe.Pointer(uintptr(addr)))

	mutex.Lock()
	*r |= (1 << pos)
	mutex.Unlock()
}

// Clear clears an individual bit at pos in the register at addr.
func Clear(addr uint32, pos int) {
	r := (*uint32)(unsafe.Pointer(uintptr(addr)))

	mutex.Lock()
	*r &^= (1 << pos)
	mutex.Unlock()
}

// Write stores val verbatim into the register at addr, used for
// write-to-trigger TASKS_* registers and full-width fields such as
// FREQUENCY or CRCPOLY.
func Write(addr uint32, val uint32) {
	r := (*uint32)(unsafe.Pointer(uintptr(addr)))

	mutex.Lock()
	*r = val
	mutex.Unlock()
}

// Read loads the full register at addr.
func Read(addr uint32) (val uint32) {
	r := (*uint32)(unsafe.Pointer(uintptr(addr)))

	mutex.Lock()
	val = *r
	mutex.Unlock()

	return
}

// SetTo sets or clears bit pos depending on v, mirroring the top-level
// bits.SetN helper used for multi-SoC register fields.
func SetTo(addr uint32, pos int, v bool) {
	if v {
		Set(addr, pos)
	} else {
		Clear(addr, pos)
	}
}

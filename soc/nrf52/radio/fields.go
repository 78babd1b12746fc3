// Nordic nRF52840 RADIO field encodings
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package radio

import (
	"unsafe"

	"github.com/usbarmory/aethernode/soc/nrf52/radio/ringbuf"
)

// PCNF0 field positions (nRF52840 PS 6.20.15.8).
const (
	pcnf0LflenPos = 0
	pcnf0LflenLen = 8 // 8-bit PHY length field

	pcnf0PlenPos = 24
	pcnf0Plen32BitZero = 2 // 32-bit zero preamble, IEEE 802.15.4 mode

	pcnf0CrcIncPos = 26 // CRC included in length field
)

func pcnf0() uint32 {
	var v uint32
	v |= pcnf0LflenLen << pcnf0LflenPos
	v |= uint32(pcnf0Plen32BitZero) << pcnf0PlenPos
	v |= 1 << pcnf0CrcIncPos
	return v
}

// PCNF1: max packet length matches the PHY length field's 8-bit range
// (255), statlen/balen left at zero for 802.15.4 framing.
func pcnf1() uint32 {
	const maxlenPos = 0
	return 255 << maxlenPos
}

// CRCCNF: 2-byte CRC, IEEE 802.15.4 address-skip mode.
const crccnfIeee154SkipAddr = (2 << 0) | (2 << 8)

// TXPOWER: +4 dBm, encoded as an 8-bit two's-complement register value.
const txPowerPlus4dBm = 0x04

// MODECNF0: fast ramp-up enabled (bit 0).
const modecnf0FastRampUp = 1 << 0

// slotAddr returns the EasyDMA-usable address of a ring slot.
func slotAddr(s *ringbuf.Slot) uint32 {
	return uint32(uintptr(unsafe.Pointer(s)))
}

// nRF52840 Factory Information Configuration Registers (FICR)
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package nrf52 collects the nRF52840 SoC-wide identity registers, the
// same role imx6.UniqueID() plays for the i.MX6 family.
package nrf52

import "github.com/usbarmory/aethernode/soc/nrf52/internal/reg"

// FICR base address and the two DEVICEID words (nRF52840 Product
// Specification v1.1, chapter 4.2 FICR).
const (
	ficrBase       = 0x10000000
	ficrDeviceID0  = ficrBase + 0x060
	ficrDeviceID1  = ficrBase + 0x064
)

// DeviceID returns the chip's factory-programmed 64-bit unique identifier,
// the two words aether.DeriveEUI64 combines into the node's EUI-64.
func DeviceID() (word1, word2 uint32) {
	return reg.Read(ficrDeviceID0), reg.Read(ficrDeviceID1)
}

// Nordic nRF52840 RADIO peripheral register map
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package radio

// RADIO peripheral base (nRF52840 Product Specification, RADIO — 6.20).
const RadioBase = 0x40001000

// Task (write 1 to trigger), event (read 1 when fired, write 0 to clear)
// and configuration register offsets, named the way soc/nxp/uart names its
// UARTx_* constants.
const (
	RADIO_TASKS_TXEN      = 0x000
	RADIO_TASKS_RXEN      = 0x004
	RADIO_TASKS_START     = 0x008
	RADIO_TASKS_STOP      = 0x00c
	RADIO_TASKS_DISABLE   = 0x010
	RADIO_TASKS_RSSISTART = 0x014
	RADIO_TASKS_CCASTART  = 0x024
	RADIO_TASKS_CCASTOP   = 0x028
	RADIO_TASKS_EDSTART   = 0x02c

	RADIO_EVENTS_READY      = 0x100
	RADIO_EVENTS_ADDRESS    = 0x104
	RADIO_EVENTS_PAYLOAD    = 0x108
	RADIO_EVENTS_END        = 0x10c
	RADIO_EVENTS_DISABLED   = 0x110
	RADIO_EVENTS_DEVMATCH   = 0x114
	RADIO_EVENTS_CCAIDLE    = 0x128
	RADIO_EVENTS_CCABUSY    = 0x12c
	RADIO_EVENTS_FRAMESTART = 0x138

	RADIO_SHORTS      = 0x200
	RADIO_INTENSET    = 0x304
	RADIO_INTENCLR    = 0x308
	RADIO_CRCSTATUS   = 0x400
	RADIO_STATE       = 0x550
	RADIO_PACKETPTR   = 0x504
	RADIO_FREQUENCY   = 0x508
	RADIO_TXPOWER     = 0x50c
	RADIO_MODE        = 0x510
	RADIO_PCNF0       = 0x514
	RADIO_PCNF1       = 0x518
	RADIO_CRCCNF      = 0x534
	RADIO_CRCPOLY     = 0x538
	RADIO_CRCINIT     = 0x53c
	RADIO_MODECNF0    = 0x650
	RADIO_CCACTRL     = 0x66c

	// INTENSET/INTENCLR/STATE bit positions used by HandleInterrupt.
	INT_READY      = 0
	INT_END        = 6
	INT_DISABLED   = 8
	INT_CCAIDLE    = 10
	INT_CCABUSY    = 11
	INT_FRAMESTART = 14
)

// RADIO.STATE values (nRF52840 PS, Table 124).
const (
	stateDisabled  = 0
	stateRxRu      = 1
	stateRxIdle    = 2
	stateRx        = 3
	stateRxDisable = 4
	stateTxRu      = 9
	stateTxIdle    = 10
	stateTx        = 11
	stateTxDisable = 12
)

// MODE field value for IEEE 802.15.4 250 kbit/s O-QPSK.
const modeIeee802154_250Kbit = 15

// CCACTRL.CCAMODE: carrier-and-energy combined assessment.
const ccaModeCarrierAndEnergy = 3

// Channel-to-frequency-offset mapping (nRF52840 PS, 6.20.15.10): channel 11
// maps to offset 5, each subsequent channel adds 5 MHz, so FREQUENCY =
// 2400 + offset = 2405 + 5*(channel-11) MHz. Channel 20 => offset 50 =>
// 2.450 GHz, matching EXTERNAL INTERFACES.
func channelOffset(channel int) uint32 {
	return uint32(5 + 5*(channel-11))
}

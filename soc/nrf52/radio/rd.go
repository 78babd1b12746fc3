// Nordic nRF52840 802.15.4 radio driver
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package radio implements the 802.15.4 PHY driver for the nRF52840
// RADIO peripheral: EasyDMA-backed ring buffers, CCA-before-transmit, and
// an interrupt-driven transmit/receive state machine, adopting the
// following reference specification:
//   - nRF52840 Product Specification v1.1, chapter 6.20 RADIO
//
// This package is only meant to be used on the nRF52840, the way
// soc/nxp/enet is only meant to be used on NXP i.MX6 SoCs.
package radio

import (
	"errors"
	"sync"
	"time"

	"github.com/usbarmory/aethernode/soc/nrf52/internal/reg"
	"github.com/usbarmory/aethernode/soc/nrf52/radio/ringbuf"
)

// ErrChannelBusy is the condition LastSendFailed reports once CcaBusy
// retries exceed MaxCCARetries for the in-flight transmit attempt.
var ErrChannelBusy = errors.New("radio: channel busy, CCA retry limit exceeded")

// MaxCCARetries bounds CcaBusy retries for a single transmit attempt.
const MaxCCARetries = 16

// ExtAddr is the 64-bit IEEE extended address (EUI-64) derived from the
// device's factory identity registers.
type ExtAddr [8]byte

// Driver owns the nRF52840 RADIO peripheral: its DMA-aliased rings and the
// combined hardware/driver state pair.
type Driver struct {
	mu sync.Mutex

	base uint32

	channel int
	addr    ExtAddr

	driverState DriverState

	rx *ringbuf.RXRing
	tx *ringbuf.TXRing

	ccaRetries int
	sendFailed bool

	// crystalReady and sleep are indirected for unit testing without
	// real hardware. New sets sleep to time.Sleep and leaves crystalReady
	// nil; with crystalReady nil, Initialize neither starts nor waits for
	// the HF crystal.
	crystalReady func()
	sleep        func(time.Duration)
}

// New allocates a driver for the given 802.15.4 channel (11-26) bound to
// the default RADIO peripheral base address, with RX/TX rings of the given
// power-of-two depth.
func New(channel int, ringDepth int, addr ExtAddr) *Driver {
	return &Driver{
		base:    RadioBase,
		channel: channel,
		addr:    addr,
		rx:      ringbuf.NewRXRing(ringDepth),
		tx:      ringbuf.NewTXRing(ringDepth),
		sleep:   time.Sleep,
	}
}

func (d *Driver) reg(offset uint32) uint32 {
	return d.base + offset
}

// Addr returns the driver's EUI-64.
func (d *Driver) Addr() ExtAddr {
	return d.addr
}

// hwState reads RADIO.STATE.
func (d *Driver) hwState() HWState {
	return hwStateFromRegister(reg.Read(d.reg(RADIO_STATE)))
}

func (d *Driver) waitEvent(offset uint32) {
	for reg.Read(d.reg(offset)) == 0 {
	}
	reg.Write(d.reg(offset), 0)
}

// Initialize brings the RADIO peripheral to a known configuration and
// arms reception. It is idempotent: calling it twice yields the same
// register configuration and ends in RX listening (TESTABLE PROPERTIES,
// "initialize() on RD is idempotent").
func (d *Driver) Initialize() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.initializeLocked()
}

func (d *Driver) initializeLocked() {
	// External HF crystal must be running and selected as clock source;
	// radio timing is undefined otherwise. Only crystalReady, when set, is
	// waited on here: the crystal is not started and the clock source is
	// not checked.
	if d.crystalReady != nil {
		d.crystalReady()
	}

	// Disable the peripheral and wait for DISABLED so configuration starts
	// from a known state; the POWER register is not toggled.
	reg.Write(d.reg(RADIO_TASKS_DISABLE), 1)
	d.waitEvent(RADIO_EVENTS_DISABLED)

	reg.Write(d.reg(RADIO_MODE), modeIeee802154_250Kbit)

	// PCNF0: 8-bit length field, 32-bit zero preamble, CRC included in
	// length (per nRF52840 PS 6.20.15.8).
	reg.Write(d.reg(RADIO_PCNF0), pcnf0())
	reg.Write(d.reg(RADIO_PCNF1), pcnf1())

	// CRC: polynomial 0x011021, initial value 0, address bytes skipped
	// (IEEE 802.15.4 framing), two-byte CRC.
	reg.Write(d.reg(RADIO_CRCCNF), crccnfIeee154SkipAddr)
	reg.Write(d.reg(RADIO_CRCPOLY), 0x011021)
	reg.Write(d.reg(RADIO_CRCINIT), 0)

	reg.Write(d.reg(RADIO_CCACTRL), ccaModeCarrierAndEnergy)
	reg.Write(d.reg(RADIO_FREQUENCY), channelOffset(d.channel))
	reg.Write(d.reg(RADIO_TXPOWER), txPowerPlus4dBm)

	// Fast ramp-up, single TX/RX address (nRF52840 PS 6.20.15.16).
	reg.Write(d.reg(RADIO_MODECNF0), modecnf0FastRampUp)

	if d.driverState == CcaTx {
		// TrySend has already pointed EasyDMA at the TX slot and armed
		// interrupts: ramp up for CCA without re-pointing DMA at the RX ring.
		reg.Write(d.reg(RADIO_TASKS_RXEN), 1)
		return
	}

	d.driverState = Rx
	d.startRecvLocked()
}

// CanSend reports whether TrySend would be able to enqueue a frame right
// now (the TX ring has room).
func (d *Driver) CanSend() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.tx.IsFull()
}

// LastSendFailed reports and clears whether the most recently completed
// transmit attempt aborted with ErrChannelBusy (CCA retries exhausted).
// The abort itself happens asynchronously inside HandleInterrupt, so unlike
// TrySend's own full-ring rejection it cannot be returned synchronously;
// callers poll this alongside CanRecv/CanSend each pass.
func (d *Driver) LastSendFailed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	failed := d.sendFailed
	d.sendFailed = false
	return failed
}

// CanRecv reports whether TryRecv would observe a frame right now (the RX
// ring is non-empty).
func (d *Driver) CanRecv() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return !d.rx.IsEmpty()
}

// TrySend enqueues an MPDU of the given length into the TX ring, using
// write to fill the payload, then kicks off the CCA-before-TX sequence. It
// never blocks: if the TX ring is full it returns false immediately
// without invoking write.
func (d *Driver) TrySend(length int, write func(payload []byte)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.tx.IsFull() {
		return false
	}

	d.tx.Write(length, write)

	reg.Write(d.reg(RADIO_TASKS_DISABLE), 1)
	d.waitEvent(RADIO_EVENTS_DISABLED)

	d.driverState = CcaTx
	d.ccaRetries = 0

	// Ramp-down safety margin before re-pointing DMA and re-initializing.
	if d.sleep != nil {
		d.sleep(40 * time.Millisecond)
	}

	reg.Write(d.reg(RADIO_PACKETPTR), slotAddr(d.tx.DMASource()))
	d.armInterrupts()
	d.initializeLocked()

	return true
}

// TryRecv hands the oldest completed RX slot (MPDU only, PHY length and
// trailing CRC byte stripped) to consume and advances the read index. It
// returns false iff the ring is empty.
func (d *Driver) TryRecv(consume func(mpdu []byte)) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.rx.IsEmpty() {
		return false
	}

	d.rx.Read(consume)
	return true
}

// startRecvLocked arms EasyDMA at the RX ring's next write slot, enables the
// interrupt set HandleInterrupt relies on, and triggers RXEN.
func (d *Driver) startRecvLocked() {
	reg.Write(d.reg(RADIO_PACKETPTR), slotAddr(d.rx.DMATarget()))
	d.armInterrupts()
	reg.Write(d.reg(RADIO_TASKS_RXEN), 1)
}

func (d *Driver) armInterrupts() {
	reg.Set(d.reg(RADIO_INTENSET), INT_READY)
	reg.Set(d.reg(RADIO_INTENSET), INT_CCAIDLE)
	reg.Set(d.reg(RADIO_INTENSET), INT_CCABUSY)
	reg.Set(d.reg(RADIO_INTENSET), INT_END)
	reg.Set(d.reg(RADIO_INTENSET), INT_FRAMESTART)
}

func (d *Driver) disableInterrupts() {
	reg.Write(d.reg(RADIO_INTENCLR), 0xffffffff)
}

// HandleInterrupt is the sole entry point from ISR context. It disables
// radio interrupts at entry and re-enables them before returning, handling
// each signaled event exactly once.
func (d *Driver) HandleInterrupt() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.disableInterrupts()
	defer d.armInterrupts()

	if d.eventFired(RADIO_EVENTS_CCABUSY) {
		d.clearEvent(RADIO_EVENTS_CCABUSY)
		d.onCcaBusy()
	}

	if d.eventFired(RADIO_EVENTS_CCAIDLE) {
		d.clearEvent(RADIO_EVENTS_CCAIDLE)
		d.onCcaIdle()
	}

	if d.eventFired(RADIO_EVENTS_READY) {
		d.clearEvent(RADIO_EVENTS_READY)
		d.onReady()
	}

	if d.eventFired(RADIO_EVENTS_FRAMESTART) {
		d.clearEvent(RADIO_EVENTS_FRAMESTART)
		// bookkeeping only
	}

	if d.eventFired(RADIO_EVENTS_END) {
		d.clearEvent(RADIO_EVENTS_END)
		d.onEnd()
	}
}

func (d *Driver) eventFired(offset uint32) bool {
	return reg.Read(d.reg(offset)) != 0
}

func (d *Driver) clearEvent(offset uint32) {
	reg.Write(d.reg(offset), 0)
}

func (d *Driver) onCcaBusy() {
	// Deferred retry: stay in CcaTx and re-arm CCA, bounded per
	// MaxCCARetries (resolves Open Question 9(a)).
	d.ccaRetries++

	if d.ccaRetries > MaxCCARetries {
		d.tx.SentPacket()
		d.sendFailed = true
		d.driverState = Rx
		d.startRecvLocked()
		return
	}

	reg.Write(d.reg(RADIO_TASKS_CCASTART), 1)
}

func (d *Driver) onCcaIdle() {
	if d.driverState != CcaTx {
		return
	}

	d.driverState = Tx
	reg.Write(d.reg(RADIO_TASKS_TXEN), 1)
}

func (d *Driver) onReady() {
	switch d.driverState {
	case Rx, Tx:
		reg.Write(d.reg(RADIO_TASKS_START), 1)
	case CcaTx:
		reg.Write(d.reg(RADIO_TASKS_CCASTART), 1)
	default:
		panic("radio: unknown transition on READY in state " + d.driverState.String())
	}
}

func (d *Driver) onEnd() {
	switch d.hwState() {
	case HWRxIdle:
		if reg.Read(d.reg(RADIO_CRCSTATUS)) == 1 {
			d.rx.GotPacket()
		}
		// CRC failure: silent drop, no ring advance.

		d.driverState = Rx
		d.startRecvLocked()
	case HWTxIdle:
		d.tx.SentPacket()

		if !d.tx.IsEmpty() {
			reg.Write(d.reg(RADIO_PACKETPTR), slotAddr(d.tx.DMASource()))
			d.driverState = CcaTx
			d.ccaRetries = 0
			reg.Write(d.reg(RADIO_TASKS_CCASTART), 1)
		} else {
			d.driverState = Rx
			d.startRecvLocked()
		}
	default:
		panic("radio: unknown transition on END in state " + d.hwState().String())
	}
}

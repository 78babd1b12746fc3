// Interface Task / Aether (IF)
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package aether implements the Interface Task: the single-threaded
// 6LoWPAN/IPv6 event loop that multiplexes TCP, UDP and DNS sockets among
// application tasks (through aether/socket), fragments/reassembles
// against the 802.15.4 radio (through soc/nrf52/radio), and relays radio
// interrupts and a 100 ms re-poll timer.
package aether

import (
	"time"

	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/aether/lowpan"
	"github.com/usbarmory/aethernode/aether/socket"
	"github.com/usbarmory/aethernode/kernel"
	"github.com/usbarmory/aethernode/soc/nrf52/radio"
)

// PollInterval is the periodic re-poll deadline (COMPONENT DESIGN 4.3,
// "periodic timer (100 ms)").
const PollInterval = 100 * time.Millisecond

// NeighborCacheSize bounds the IPv6-address-to-link-layer-address table;
// eviction is first-write-wins (Open Question 9(c)).
const NeighborCacheSize = 8

// neighborEntry records a learned site-local address. learnNeighbor only
// fills addr and valid: lladdr is left zero, since the 802.15.4 MHR (and
// with it the source EUI-64) is stripped before a frame reaches IF.
type neighborEntry struct {
	addr ipv6.Addr
	lladdr radio.ExtAddr
	valid bool
}

// Route is the single default route IF maintains (Non-goals exclude
// general routing).
type Route struct {
	Gateway ipv6.Addr
}

// Interface holds everything the spec's "interface state" names: the
// radio handle, neighbor cache, reassembly cache, output fragmentation
// scratch, route table, and interface addresses.
type Interface struct {
	Radio  *radio.Driver
	Server *socket.Server

	PanID   uint16
	Address ipv6.Addr
	Route   Route

	neighbors [NeighborCacheSize]neighborEntry
	nextNeighborSlot int

	reassembly *lowpan.Reassembler
	fragTag    uint16

	outScratch [lowpan.ScratchSize]byte

	nextConnectTick time.Time

	task  *kernel.Task
	tasks map[kernel.TaskID]*kernel.Task
}

// DeriveEUI64 and DeriveSiteLocal implement the ADDRESS DERIVATION
// requirements of COMPONENT DESIGN 4.3 directly against ipv6.EUI64 /
// ipv6.SiteLocal; kept here as named steps so cmd/aethernode's boot
// sequence reads the way the spec describes it.
func DeriveEUI64(word1, word2 uint32) [8]byte {
	return ipv6.EUI64(word1, word2)
}

func DeriveSiteLocal(panID uint16, eui64 [8]byte) ipv6.Addr {
	return ipv6.SiteLocal(panID, eui64)
}

// New constructs the interface task. gateway is the default route's
// next-hop (EXTERNAL INTERFACES, e.g. fd00:1eaf::1).
func New(r *radio.Driver, srv *socket.Server, panID uint16, addr ipv6.Addr, gateway ipv6.Addr, task *kernel.Task) *Interface {
	return &Interface{
		Radio:      r,
		Server:     srv,
		PanID:      panID,
		Address:    addr,
		Route:      Route{Gateway: gateway},
		reassembly: lowpan.NewReassembler(4),
		task:       task,
		tasks:      make(map[kernel.TaskID]*kernel.Task),
	}
}

// RegisterTask binds a task ID to its notification channel so IF can wake
// socket owners, standing in for the generated task table the Hubris
// original resolves notifications through.
func (i *Interface) RegisterTask(id kernel.TaskID, t *kernel.Task) {
	i.tasks[id] = t
}

// Run is the IF event loop (LOOP SHAPE): poll, scan-and-notify-or-else,
// block on notifications including the periodic timer.
func (i *Interface) Run(now func() time.Time) {
	armTimer := func() {
		time.AfterFunc(PollInterval, func() { i.task.Post(kernel.NotifyTimer) })
	}

	deadline := now().Add(PollInterval)
	armTimer()

	for {
		activity := i.poll(now())

		if activity {
			i.scanAndNotify()
		} else {
			mask := kernel.NotifyRadioIRQ | kernel.NotifyTimer
			got := i.task.Recv(mask)

			if got&kernel.NotifyRadioIRQ != 0 {
				i.Radio.HandleInterrupt()
			}
			if got&kernel.NotifyTimer != 0 || now().After(deadline) {
				deadline = now().Add(PollInterval)
				armTimer()
			}
		}
	}
}

// poll drains any completed RX frames and any socket sends queued since
// the last pass, reporting whether anything happened (LOOP SHAPE step 1).
func (i *Interface) poll(now time.Time) (activity bool) {
	if i.Radio.LastSendFailed() {
		// CCA retries were exhausted for the previous transmit attempt
		// (radio.ErrChannelBusy); the frame is dropped rather than
		// retried here, matching RB's "caller must not overwrite"
		// contract once the slot has already been reclaimed.
		activity = true
	}

	if i.tickConnections(now) {
		activity = true
	}

	for i.Radio.CanRecv() {
		activity = true

		var frame []byte
		i.Radio.TryRecv(func(mpdu []byte) {
			frame = append([]byte(nil), mpdu...)
		})

		i.handleInbound(frame)
	}

	for _, name := range i.Server.Names() {
		if i.drainOutbound(name) {
			activity = true
		}
	}

	return activity
}

// tickConnections advances every active-open TCP handshake by one step,
// gated to fire at most once per PollInterval (mirroring the 100 ms
// periodic timer the rest of LOOP SHAPE runs on) regardless of how often
// poll itself is called. It reports whether any SYN was (re-)sent.
func (i *Interface) tickConnections(now time.Time) (activity bool) {
	if !i.nextConnectTick.IsZero() && now.Before(i.nextConnectTick) {
		return false
	}
	i.nextConnectTick = now.Add(PollInterval)

	for _, name := range i.Server.Names() {
		peer, peerPort, localPort, send, failed := i.Server.TickConnect(name)
		if failed {
			continue
		}
		if send {
			i.sendDatagram(i.Address, peer, NextHeaderTCP, tcpFrame(localPort, peerPort, tcpFlagSYN, nil))
			activity = true
		}
	}

	return activity
}

// scanAndNotify wakes each socket's owner if it can now receive, or if it
// is waiting to send and now has room (LOOP SHAPE step 2).
func (i *Interface) scanAndNotify() {
	for _, name := range i.Server.Names() {
		owner, bit, ok := i.Server.Owner(name)
		if !ok {
			continue
		}

		room, waiting := i.Server.CanSend(name)

		if i.Server.CanRecv(name) || (waiting && room) {
			i.notify(owner, bit)
		}
	}
}

func (i *Interface) notify(owner kernel.TaskID, bit uint32) {
	if t, ok := i.tasks[owner]; ok {
		t.Post(bit)
	}
}

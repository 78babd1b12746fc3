// Static socket table
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package socket implements the Socket IPC Server (SS): the typed,
// lease-based request dispatch that multiplexes UDP, TCP and DNS sockets
// among application tasks, and the declarative static table those sockets
// are constructed from.
package socket

import (
	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/kernel"
)

// Kind distinguishes the three socket flavors the table supports.
type Kind int

const (
	KindUDP Kind = iota
	KindTCP
	KindDNS
)

// Name is the compile-time closed enum of socket identifiers (DATA MODEL,
// "names are a closed enum known at compile time").
type Name string

// Entry is one declarative socket-table row, the Go rendition of the
// build-time code generator's output (EXTERNAL INTERFACES, "declarative
// table"). It carries everything construct() needs to allocate the
// socket's static buffers.
type Entry struct {
	Name       Name
	Kind       Kind
	Owner      kernel.TaskID
	NotifyBit  uint32
	Port       uint16 // UDP bound port; ignored for TCP/DNS
	RxBufSize  int    // byte-ring size (TCP) or packet count (UDP)
	TxBufSize  int
}

// udpPacket is one buffered UDP datagram plus its peer metadata.
type udpPacket struct {
	addr ipv6.Addr
	port uint16
	data []byte
}

// udpSocket is the live state backing a KindUDP entry.
type udpSocket struct {
	entry Entry
	rx    []udpPacket
	tx    []udpPacket
}

// tcpState mirrors the connection lifecycle SS needs to distinguish
// RemoteTcpClose from QueueEmpty.
type tcpState int

const (
	tcpClosed tcpState = iota
	tcpListening
	tcpConnecting
	tcpEstablished
	tcpRemoteClosed // peer sent FIN: may still send, may not receive
	tcpFailed       // active-open handshake exhausted its retries
)

// maxConnectRetries bounds how many SYN retries TickConnect sends for an
// active-open attempt before giving up, the same bounded-retry shape
// RD's MaxCCARetries uses for CcaBusy rather than retrying forever.
const maxConnectRetries = 5

// tcpSocket is the live state backing a KindTCP entry.
type tcpSocket struct {
	entry      Entry
	state      tcpState
	localPort  uint16
	peerAddr   ipv6.Addr
	peerPort   uint16
	rx         []byte
	tx         []byte
	waitingToSend bool
	synRetries int
}

// dnsSocket is the live state backing the single DNS entry.
type dnsSocket struct {
	entry   Entry
	pending bool
	done    bool
	failed  bool
	result  ipv6.Addr
	hostname string
}

// Table is the constructed collection of sockets, indexed by Name.
type Table struct {
	udp map[Name]*udpSocket
	tcp map[Name]*tcpSocket
	dns *dnsSocket
}

// constructed is the one-shot constructor latch, package-level because the
// socket table's static buffers are meant to be a unique, process-wide
// singleton (DATA MODEL, socket table invariants) rather than a property of
// any one Table value.
var constructed kernel.OneShot

// Construct builds the live Table from a declarative []Entry exactly once;
// a second call panics (DATA MODEL, "enforced by a one-shot constructor
// latch" — a hardware-impossible-equivalent condition per ERROR HANDLING
// DESIGN, "constructor called twice" is fatal).
func Construct(entries []Entry) *Table {
	if !constructed.Fire() {
		panic("socket: Construct called twice")
	}

	t := &Table{
		udp: make(map[Name]*udpSocket),
		tcp: make(map[Name]*tcpSocket),
	}

	for _, e := range entries {
		switch e.Kind {
		case KindUDP:
			t.udp[e.Name] = &udpSocket{entry: e}
		case KindTCP:
			t.tcp[e.Name] = &tcpSocket{entry: e}
		case KindDNS:
			if t.dns != nil {
				panic("socket: more than one DNS entry in table")
			}
			t.dns = &dnsSocket{entry: e}
		default:
			panic("socket: undefined socket kind in table")
		}
	}

	return t
}

// owner returns the configured owning task for name, and whether name
// exists in the table at all.
func (t *Table) owner(name Name) (kernel.TaskID, bool) {
	if s, ok := t.udp[name]; ok {
		return s.entry.Owner, true
	}
	if s, ok := t.tcp[name]; ok {
		return s.entry.Owner, true
	}
	if t.dns != nil && t.dns.entry.Name == name {
		return t.dns.entry.Owner, true
	}
	return 0, false
}

// NotifyBit returns the notification bit associated with name.
func (t *Table) NotifyBit(name Name) (uint32, bool) {
	if s, ok := t.udp[name]; ok {
		return s.entry.NotifyBit, true
	}
	if s, ok := t.tcp[name]; ok {
		return s.entry.NotifyBit, true
	}
	if t.dns != nil && t.dns.entry.Name == name {
		return t.dns.entry.NotifyBit, true
	}
	return 0, false
}

// Names returns every socket name in the table, for IF's per-pass scan.
func (t *Table) Names() []Name {
	names := make([]Name, 0, len(t.udp)+len(t.tcp)+1)
	for n := range t.udp {
		names = append(names, n)
	}
	for n := range t.tcp {
		names = append(names, n)
	}
	if t.dns != nil {
		names = append(names, t.dns.entry.Name)
	}
	return names
}

// CanRecv reports whether the named socket currently has data or a
// completed query a reader could retrieve without blocking.
func (t *Table) CanRecv(name Name) bool {
	if s, ok := t.udp[name]; ok {
		return len(s.rx) > 0
	}
	if s, ok := t.tcp[name]; ok {
		return len(s.rx) > 0 || s.state == tcpRemoteClosed
	}
	if t.dns != nil && t.dns.entry.Name == name {
		return t.dns.done || t.dns.failed
	}
	return false
}

// CanSend reports whether the named socket has room to accept more data
// and whether its client is currently flagged as waiting to send.
func (t *Table) CanSend(name Name) (room bool, waiting bool) {
	if s, ok := t.tcp[name]; ok {
		return len(s.tx) < s.entry.TxBufSize, s.waitingToSend
	}
	return true, false
}

// FindUDPByPort returns the socket bound to the given local UDP port, used
// by IF to demux an inbound datagram.
func (t *Table) FindUDPByPort(port uint16) (Name, bool) {
	for name, s := range t.udp {
		if s.entry.Port == port {
			return name, true
		}
	}
	return "", false
}

// FindTCPByLocalPort returns the socket whose dynamically-assigned local
// port matches, used by IF to demux an inbound segment.
func (t *Table) FindTCPByLocalPort(port uint16) (Name, bool) {
	for name, s := range t.tcp {
		if s.localPort == port && s.state != tcpClosed && s.state != tcpFailed {
			return name, true
		}
	}
	return "", false
}

// TickConnect advances the active-open handshake for name by one timer
// tick (IF's 100 ms periodic poll): while the socket is tcpConnecting it
// reports the peer a SYN should be (re-)sent to, bounded by
// maxConnectRetries, after which the socket transitions to tcpFailed
// (surfaced to the application as TcpFailConnect the next time it calls
// tcp_connect, see Server.TcpConnect) rather than retrying forever.
func (t *Table) TickConnect(name Name) (peer ipv6.Addr, peerPort, localPort uint16, send bool, failed bool) {
	s, ok := t.tcp[name]
	if !ok || s.state != tcpConnecting {
		return ipv6.Addr{}, 0, 0, false, false
	}

	s.synRetries++
	if s.synRetries > maxConnectRetries {
		s.state = tcpFailed
		return ipv6.Addr{}, 0, 0, false, true
	}

	return s.peerAddr, s.peerPort, s.localPort, true, false
}

// CompleteConnect transitions a connecting socket to established once the
// peer's SYN-ACK arrives, mirroring AcceptTCP's passive-side transition.
func (t *Table) CompleteConnect(name Name, peer ipv6.Addr, peerPort uint16) {
	if s, ok := t.tcp[name]; ok && s.state == tcpConnecting && s.peerAddr == peer && s.peerPort == peerPort {
		s.state = tcpEstablished
	}
}

// DrainTCPSend removes and returns up to maxBytes of buffered outbound
// bytes for the named TCP socket, together with its peer and local port.
// fin reports whether the socket is closed.
func (t *Table) DrainTCPSend(name Name, maxBytes int) (peer ipv6.Addr, peerPort, localPort uint16, data []byte, fin bool) {
	s, ok := t.tcp[name]
	if !ok {
		return ipv6.Addr{}, 0, 0, nil, false
	}

	n := len(s.tx)
	if n > maxBytes {
		n = maxBytes
	}

	data = append([]byte(nil), s.tx[:n]...)
	s.tx = s.tx[n:]

	if n > 0 && len(s.tx) < s.entry.TxBufSize {
		s.waitingToSend = false
	}

	return s.peerAddr, s.peerPort, s.localPort, data, s.state == tcpClosed
}

// DrainUDPSend returns and removes the next queued outbound datagram for
// name, if any.
func (t *Table) DrainUDPSend(name Name) (addr ipv6.Addr, port uint16, localPort uint16, data []byte, ok bool) {
	s, found := t.udp[name]
	if !found || len(s.tx) == 0 {
		return ipv6.Addr{}, 0, 0, nil, false
	}

	pkt := s.tx[0]
	s.tx = s.tx[1:]

	return pkt.addr, pkt.port, s.entry.Port, pkt.data, true
}


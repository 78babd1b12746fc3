// Socket IPC Server (SS)
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package socket

import (
	"math/rand"
	"sync"

	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/kernel"
)

// Entropy is the message-ported RNG service SS depends on for TCP local
// port selection (COMPONENT DESIGN 4.4, "chosen uniformly at random ...
// using the RNG driver"); the real peripheral is out of scope, so it is
// injected as a plain interface the way every other out-of-scope
// peripheral (GPIO/UART/I2C/SPI) is modeled as a message-ported service.
type Entropy interface {
	Uint32() uint32
}

// defaultEntropy is a non-cryptographic stand-in used when no Entropy is
// injected, sufficient for port selection (not a security boundary; link
// security is explicitly out of scope).
type defaultEntropy struct{}

func (defaultEntropy) Uint32() uint32 { return rand.Uint32() }

// Server is the Socket IPC Server: a single-goroutine-friendly request
// dispatcher (the in-order-server guarantee is trivial here because every
// exported method that touches socket state takes Server's lock for its
// duration, never suspending
// mid-operation per CONCURRENCY & RESOURCE MODEL). Waking a socket's owner
// once new data is queued for it is IF's job (its loop shape step 2, see
// aether.Interface.scanAndNotify), not SS's: SS only buffers.
type Server struct {
	mu sync.Mutex

	table   *Table
	addr    [8]byte
	entropy Entropy

	usedPorts map[uint16]bool
}

// NewServer wraps an already-constructed Table.
func NewServer(table *Table, addr [8]byte, entropy Entropy) *Server {
	if entropy == nil {
		entropy = defaultEntropy{}
	}
	return &Server{
		table:     table,
		addr:      addr,
		entropy:   entropy,
		usedPorts: make(map[uint16]bool),
	}
}

func (s *Server) checkOwner(caller kernel.TaskID, name Name) error {
	owner, ok := s.table.owner(name)
	if !ok {
		return fail(UndefinedOperation)
	}
	if owner != caller {
		return fail(WrongOwner)
	}
	return nil
}

// GetAddr returns the node's EUI-64; it has no owner check, every task may
// ask.
func (s *Server) GetAddr() [8]byte {
	return s.addr
}

// RecvUDPPacket implements recv_udp_packet.
func (s *Server) RecvUDPPacket(caller kernel.TaskID, name Name, dst kernel.Lease) (addr ipv6.Addr, port uint16, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return ipv6.Addr{}, 0, 0, err
	}

	sock, ok := s.table.udp[name]
	if !ok {
		return ipv6.Addr{}, 0, 0, fail(WrongSocketType)
	}

	if len(sock.rx) == 0 {
		return ipv6.Addr{}, 0, 0, fail(QueueEmpty)
	}

	if err := dst.CheckWrite(); err != nil {
		if err == kernel.ErrWentAway {
			return ipv6.Addr{}, 0, 0, fail(WentAway)
		}
		return ipv6.Addr{}, 0, 0, fail(BadLease)
	}

	pkt := sock.rx[0]
	sock.rx = sock.rx[1:]

	if len(pkt.data) > len(dst.Region) {
		return ipv6.Addr{}, 0, 0, fail(ReplyBufferTooSmall)
	}

	n = copy(dst.Region, pkt.data)

	return pkt.addr, pkt.port, n, nil
}

// SendUDPPacket implements send_udp_packet.
func (s *Server) SendUDPPacket(caller kernel.TaskID, name Name, addr ipv6.Addr, port uint16, src kernel.Lease, length int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return err
	}

	sock, ok := s.table.udp[name]
	if !ok {
		return fail(WrongSocketType)
	}

	if len(sock.tx) >= sock.entry.TxBufSize {
		return fail(QueueFull)
	}

	if err := src.CheckRead(); err != nil {
		if err == kernel.ErrWentAway {
			return fail(WentAway)
		}
		return fail(BadLease)
	}

	if length > len(src.Region) {
		return fail(BadLease)
	}

	data := append([]byte(nil), src.Region[:length]...)
	sock.tx = append(sock.tx, udpPacket{addr: addr, port: port, data: data})

	return nil
}

// TcpListen implements tcp_listen.
func (s *Server) TcpListen(caller kernel.TaskID, name Name, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return err
	}

	sock, ok := s.table.tcp[name]
	if !ok {
		return fail(WrongSocketType)
	}

	sock.state = tcpListening
	sock.localPort = port
	sock.rx = sock.rx[:0]
	sock.tx = sock.tx[:0]
	sock.waitingToSend = false

	return nil
}

// TcpConnect implements tcp_connect: the local port is chosen uniformly
// at random in [1024, 65535). SS never suspends, so it only records
// intent and returns; the handshake itself (SYN, SYN-ACK) is driven by
// IF's poll loop via TickConnect/CompleteConnect against the 6LoWPAN/IPv6
// stack. If the socket's previous connect attempt timed out, that failure
// is reported here (read-and-clear, the same pattern radio.Driver's
// LastSendFailed uses) as TcpFailConnect, and this call starts a fresh
// attempt rather than leaving the caller stuck.
func (s *Server) TcpConnect(caller kernel.TaskID, name Name, addr ipv6.Addr, port uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return err
	}

	sock, ok := s.table.tcp[name]
	if !ok {
		return fail(WrongSocketType)
	}

	failed := sock.state == tcpFailed

	local := uint16(1024 + (s.entropy.Uint32() % (65535 - 1024)))
	s.usedPorts[local] = true

	sock.localPort = local
	sock.peerAddr = addr
	sock.peerPort = port
	sock.state = tcpConnecting
	sock.synRetries = 0
	sock.rx = sock.rx[:0]
	sock.tx = sock.tx[:0]

	if failed {
		return fail(TcpFailConnect)
	}

	return nil
}

// TickConnect is the locked wrapper over Table.TickConnect, called from
// IF's poll loop once per periodic timer tick.
func (s *Server) TickConnect(name Name) (peer ipv6.Addr, peerPort, localPort uint16, send bool, failed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.TickConnect(name)
}

// CompleteConnect is the locked wrapper over Table.CompleteConnect,
// called by IF when an inbound SYN-ACK completes an active-open attempt.
func (s *Server) CompleteConnect(name Name, peer ipv6.Addr, peerPort uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.table.CompleteConnect(name, peer, peerPort)
}

// SendTcpData implements send_tcp_data, returning the number of bytes
// actually enqueued (may be less than the lease).
func (s *Server) SendTcpData(caller kernel.TaskID, name Name, src kernel.Lease, length int) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return 0, err
	}

	sock, ok := s.table.tcp[name]
	if !ok {
		return 0, fail(WrongSocketType)
	}

	if sock.state != tcpEstablished && sock.state != tcpRemoteClosed {
		return 0, fail(WentAway)
	}

	if err := src.CheckRead(); err != nil {
		if err == kernel.ErrWentAway {
			return 0, fail(WentAway)
		}
		return 0, fail(BadLease)
	}

	room := sock.entry.TxBufSize - len(sock.tx)
	if room <= 0 {
		sock.waitingToSend = true
		return 0, fail(QueueFull)
	}

	take := length
	if take > len(src.Region) {
		take = len(src.Region)
	}
	if take > room {
		take = room
	}

	sock.tx = append(sock.tx, src.Region[:take]...)

	if take < length {
		sock.waitingToSend = true
	}

	return take, nil
}

// RecvTcpData implements recv_tcp_data.
func (s *Server) RecvTcpData(caller kernel.TaskID, name Name, dst kernel.Lease) (n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return 0, err
	}

	sock, ok := s.table.tcp[name]
	if !ok {
		return 0, fail(WrongSocketType)
	}

	if len(sock.rx) == 0 {
		if sock.state == tcpRemoteClosed {
			return 0, fail(RemoteTcpClose)
		}
		return 0, fail(QueueEmpty)
	}

	if err := dst.CheckWrite(); err != nil {
		if err == kernel.ErrWentAway {
			return 0, fail(WentAway)
		}
		return 0, fail(BadLease)
	}

	n = copy(dst.Region, sock.rx)
	sock.rx = sock.rx[n:]

	return n, nil
}

// CloseTcp implements close_tcp. It is idempotent: calling it on an
// already-closed socket returns nil and leaves state unchanged.
func (s *Server) CloseTcp(caller kernel.TaskID, name Name) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return err
	}

	sock, ok := s.table.tcp[name]
	if !ok {
		return fail(WrongSocketType)
	}

	if sock.state == tcpClosed {
		return nil
	}

	sock.state = tcpClosed
	sock.rx = nil
	sock.tx = nil
	sock.waitingToSend = false

	return nil
}

// IsTcpActive implements is_tcp_active.
func (s *Server) IsTcpActive(caller kernel.TaskID, name Name) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(caller, name); err != nil {
		return false, err
	}

	sock, ok := s.table.tcp[name]
	if !ok {
		return false, fail(WrongSocketType)
	}

	return sock.state == tcpEstablished || sock.state == tcpRemoteClosed, nil
}

// MarkRemoteClosed is called by IF when the underlying 6LoWPAN/IPv6
// connection observes the peer's FIN.
func (s *Server) MarkRemoteClosed(name Name) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sock, ok := s.table.tcp[name]; ok {
		sock.state = tcpRemoteClosed
	}
}

// DeliverInboundTCP appends bytes IF has reassembled from the wire into
// the named socket's receive buffer.
func (s *Server) DeliverInboundTCP(name Name, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sock, ok := s.table.tcp[name]; ok {
		sock.rx = append(sock.rx, data...)
	}
}

// DeliverInboundUDP appends a datagram IF has reassembled into the named
// socket's receive queue.
func (s *Server) DeliverInboundUDP(name Name, addr ipv6.Addr, port uint16, data []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sock, ok := s.table.udp[name]; ok {
		sock.rx = append(sock.rx, udpPacket{addr: addr, port: port, data: append([]byte(nil), data...)})
	}
}

// FindUDPByPort locates the socket bound to a local UDP port (locked
// wrapper over Table.FindUDPByPort).
func (s *Server) FindUDPByPort(port uint16) (Name, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.FindUDPByPort(port)
}

// FindTCPByLocalPort locates the socket owning a dynamically-assigned
// local TCP port (locked wrapper over Table.FindTCPByLocalPort).
func (s *Server) FindTCPByLocalPort(port uint16) (Name, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.FindTCPByLocalPort(port)
}

// Names returns every configured socket name.
func (s *Server) Names() []Name {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Names()
}

// CanRecv reports whether the named socket has data ready.
func (s *Server) CanRecv(name Name) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.CanRecv(name)
}

// CanSend reports send-readiness for the named socket.
func (s *Server) CanSend(name Name) (room bool, waiting bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.CanSend(name)
}

// Owner returns the configured owning task and notify bit for name.
func (s *Server) Owner(name Name) (kernel.TaskID, uint32, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	owner, ok := s.table.owner(name)
	if !ok {
		return 0, 0, false
	}
	bit, _ := s.table.NotifyBit(name)
	return owner, bit, true
}

// DrainUDPSend pops the next queued outbound datagram for name.
func (s *Server) DrainUDPSend(name Name) (addr ipv6.Addr, port uint16, localPort uint16, data []byte, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.DrainUDPSend(name)
}

// DrainTCPSend pops up to maxBytes of queued outbound data for name.
func (s *Server) DrainTCPSend(name Name, maxBytes int) (peer ipv6.Addr, peerPort, localPort uint16, data []byte, fin bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.DrainTCPSend(name, maxBytes)
}

// IsTCPListening reports whether name is a TCP socket currently in the
// listening state, and its configured listen port.
func (s *Server) IsTCPListening(name Name) (port uint16, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sock, found := s.table.tcp[name]
	if !found || sock.state != tcpListening {
		return 0, false
	}
	return sock.localPort, true
}

// AcceptTCP transitions a listening socket to established once a SYN
// arrives, recording the peer.
func (s *Server) AcceptTCP(name Name, peer ipv6.Addr, peerPort uint16) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sock, ok := s.table.tcp[name]; ok && sock.state == tcpListening {
		sock.peerAddr = peer
		sock.peerPort = peerPort
		sock.state = tcpEstablished
	}
}

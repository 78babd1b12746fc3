// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package socket

import (
	"testing"

	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/kernel"
)

const (
	taskApp   kernel.TaskID = 1
	taskOther kernel.TaskID = 2
)

func newTestServer(t *testing.T, entries ...Entry) *Server {
	t.Helper()
	// Construct's one-shot latch is process-wide by design (see table.go);
	// reset it so each test gets its own fresh Table.
	constructed = kernel.OneShot{}
	table := Construct(entries)
	return NewServer(table, [8]byte{1, 2, 3, 4, 5, 6, 7, 8}, nil)
}

func readLease(data []byte) kernel.Lease {
	return kernel.Lease{Attrs: kernel.Read, Region: data}
}

func writeLease(buf []byte) kernel.Lease {
	return kernel.Lease{Attrs: kernel.Write, Region: buf}
}

func codeOf(err error) Code {
	if err == nil {
		return OK
	}
	se, ok := err.(*Error)
	if !ok {
		return Unknown
	}
	return se.Code
}

func TestUDPSendRecvRoundTrip(t *testing.T) {
	srv := newTestServer(t, Entry{Name: "udp", Kind: KindUDP, Owner: taskApp, Port: 4242, RxBufSize: 4, TxBufSize: 4})

	peer := ipv6.Addr{0xfd, 0x00, 1}
	payload := []byte("hello")

	if err := srv.SendUDPPacket(taskApp, "udp", peer, 9999, readLease(payload), len(payload)); err != nil {
		t.Fatalf("SendUDPPacket: %v", err)
	}

	addr, port, localPort, data, ok := srv.DrainUDPSend("udp")
	if !ok {
		t.Fatal("expected a queued outbound datagram")
	}
	if addr != peer || port != 9999 || localPort != 4242 || string(data) != "hello" {
		t.Fatalf("unexpected drained datagram: %+v %v %v %q", addr, port, localPort, data)
	}

	srv.DeliverInboundUDP("udp", peer, 9999, payload)

	if !srv.CanRecv("udp") {
		t.Fatal("expected CanRecv true after inbound delivery")
	}

	buf := make([]byte, 16)
	gotAddr, gotPort, n, err := srv.RecvUDPPacket(taskApp, "udp", writeLease(buf))
	if err != nil {
		t.Fatalf("RecvUDPPacket: %v", err)
	}
	if gotAddr != peer || gotPort != 9999 || string(buf[:n]) != "hello" {
		t.Fatalf("unexpected received datagram: %+v %v %q", gotAddr, gotPort, buf[:n])
	}

	if _, _, _, err := srv.RecvUDPPacket(taskApp, "udp", writeLease(buf)); codeOf(err) != QueueEmpty {
		t.Fatalf("expected QueueEmpty on empty queue, got %v", err)
	}
}

func TestTCPConnectSendRecvCloseRoundTrip(t *testing.T) {
	srv := newTestServer(t, Entry{Name: "tcp", Kind: KindTCP, Owner: taskApp, RxBufSize: 64, TxBufSize: 64})

	peer := ipv6.Addr{0xfd, 0x00, 2}
	if err := srv.TcpConnect(taskApp, "tcp", peer, 1883); err != nil {
		t.Fatalf("TcpConnect: %v", err)
	}

	// TcpConnect only records intent; IF's poll loop drives the SYN and
	// the peer's SYN-ACK completes the handshake via CompleteConnect.
	synPeer, synPeerPort, _, send, failed := srv.TickConnect("tcp")
	if !send || failed || synPeer != peer || synPeerPort != 1883 {
		t.Fatalf("unexpected TickConnect result: peer=%+v port=%v send=%v failed=%v", synPeer, synPeerPort, send, failed)
	}
	srv.CompleteConnect("tcp", peer, 1883)

	active, err := srv.IsTcpActive(taskApp, "tcp")
	if err != nil || !active {
		t.Fatalf("expected established connection, active=%v err=%v", active, err)
	}

	payload := []byte("CONNECT")
	n, err := srv.SendTcpData(taskApp, "tcp", readLease(payload), len(payload))
	if err != nil || n != len(payload) {
		t.Fatalf("SendTcpData: n=%d err=%v", n, err)
	}

	_, _, _, data, fin := srv.DrainTCPSend("tcp", 1024)
	if fin || string(data) != "CONNECT" {
		t.Fatalf("unexpected drained TCP data %q fin=%v", data, fin)
	}

	srv.DeliverInboundTCP("tcp", []byte("CONNACK"))

	buf := make([]byte, 32)
	n, err = srv.RecvTcpData(taskApp, "tcp", writeLease(buf))
	if err != nil || string(buf[:n]) != "CONNACK" {
		t.Fatalf("RecvTcpData: n=%d err=%v data=%q", n, err, buf[:n])
	}

	srv.MarkRemoteClosed("tcp")

	if _, err := srv.RecvTcpData(taskApp, "tcp", writeLease(buf)); codeOf(err) != RemoteTcpClose {
		t.Fatalf("expected RemoteTcpClose after peer FIN, got %v", err)
	}

	if err := srv.CloseTcp(taskApp, "tcp"); err != nil {
		t.Fatalf("CloseTcp: %v", err)
	}
	// Idempotent: a second close must not error.
	if err := srv.CloseTcp(taskApp, "tcp"); err != nil {
		t.Fatalf("second CloseTcp should be a no-op, got %v", err)
	}
}

func TestTcpConnectRetriesThenFailsThenRecovers(t *testing.T) {
	srv := newTestServer(t, Entry{Name: "tcp", Kind: KindTCP, Owner: taskApp, RxBufSize: 8, TxBufSize: 8})

	peer := ipv6.Addr{0xfd, 0x00, 3}
	if err := srv.TcpConnect(taskApp, "tcp", peer, 1883); err != nil {
		t.Fatalf("TcpConnect: %v", err)
	}

	// Each tick resends the SYN until maxConnectRetries is exceeded, at
	// which point TickConnect stops reporting send and the socket is
	// marked failed internally.
	for i := 0; i < maxConnectRetries; i++ {
		_, _, _, send, failed := srv.TickConnect("tcp")
		if !send || failed {
			t.Fatalf("tick %d: expected a SYN retry, send=%v failed=%v", i, send, failed)
		}
	}
	if _, _, _, send, failed := srv.TickConnect("tcp"); send || !failed {
		t.Fatalf("expected retries exhausted, send=%v failed=%v", send, failed)
	}

	// The failure surfaces on the next tcp_connect call (read-and-clear),
	// which also starts a fresh attempt rather than leaving it stuck.
	if err := srv.TcpConnect(taskApp, "tcp", peer, 1883); codeOf(err) != TcpFailConnect {
		t.Fatalf("expected TcpFailConnect, got %v", err)
	}

	if _, _, _, send, failed := srv.TickConnect("tcp"); !send || failed {
		t.Fatalf("expected the retry after TcpFailConnect to resume ticking, send=%v failed=%v", send, failed)
	}
	srv.CompleteConnect("tcp", peer, 1883)

	active, err := srv.IsTcpActive(taskApp, "tcp")
	if err != nil || !active {
		t.Fatalf("expected the retried attempt to establish, active=%v err=%v", active, err)
	}
}

func TestWrongOwnerRejected(t *testing.T) {
	srv := newTestServer(t,
		Entry{Name: "udp", Kind: KindUDP, Owner: taskApp, Port: 1, RxBufSize: 2, TxBufSize: 2},
		Entry{Name: "tcp", Kind: KindTCP, Owner: taskApp, RxBufSize: 2, TxBufSize: 2},
	)

	payload := []byte("x")
	if err := srv.SendUDPPacket(taskOther, "udp", ipv6.Addr{}, 1, readLease(payload), 1); codeOf(err) != WrongOwner {
		t.Fatalf("expected WrongOwner for UDP send by non-owner, got %v", err)
	}
	if err := srv.TcpConnect(taskOther, "tcp", ipv6.Addr{}, 1); codeOf(err) != WrongOwner {
		t.Fatalf("expected WrongOwner for TcpConnect by non-owner, got %v", err)
	}
	if err := srv.CloseTcp(taskOther, "tcp"); codeOf(err) != WrongOwner {
		t.Fatalf("expected WrongOwner for CloseTcp by non-owner, got %v", err)
	}
}

func TestDNSSingleInFlightQuery(t *testing.T) {
	srv := newTestServer(t, Entry{Name: "dns", Kind: KindDNS, Owner: taskApp})

	hostname := []byte("portal.local")
	if err := srv.StartResolveQuery(taskApp, readLease(hostname)); err != nil {
		t.Fatalf("StartResolveQuery: %v", err)
	}

	if err := srv.StartResolveQuery(taskApp, readLease(hostname)); codeOf(err) != DnsQueryAlreadyInflight {
		t.Fatalf("expected DnsQueryAlreadyInflight for a second concurrent query, got %v", err)
	}

	if _, err := srv.ResolveQuery(taskApp); codeOf(err) != QueueEmpty {
		t.Fatalf("expected QueueEmpty while the query is still pending, got %v", err)
	}

	host, ok := srv.PendingQuery()
	if !ok || host != "portal.local" {
		t.Fatalf("PendingQuery = %q, %v", host, ok)
	}

	want := ipv6.Addr{0xfd, 0x00, 9}
	srv.CompleteQuery(want)

	got, err := srv.ResolveQuery(taskApp)
	if err != nil || got != want {
		t.Fatalf("ResolveQuery = %+v, %v, want %+v", got, err, want)
	}

	// The slot is now free: a fresh query must be accepted again.
	if err := srv.StartResolveQuery(taskApp, readLease(hostname)); err != nil {
		t.Fatalf("StartResolveQuery after completion: %v", err)
	}
	srv.FailQuery()
	if _, err := srv.ResolveQuery(taskApp); codeOf(err) != DnsFailure {
		t.Fatalf("expected DnsFailure, got %v", err)
	}
}

func TestSendTcpDataQueueFull(t *testing.T) {
	srv := newTestServer(t, Entry{Name: "tcp", Kind: KindTCP, Owner: taskApp, RxBufSize: 8, TxBufSize: 4})

	peer := ipv6.Addr{0xfd}
	if err := srv.TcpConnect(taskApp, "tcp", peer, 1); err != nil {
		t.Fatalf("TcpConnect: %v", err)
	}
	if _, _, _, send, failed := srv.TickConnect("tcp"); !send || failed {
		t.Fatalf("expected TickConnect to send a SYN, send=%v failed=%v", send, failed)
	}
	srv.CompleteConnect("tcp", peer, 1)

	payload := []byte("abcd")
	if n, err := srv.SendTcpData(taskApp, "tcp", readLease(payload), len(payload)); err != nil || n != 4 {
		t.Fatalf("first send: n=%d err=%v", n, err)
	}

	if _, err := srv.SendTcpData(taskApp, "tcp", readLease([]byte("e")), 1); codeOf(err) != QueueFull {
		t.Fatalf("expected QueueFull once the TX buffer is saturated, got %v", err)
	}
}

func TestRecvUDPPacketQueueEmpty(t *testing.T) {
	srv := newTestServer(t, Entry{Name: "udp", Kind: KindUDP, Owner: taskApp, Port: 1, RxBufSize: 2, TxBufSize: 2})

	buf := make([]byte, 16)
	if _, _, _, err := srv.RecvUDPPacket(taskApp, "udp", writeLease(buf)); codeOf(err) != QueueEmpty {
		t.Fatalf("expected QueueEmpty on a freshly constructed socket, got %v", err)
	}
}

func TestConstructTwicePanics(t *testing.T) {
	constructed = kernel.OneShot{}
	table := Construct(nil)
	_ = table

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on a second Construct call")
		}
	}()
	Construct(nil)
}

// MQTT Adapter (MA): net.Conn facade over the SS TCP socket
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mqtt implements the MQTT Adapter (MA): an application task that
// publishes sensor readings to a broker over a single TCP socket owned
// through aether/socket, wrapping github.com/soypat/natiu-mqtt the way the
// radio driver wraps the RADIO peripheral rather than reimplementing the
// wire protocol by hand.
package mqtt

import (
	"errors"
	"io"
	"net"
	"time"

	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/aether/socket"
	"github.com/usbarmory/aethernode/kernel"
)

// ErrNotIPv6 is returned by Dial when the broker address did not resolve
// to a usable site-local address (Non-goals exclude anything but IPv6).
var ErrNotIPv6 = errors.New("mqtt: broker address is not IPv6")

// pollInterval bounds how long Conn waits between retrying an operation SS
// reported QueueEmpty/QueueFull/connecting for, standing in for the
// notification wakeup a task normally blocks on (COMPONENT DESIGN 4.5,
// "the MQTT client library is driven by is_connected() ... backoff/retry
// logic").
const pollInterval = 200 * time.Millisecond

// Conn adapts the Socket IPC Server's TCP operations to net.Conn so
// natiu-mqtt's Client can be driven over it without MA reimplementing
// MQTT framing.
type Conn struct {
	srv    *socket.Server
	name   socket.Name
	caller kernel.TaskID
	task   *kernel.Task
	bit    uint32

	peer     ipv6.Addr
	peerPort uint16

	sleep func(time.Duration)
}

var _ net.Conn = (*Conn)(nil)

// maxConnectPolls bounds how many times Dial polls is_tcp_active before
// re-checking with tcp_connect, which by then will report TcpFailConnect
// if IF's handshake (bounded retries, ~100 ms apart) already gave up —
// generous margin over that bound so a still-in-flight handshake is never
// mistaken for a failure.
const maxConnectPolls = 40

// Dial connects name (an owned TCP socket entry) to addr:port and blocks,
// polling is_tcp_active with pollInterval backoff, until the connection is
// established or the handshake fails (TcpFailConnect).
func Dial(srv *socket.Server, name socket.Name, caller kernel.TaskID, task *kernel.Task, bit uint32, addr ipv6.Addr, port uint16) (*Conn, error) {
	var zero ipv6.Addr
	if addr == zero {
		return nil, ErrNotIPv6
	}

	if err := srv.TcpConnect(caller, name, addr, port); err != nil {
		return nil, err
	}

	c := &Conn{
		srv: srv, name: name, caller: caller, task: task, bit: bit,
		peer: addr, peerPort: port,
		sleep: time.Sleep,
	}

	for i := 0; i < maxConnectPolls; i++ {
		active, err := srv.IsTcpActive(caller, name)
		if err != nil {
			return nil, err
		}
		if active {
			return c, nil
		}
		c.sleep(pollInterval)
	}

	// The handshake never completed; calling tcp_connect again reports
	// TcpFailConnect if IF has by now flagged the attempt failed. In the
	// unlikely event it hadn't yet, this starts a fresh attempt and that
	// counts as this Dial having failed too — the caller retries.
	if err := srv.TcpConnect(caller, name, addr, port); err != nil {
		return nil, err
	}
	return nil, &socket.Error{Code: socket.TcpFailConnect}
}

// Read implements net.Conn. It blocks, waiting on the socket's notify bit,
// until data, a remote close, or an error is available.
func (c *Conn) Read(p []byte) (int, error) {
	for {
		lease := kernel.Lease{Task: c.task, Attrs: kernel.Write, Region: p}

		n, err := c.srv.RecvTcpData(c.caller, c.name, lease)
		if err == nil {
			return n, nil
		}

		code := socketCode(err)
		switch code {
		case socket.QueueEmpty:
			c.waitOrSleep()
			continue
		case socket.RemoteTcpClose:
			return 0, io.EOF
		default:
			return 0, err
		}
	}
}

// Write implements net.Conn, retrying on QueueFull until every byte of p
// has been handed to SS.
func (c *Conn) Write(p []byte) (int, error) {
	total := 0

	for total < len(p) {
		lease := kernel.Lease{Task: c.task, Attrs: kernel.Read, Region: p[total:]}

		n, err := c.srv.SendTcpData(c.caller, c.name, lease, len(p)-total)
		if err != nil {
			if socketCode(err) == socket.QueueFull {
				c.waitOrSleep()
				continue
			}
			return total, err
		}

		total += n
	}

	return total, nil
}

// waitOrSleep blocks on the socket's notify bit if this Conn was built with
// a task to block on, falling back to a fixed poll interval otherwise (MA
// is a task in production, but tests drive Conn without a live task loop).
func (c *Conn) waitOrSleep() {
	if c.task != nil {
		c.task.Recv(c.bit)
		return
	}
	c.sleep(pollInterval)
}

// Close implements net.Conn.
func (c *Conn) Close() error {
	return c.srv.CloseTcp(c.caller, c.name)
}

func (c *Conn) LocalAddr() net.Addr  { return addr{} }
func (c *Conn) RemoteAddr() net.Addr { return addr{ip: c.peer, port: c.peerPort} }

// Deadlines are not modeled: COMPONENT DESIGN 4.5 drives all retry/backoff
// through is_tcp_active polling rather than socket-level timeouts.
func (c *Conn) SetDeadline(time.Time) error      { return nil }
func (c *Conn) SetReadDeadline(time.Time) error  { return nil }
func (c *Conn) SetWriteDeadline(time.Time) error { return nil }

// addr is the minimal net.Addr natiu-mqtt's logging/diagnostics touch.
type addr struct {
	ip   ipv6.Addr
	port uint16
}

func (addr) Network() string { return "6lowpan-tcp" }

func (a addr) String() string {
	return net.JoinHostPort(ipv6String(a.ip), "")
}

func ipv6String(a ipv6.Addr) string {
	return net.IP(a[:]).String()
}

func socketCode(err error) socket.Code {
	var se *socket.Error
	if errors.As(err, &se) {
		return se.Code
	}
	return socket.Unknown
}

// MQTT Adapter (MA) task loop
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mqtt

import (
	"context"
	"log"
	"net"
	"time"

	"golang.org/x/time/rate"

	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/aether/socket"
	"github.com/usbarmory/aethernode/kernel"
)

// reconnectInterval bounds how often Task will attempt a fresh broker
// connection after a failure, the same backoff-bound concern RD's
// MaxCCARetries addresses for CCA retries but applied to MA's reconnect
// loop instead of a fixed retry count, since reconnect attempts are
// spaced by wall-clock time rather than counted.
const reconnectInterval = 2 * time.Second

// Task is the MQTT Adapter: it resolves the broker's hostname through SS's
// DNS operations, maintains a TCP connection to it, and periodically
// publishes a sensor reading (COMPONENT DESIGN 4.5).
type Task struct {
	srv    *socket.Server
	task   *kernel.Task
	bit    uint32
	caller kernel.TaskID
	name   socket.Name

	// mdnsTask/mdnsBit wake the mDNS Resolver task once a DNS query has
	// been queued: the "dns" socket entry is owned by this task (same
	// NotifyBit as its own TCP socket, so IF wakes it on completion), but
	// nothing wakes the resolver task when a query first becomes pending
	// since it does not own that entry, so this task nudges it directly.
	mdnsTask *kernel.Task
	mdnsBit  uint32

	broker string // "host:port"
	topic  string

	clock   *Clock
	limiter *rate.Limiter
}

// NewTask constructs the MQTT Adapter task. caller/name/bit identify the
// owned TCP socket this adapter drives; broker is "host:port" where host
// may itself need mDNS resolution (handled by resolveBroker, via SS's
// start_resolve_query/resolve_query); mdnsTask/mdnsBit identify the mDNS
// Resolver task to wake once a query is queued.
func NewTask(srv *socket.Server, task *kernel.Task, caller kernel.TaskID, name socket.Name, bit uint32, mdnsTask *kernel.Task, mdnsBit uint32, broker, topic string) *Task {
	return &Task{
		srv: srv, task: task, bit: bit, caller: caller, name: name,
		mdnsTask: mdnsTask, mdnsBit: mdnsBit,
		broker: broker, topic: topic,
		clock:   NewClock(),
		limiter: rate.NewLimiter(rate.Every(reconnectInterval), 1),
	}
}

// resolveBroker resolves host through SS's single in-flight DNS query
// (start_resolve_query/resolve_query, COMPONENT DESIGN 4.4) rather than a
// direct same-process call into the resolver: it queues the query, wakes
// the mDNS Resolver task, then polls resolve_query until it is no longer
// QueueEmpty.
func (t *Task) resolveBroker(ctx context.Context, host string) (ipv6.Addr, error) {
	lease := kernel.Lease{Task: t.task, Attrs: kernel.Read, Region: []byte(host)}

	if err := t.srv.StartResolveQuery(t.caller, lease); err != nil {
		return ipv6.Addr{}, err
	}

	if t.mdnsTask != nil {
		t.mdnsTask.Post(t.mdnsBit)
	}

	for {
		addr, err := t.srv.ResolveQuery(t.caller)
		if err == nil {
			return addr, nil
		}
		if socketCode(err) != socket.QueueEmpty {
			return ipv6.Addr{}, err
		}

		select {
		case <-ctx.Done():
			return ipv6.Addr{}, ctx.Err()
		default:
		}

		if t.task != nil {
			t.task.Recv(t.bit)
		} else {
			time.Sleep(reconnectInterval)
		}
	}
}

// Run connects, reconnecting on failure, and publishes one reading per
// interval until ctx is done.
func (t *Task) Run(ctx context.Context, interval time.Duration, reading func() (metric string, value float64)) {
	host, port, addr := splitBroker(t.broker)

	for {
		if err := t.limiter.Wait(ctx); err != nil {
			return
		}

		peer := addr
		if !isSet(peer) {
			a, err := t.resolveBroker(ctx, host)
			if err != nil {
				log.Printf("mqtt: resolve %s: %v", host, err)
				continue
			}
			peer = a
		}

		conn, err := Dial(t.srv, t.name, t.caller, t.task, t.bit, peer, port)
		if err != nil {
			log.Printf("mqtt: dial: %v", err)
			continue
		}

		client := NewClient(conn, "aethernode", t.topic)
		if err := client.Connect(ctx); err != nil {
			log.Printf("mqtt: connect: %v", err)
			conn.Close()
			continue
		}

		t.publishLoop(ctx, conn, client, interval, reading)
	}
}

func (t *Task) publishLoop(ctx context.Context, conn *Conn, client *Client, interval time.Duration, reading func() (string, float64)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	defer conn.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !client.IsConnected() {
				return
			}
			metric, value := reading()
			if err := client.Publish(metric, value, t.clock.Millis()); err != nil {
				log.Printf("mqtt: publish: %v", err)
				return
			}
		}
	}
}

func isSet(a ipv6.Addr) bool {
	var zero ipv6.Addr
	return a != zero
}

// splitBroker splits "host:port" into host, numeric port, and (if host was
// already a literal address) a parsed ipv6.Addr.
func splitBroker(broker string) (host string, port uint16, addr ipv6.Addr) {
	h, p := "", uint16(1883)

	colon := -1
	for i := len(broker) - 1; i >= 0; i-- {
		if broker[i] == ':' {
			colon = i
			break
		}
	}
	if colon < 0 {
		h = broker
	} else {
		h = broker[:colon]
		p = parsePort(broker[colon+1:])
	}

	lit := h
	if len(lit) >= 2 && lit[0] == '[' && lit[len(lit)-1] == ']' {
		lit = lit[1 : len(lit)-1]
	}
	if ip := net.ParseIP(lit); ip != nil && ip.To4() == nil {
		copy(addr[:], ip.To16())
	}

	return h, p, addr
}

func parsePort(s string) uint16 {
	var n uint16
	for _, c := range s {
		if c < '0' || c > '9' {
			return 1883
		}
		n = n*10 + uint16(c-'0')
	}
	if n == 0 {
		return 1883
	}
	return n
}

// mDNS Resolver (MD): UDP question/answer over SS
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package mdns

import (
	"context"
	"log"
	"time"

	"golang.org/x/net/dns/dnsmessage"

	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/aether/socket"
	"github.com/usbarmory/aethernode/kernel"
)

// pollInterval bounds how long Task waits between RecvUDPPacket retries
// when SS reports QueueEmpty, mirroring MA's Conn backoff.
const pollInterval = 100 * time.Millisecond

// maxDatagram bounds the inbound mDNS datagram lease (EXTERNAL INTERFACES,
// MTU 1280, generously sized for a handful of questions).
const maxDatagram = 512

// Task is the mDNS Resolver task: it owns a UDP socket and answers AAAA
// questions about the node's own hostname (COMPONENT DESIGN 4.6).
type Task struct {
	srv    *socket.Server
	task   *kernel.Task
	bit    uint32
	caller kernel.TaskID
	name   socket.Name

	resolver *Resolver
}

// NewTask constructs the mDNS responder task bound to the given UDP
// socket entry and Resolver.
func NewTask(srv *socket.Server, task *kernel.Task, caller kernel.TaskID, name socket.Name, bit uint32, resolver *Resolver) *Task {
	return &Task{srv: srv, task: task, bit: bit, caller: caller, name: name, resolver: resolver}
}

// Run drains inbound datagrams and services SS's single in-flight DNS
// query (COMPONENT DESIGN 4.4's start_resolve_query/resolve_query) until
// ctx is done, answering AAAA questions for the node's own hostname and
// silently ignoring everything else (malformed messages are silently
// ignored per ERROR HANDLING DESIGN). The "dns" socket entry is owned by
// MA, not this task, so MA wakes this task's notify bit directly after
// queuing a query rather than relying on IF's owner-only scanAndNotify.
func (t *Task) Run(ctx context.Context) {
	buf := make([]byte, maxDatagram)

	for ctx.Err() == nil {
		if t.answerPendingQuery() {
			continue
		}

		lease := kernel.Lease{Task: t.task, Attrs: kernel.Write, Region: buf}

		peer, port, n, err := t.srv.RecvUDPPacket(t.caller, t.name, lease)
		if err != nil {
			if t.task != nil {
				t.task.Recv(t.bit)
			} else {
				time.Sleep(pollInterval)
			}
			continue
		}

		t.handle(peer, port, buf[:n])
	}
}

// answerPendingQuery services one queued start_resolve_query request
// against the local mDNS cache. MD never issues outbound queries of its
// own (Resolver is a passive cache lookup, see resolver.go), so a cache
// miss is reported as DnsFailure rather than attempted over the wire. It
// reports whether a query was found and answered.
func (t *Task) answerPendingQuery() bool {
	hostname, ok := t.srv.PendingQuery()
	if !ok {
		return false
	}

	if addr, err := t.resolver.Resolve(hostname); err == nil {
		t.srv.CompleteQuery(addr)
	} else {
		t.srv.FailQuery()
	}

	return true
}

func (t *Task) handle(peer ipv6.Addr, port uint16, datagram []byte) {
	var msg dnsmessage.Message
	if err := msg.Unpack(datagram); err != nil {
		// malformed DNS messages are silently ignored.
		return
	}

	reply := dnsmessage.Message{
		Header: dnsmessage.Header{
			ID:            msg.Header.ID,
			Response:      true,
			Authoritative: true,
			RCode:         dnsmessage.RCodeSuccess,
		},
	}

	answered := false

	for _, q := range msg.Questions {
		if q.Type != dnsmessage.TypeAAAA {
			continue
		}

		if q.Name.String() != t.resolver.hostname+".local." && q.Name.String() != t.resolver.hostname+"." {
			continue
		}

		reply.Questions = append(reply.Questions, q)
		reply.Answers = append(reply.Answers, dnsmessage.Resource{
			Header: dnsmessage.ResourceHeader{
				Name:  q.Name,
				Type:  dnsmessage.TypeAAAA,
				Class: dnsmessage.ClassINET,
				TTL:   120,
			},
			Body: &dnsmessage.AAAAResource{AAAA: t.resolver.self},
		})
		answered = true
	}

	if !answered {
		return
	}

	out, err := reply.Pack()
	if err != nil {
		log.Printf("mdns: pack reply: %v", err)
		return
	}

	t.send(peer, port, out)
}

func (t *Task) send(peer ipv6.Addr, port uint16, payload []byte) {
	lease := kernel.Lease{Task: t.task, Attrs: kernel.Read, Region: payload}

	if err := t.srv.SendUDPPacket(t.caller, t.name, peer, port, lease, len(payload)); err != nil {
		log.Printf("mdns: send reply: %v", err)
	}
}

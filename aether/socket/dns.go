// SS DNS operations (single-entry query queue)
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package socket

import (
	"github.com/usbarmory/aethernode/aether/ipv6"
	"github.com/usbarmory/aethernode/kernel"
)

// StartResolveQuery implements start_resolve_query: at most one
// outstanding query is permitted.
func (s *Server) StartResolveQuery(caller kernel.TaskID, hostname kernel.Lease) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.dns == nil {
		return fail(UndefinedOperation)
	}

	if err := s.checkOwner(caller, s.table.dns.entry.Name); err != nil {
		return err
	}

	if s.table.dns.pending {
		return fail(DnsQueryAlreadyInflight)
	}

	if err := hostname.CheckRead(); err != nil {
		if err == kernel.ErrWentAway {
			return fail(WentAway)
		}
		return fail(BadLease)
	}

	s.table.dns.pending = true
	s.table.dns.done = false
	s.table.dns.failed = false
	s.table.dns.hostname = string(hostname.Region)

	return nil
}

// ResolveQuery implements resolve_query: a poll that surfaces Pending as
// QueueEmpty, Failed as DnsFailure, or the first AAAA record on success.
func (s *Server) ResolveQuery(caller kernel.TaskID) (ipv6.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.dns == nil {
		return ipv6.Addr{}, fail(UndefinedOperation)
	}

	if err := s.checkOwner(caller, s.table.dns.entry.Name); err != nil {
		return ipv6.Addr{}, err
	}

	d := s.table.dns

	if !d.pending {
		return ipv6.Addr{}, fail(NoPendingDnsQuery)
	}

	if d.failed {
		d.pending = false
		return ipv6.Addr{}, fail(DnsFailure)
	}

	if !d.done {
		return ipv6.Addr{}, fail(QueueEmpty)
	}

	d.pending = false
	return d.result, nil
}

// PendingQuery returns the hostname of the in-flight query, if any, for
// the resolver task to pick up and answer on the next poll pass.
func (s *Server) PendingQuery() (hostname string, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.dns == nil || !s.table.dns.pending || s.table.dns.done || s.table.dns.failed {
		return "", false
	}

	return s.table.dns.hostname, true
}

// CompleteQuery delivers a resolver answer (success) back into the single
// query slot.
func (s *Server) CompleteQuery(addr ipv6.Addr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.dns != nil {
		s.table.dns.done = true
		s.table.dns.result = addr
	}
}

// FailQuery marks the in-flight query as failed.
func (s *Server) FailQuery() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.table.dns != nil {
		s.table.dns.failed = true
	}
}

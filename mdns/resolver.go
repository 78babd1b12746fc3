// mDNS Resolver (MD)
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package mdns implements the mDNS Resolver: a UDP question/answer task
// that responds to AAAA queries for the node's own hostname, and a small
// hostname→address cache the rest of the node resolves names through,
// parsed/built with golang.org/x/net/dns/dnsmessage rather than a hand
// rolled DNS codec (grounded on the pack's indirect x/net dependency; see
// DESIGN.md).
package mdns

import (
	"errors"
	"sync"

	"github.com/usbarmory/aethernode/aether/ipv6"
)

// ErrHostNotFound is returned by Resolve for a cache miss
// (ERROR HANDLING DESIGN / COMPONENT DESIGN 4.6, "HostNotFound").
var ErrHostNotFound = errors.New("mdns: host not found")

// cacheSize bounds the hostname→address cache (COMPONENT DESIGN 4.6,
// "a small cache (≤4 entries)").
const cacheSize = 4

type cacheEntry struct {
	hostname string
	addr     ipv6.Addr
	valid    bool
}

// Resolver holds the hostname cache and the node's own advertised name.
type Resolver struct {
	mu sync.Mutex

	hostname string // this node's own name, no ".local" suffix
	self     ipv6.Addr

	cache [cacheSize]cacheEntry
	next  int
}

// NewResolver constructs a Resolver for hostname/self, priming the cache
// with one well-known upstream entry (COMPONENT DESIGN 4.6, "primed at
// boot with at least one well-known upstream, e.g. portal.local"). portal
// maps "portal.local" to the node's configured default gateway, the
// closest analogue this topology has to a well-known upstream.
func NewResolver(hostname string, self ipv6.Addr, portal ipv6.Addr) *Resolver {
	r := &Resolver{hostname: hostname, self: self}
	r.insert("portal.local", portal)
	return r
}

func (r *Resolver) insert(hostname string, addr ipv6.Addr) {
	for i := range r.cache {
		if r.cache[i].valid && r.cache[i].hostname == hostname {
			r.cache[i].addr = addr
			return
		}
	}

	r.cache[r.next%cacheSize] = cacheEntry{hostname: hostname, addr: addr, valid: true}
	r.next++
}

// Learn records a hostname→address mapping observed from a resolved query
// or external configuration, evicting the oldest entry if the cache is
// full (ring-buffer eviction, matching the neighbor cache's bound).
func (r *Resolver) Learn(hostname string, addr ipv6.Addr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.insert(hostname, addr)
}

// Resolve implements the resolve(hostname) operation: a synchronous cache
// lookup. The cache is the only source of truth MD exposes to other
// tasks; MD never issues outbound queries of its own (Non-goals exclude
// general DNS client behavior — MD is a responder plus a static cache).
func (r *Resolver) Resolve(hostname string) (ipv6.Addr, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, e := range r.cache {
		if e.valid && e.hostname == hostname {
			return e.addr, nil
		}
	}

	return ipv6.Addr{}, ErrHostNotFound
}

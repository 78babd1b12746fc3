// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package rng adapts the node's entropy sources (the AES-CTR DRBG and the
// LCG fallback) into the Uint32 source aether/socket.Entropy needs for TCP
// local port selection, standing in for the dedicated RNG peripheral driver
// every other out-of-scope peripheral is modeled behind (see
// aether/socket.Entropy).
package rng

import "encoding/binary"

// Source wraps a seeded DRBG and exposes it as a plain uint32 generator,
// the shape aether/socket.Entropy requires.
type Source struct {
	drbg *DRBG
}

// NewSource seeds a DRBG from a 32-byte key (drawn once at boot from
// whatever entropy the board provides, falling back to SeedFromLCG on
// boards without one) and wraps it as a Source.
func NewSource(seed [32]byte) *Source {
	return &Source{drbg: &DRBG{Seed: seed}}
}

// Uint32 returns one 32-bit random value, satisfying aether/socket.Entropy.
func (s *Source) Uint32() uint32 {
	var b [4]byte
	s.drbg.GetRandomData(b[:])
	return binary.BigEndian.Uint32(b[:])
}

// SeedFromLCG fills seed using the non-cryptographic LCG fallback (its own
// doc comment: "unsuitable for secure random number generation"); adequate
// here only because TCP local port selection is not a security boundary.
func SeedFromLCG() (seed [32]byte) {
	GetLCGData(seed[:])
	return seed
}

// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ipv6

import "testing"

func TestHeaderMarshalParseRoundTrip(t *testing.T) {
	h := Header{
		TrafficClass: 0x12,
		FlowLabel:    0xabcde,
		PayloadLen:   64,
		NextHeader:   17,
		HopLimit:     64,
		Src:          Addr{0xfd, 0x00, 0x1e, 0xaf},
		Dst:          Addr{0xff, 0x02},
	}

	buf := make([]byte, HeaderLen)
	h.Marshal(buf)

	got, ok := Parse(buf)
	if !ok {
		t.Fatal("Parse rejected a header this package just marshaled")
	}
	if got != h {
		t.Fatalf("Parse(Marshal(h)) = %+v, want %+v", got, h)
	}
}

func TestParseRejectsNonV6(t *testing.T) {
	buf := make([]byte, HeaderLen)
	buf[0] = 0x40 // version 4
	if _, ok := Parse(buf); ok {
		t.Fatal("expected ok=false for a non-IPv6 version nibble")
	}
}

func TestParseRejectsShortBuffer(t *testing.T) {
	if _, ok := Parse(make([]byte, HeaderLen-1)); ok {
		t.Fatal("expected ok=false for a truncated header")
	}
}

func TestIsMulticast(t *testing.T) {
	mcast := Addr{0xff, 0x02}
	if !mcast.IsMulticast() {
		t.Fatal("ff02::... must report as multicast")
	}
	unicast := Addr{0xfd, 0x00}
	if unicast.IsMulticast() {
		t.Fatal("fd00::... must not report as multicast")
	}
}

func TestEUI64(t *testing.T) {
	id := EUI64(0x01020304, 0xaabbccdd)
	want := [8]byte{0x01, 0x02, 0x03, 0x04, 0xff, 0xfe, 0xaa, 0xbb}
	if id != want {
		t.Fatalf("EUI64 = %x, want %x", id, want)
	}
}

func TestSiteLocal(t *testing.T) {
	eui64 := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	a := SiteLocal(0x1eaf, eui64)

	want := Addr{0xfd, 0x00, 0x1e, 0xaf, 0, 0, 0, 0, 1, 2, 3, 4, 5, 6, 7, 8}
	if a != want {
		t.Fatalf("SiteLocal = %x, want %x", a, want)
	}
}

func TestChecksumKnownVector(t *testing.T) {
	src := Addr{0: 0xfd, 1: 0x00, 15: 0x01}
	dst := Addr{0: 0xfd, 1: 0x00, 15: 0x02}
	payload := []byte("ping")

	sum := Checksum(src, dst, 17, payload)

	// Words: fd00+0001 + fd00+0002 + 0004+0011 + 7069+6e67 = 0x2d8e8,
	// folded to 0xd8ea, complemented to 0x2715.
	if sum != 0x2715 {
		t.Fatalf("Checksum = %#04x, want 0x2715", sum)
	}

	// The checksum is deterministic for a fixed input: changing one
	// payload byte must change it, and it must never fold to the
	// reserved all-ones value by chance for this vector.
	if sum == 0xffff {
		t.Fatalf("unexpected reserved checksum value for this vector")
	}

	altered := []byte("pinh")
	if Checksum(src, dst, 17, altered) == sum {
		t.Fatal("checksum did not change when payload changed")
	}
}

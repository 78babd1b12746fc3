// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package aether

import "testing"

func TestUDPHeaderRoundTrip(t *testing.T) {
	h := udpHeader{SrcPort: 4242, DstPort: 5353, Length: 16, Checksum: 0xbeef}

	buf := make([]byte, udpHeaderLen+4)
	buildUDPHeader(buf, h)
	copy(buf[udpHeaderLen:], []byte{1, 2, 3, 4})

	got, payload, ok := parseUDPHeader(buf)
	if !ok {
		t.Fatal("parseUDPHeader rejected a header this package just built")
	}
	if got != h {
		t.Fatalf("parseUDPHeader = %+v, want %+v", got, h)
	}
	if string(payload) != "\x01\x02\x03\x04" {
		t.Fatalf("unexpected payload %x", payload)
	}
}

func TestUDPHeaderTooShort(t *testing.T) {
	if _, _, ok := parseUDPHeader(make([]byte, udpHeaderLen-1)); ok {
		t.Fatal("expected ok=false for a truncated UDP header")
	}
}

func TestTCPHeaderRoundTrip(t *testing.T) {
	h := tcpHeader{SrcPort: 1883, DstPort: 54321, Flags: tcpFlagSYN | tcpFlagACK}

	buf := make([]byte, tcpHeaderLen+3)
	buildTCPHeader(buf, h)
	copy(buf[tcpHeaderLen:], []byte{9, 9, 9})

	got, payload, ok := parseTCPHeader(buf)
	if !ok {
		t.Fatal("parseTCPHeader rejected a header this package just built")
	}
	if got != h {
		t.Fatalf("parseTCPHeader = %+v, want %+v", got, h)
	}
	if string(payload) != "\x09\x09\x09" {
		t.Fatalf("unexpected payload %x", payload)
	}
}

func TestTCPHeaderFlagBits(t *testing.T) {
	h := tcpHeader{Flags: tcpFlagFIN | tcpFlagPSH}
	buf := make([]byte, tcpHeaderLen)
	buildTCPHeader(buf, h)

	got, _, ok := parseTCPHeader(buf)
	if !ok {
		t.Fatal("parseTCPHeader rejected a minimal-length header")
	}
	if got.Flags&tcpFlagFIN == 0 || got.Flags&tcpFlagPSH == 0 {
		t.Fatalf("expected FIN|PSH set, got %02x", got.Flags)
	}
	if got.Flags&tcpFlagSYN != 0 || got.Flags&tcpFlagACK != 0 {
		t.Fatalf("unexpected extra flags set: %02x", got.Flags)
	}
}

func TestTCPHeaderTooShort(t *testing.T) {
	if _, _, ok := parseTCPHeader(make([]byte, tcpHeaderLen-1)); ok {
		t.Fatal("expected ok=false for a truncated TCP header")
	}
}

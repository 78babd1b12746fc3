// Minimal IPv6 header handling for 6LoWPAN interfaces
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ipv6 implements the fixed IPv6 header and the handful of
// addressing helpers Aether needs (EUI-64 derivation, site-local prefix
// construction), marshaled the explicit byte-offset way
// soc/nxp/enet/dma.go's bufferDescriptor marshals its own wire layout,
// rather than through a general-purpose netstack package: 6LoWPAN's
// header-compression scheme has no counterpart in gVisor's tcpip package
// (see DESIGN.md), so IF's IPv6 view is hand-rolled to the few fields it
// actually touches.
package ipv6

import "encoding/binary"

// HeaderLen is the fixed IPv6 header length in bytes.
const HeaderLen = 40

// MTU is the link MTU Aether enforces (EXTERNAL INTERFACES).
const MTU = 1280

// Addr is a 128-bit IPv6 address.
type Addr [16]byte

// IsMulticast reports whether addr is ff00::/8.
func (a Addr) IsMulticast() bool {
	return a[0] == 0xff
}

// Header is the fixed (extension-header-free) IPv6 header Aether needs to
// route and fragment against.
type Header struct {
	TrafficClass uint8
	FlowLabel    uint32
	PayloadLen   uint16
	NextHeader   uint8
	HopLimit     uint8
	Src          Addr
	Dst          Addr
}

// Marshal writes h into buf[:HeaderLen].
func (h *Header) Marshal(buf []byte) {
	_ = buf[:HeaderLen]

	v6 := uint32(6)<<28 | uint32(h.TrafficClass)<<20 | (h.FlowLabel & 0xfffff)
	binary.BigEndian.PutUint32(buf[0:4], v6)
	binary.BigEndian.PutUint16(buf[4:6], h.PayloadLen)
	buf[6] = h.NextHeader
	buf[7] = h.HopLimit
	copy(buf[8:24], h.Src[:])
	copy(buf[24:40], h.Dst[:])
}

// Parse reads an IPv6 header from buf, which must be at least HeaderLen
// bytes.
func Parse(buf []byte) (h Header, ok bool) {
	if len(buf) < HeaderLen {
		return Header{}, false
	}

	v6 := binary.BigEndian.Uint32(buf[0:4])
	if v6>>28 != 6 {
		return Header{}, false
	}

	h.TrafficClass = uint8((v6 >> 20) & 0xff)
	h.FlowLabel = v6 & 0xfffff
	h.PayloadLen = binary.BigEndian.Uint16(buf[4:6])
	h.NextHeader = buf[6]
	h.HopLimit = buf[7]
	copy(h.Src[:], buf[8:24])
	copy(h.Dst[:], buf[24:40])

	return h, true
}

// EUI64 derives the 64-bit interface identifier from the two 32-bit
// factory identity words the way Aether's address derivation requires:
// [addr1_be || 0xFF 0xFE || addr2_hi_be].
func EUI64(addr1, addr2 uint32) (id [8]byte) {
	binary.BigEndian.PutUint32(id[0:4], addr1)
	id[4] = 0xff
	id[5] = 0xfe
	binary.BigEndian.PutUint16(id[6:8], uint16(addr2>>16))
	return
}

// SiteLocal builds the site-local address
// [0xFD00 || PAN_ID_be || 0 0 0 0 || EUI-64], prefix /64.
func SiteLocal(panID uint16, eui64 [8]byte) (a Addr) {
	a[0] = 0xfd
	a[1] = 0x00
	binary.BigEndian.PutUint16(a[2:4], panID)
	// bytes 4:8 are zero (reserved)
	copy(a[8:16], eui64[:])
	return
}

// Checksum computes the IPv6 pseudo-header + payload ones'-complement
// checksum used by UDP/TCP over IPv6.
func Checksum(src, dst Addr, protocol uint8, payload []byte) uint16 {
	var sum uint32

	add := func(b []byte) {
		for i := 0; i+1 < len(b); i += 2 {
			sum += uint32(b[i])<<8 | uint32(b[i+1])
		}
		if len(b)%2 == 1 {
			sum += uint32(b[len(b)-1]) << 8
		}
	}

	add(src[:])
	add(dst[:])

	var lenProto [8]byte
	binary.BigEndian.PutUint32(lenProto[0:4], uint32(len(payload)))
	lenProto[7] = protocol
	add(lenProto[:])

	add(payload)

	for sum>>16 != 0 {
		sum = (sum & 0xffff) + (sum >> 16)
	}

	return ^uint16(sum)
}

// Minimal UDP/TCP-over-IPv6 framing for the Aether interface
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package aether

import "encoding/binary"

// Next-header values (IANA protocol numbers) used to demux a reassembled
// IPv6 payload.
const (
	NextHeaderTCP = 6
	NextHeaderUDP = 17
)

// udpHeaderLen is the fixed 8-byte UDP header (RFC 768): source port,
// destination port, length, checksum.
const udpHeaderLen = 8

type udpHeader struct {
	SrcPort, DstPort uint16
	Length           uint16
	Checksum         uint16
}

func parseUDPHeader(buf []byte) (h udpHeader, payload []byte, ok bool) {
	if len(buf) < udpHeaderLen {
		return udpHeader{}, nil, false
	}
	h.SrcPort = binary.BigEndian.Uint16(buf[0:2])
	h.DstPort = binary.BigEndian.Uint16(buf[2:4])
	h.Length = binary.BigEndian.Uint16(buf[4:6])
	h.Checksum = binary.BigEndian.Uint16(buf[6:8])
	return h, buf[udpHeaderLen:], true
}

func buildUDPHeader(buf []byte, h udpHeader) {
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	binary.BigEndian.PutUint16(buf[4:6], h.Length)
	binary.BigEndian.PutUint16(buf[6:8], h.Checksum)
}

// TCP flag bits for the reduced segment header Aether uses: full
// RFC 793 sequence/ack/window tracking is out of scope (link-layer
// retransmission and congestion control are not modeled), but the
// ordering and close semantics the spec requires are preserved by the
// flags below plus FIFO delivery per socket.
const (
	tcpFlagSYN = 1 << 0
	tcpFlagACK = 1 << 1
	tcpFlagFIN = 1 << 2
	tcpFlagPSH = 1 << 3
)

// tcpHeaderLen is the reduced segment header: source port, destination
// port, flags.
const tcpHeaderLen = 5

type tcpHeader struct {
	SrcPort, DstPort uint16
	Flags            uint8
}

func parseTCPHeader(buf []byte) (h tcpHeader, payload []byte, ok bool) {
	if len(buf) < tcpHeaderLen {
		return tcpHeader{}, nil, false
	}
	h.SrcPort = binary.BigEndian.Uint16(buf[0:2])
	h.DstPort = binary.BigEndian.Uint16(buf[2:4])
	h.Flags = buf[4]
	return h, buf[tcpHeaderLen:], true
}

func buildTCPHeader(buf []byte, h tcpHeader) {
	binary.BigEndian.PutUint16(buf[0:2], h.SrcPort)
	binary.BigEndian.PutUint16(buf[2:4], h.DstPort)
	buf[4] = h.Flags
}

// 6LoWPAN fragmentation and reassembly
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package lowpan implements 6LoWPAN fragmentation header framing and a
// fixed-size reassembly table, grounded on the byte-offset marshaling
// style of soc/nxp/enet/dma.go's buffer descriptors rather than a generic
// codec, since the two fragment header shapes are small and fixed.
package lowpan

import (
	"encoding/binary"
	"time"
)

// Dispatch byte high bits (RFC 4944 §5.3).
const (
	DispatchFrag1     = 0xc0 // 11000xxx: first fragment
	DispatchFragN     = 0xe0 // 11100xxx: subsequent fragment
	dispatchFragMask  = 0xf8
)

// FragHeaderLen1 and FragHeaderLenN are the first/subsequent fragmentation
// header lengths: datagram_size(11 bits)+tag(16 bits) for both, plus an
// offset byte for subsequent fragments.
const (
	FragHeaderLen1 = 4
	FragHeaderLenN = 5
)

// ReassemblyTimeout is the fixed 1 s window (COMPONENT DESIGN 4.3).
const ReassemblyTimeout = 1 * time.Second

// ScratchSize is the 1280-byte reassembly/fragmentation scratch buffer
// size (MTU).
const ScratchSize = 1280

// Key identifies one in-flight reassembly by source, destination and the
// fragment-sequence tag carried in the 6LoWPAN fragment header.
type Key struct {
	Src, Dst [8]byte
	Tag      uint16
}

// FragHeader describes a parsed fragmentation header.
type FragHeader struct {
	First bool
	Size  uint16 // total uncompressed datagram size
	Tag   uint16
	Offset int // in units of 8 bytes, 0 for the first fragment
}

// ParseFragHeader parses the leading fragmentation header of buf, if
// present. ok is false if buf does not start with a fragmentation
// dispatch byte (i.e. the datagram fits unfragmented).
func ParseFragHeader(buf []byte) (h FragHeader, hdrLen int, ok bool) {
	if len(buf) < FragHeaderLen1 {
		return FragHeader{}, 0, false
	}

	switch buf[0] & dispatchFragMask {
	case DispatchFrag1:
		sizeTag := binary.BigEndian.Uint16(buf[0:2])
		h.First = true
		h.Size = sizeTag & 0x07ff
		h.Tag = binary.BigEndian.Uint16(buf[2:4])
		return h, FragHeaderLen1, true
	case DispatchFragN:
		if len(buf) < FragHeaderLenN {
			return FragHeader{}, 0, false
		}
		sizeTag := binary.BigEndian.Uint16(buf[0:2])
		h.First = false
		h.Size = sizeTag & 0x07ff
		h.Tag = binary.BigEndian.Uint16(buf[2:4])
		h.Offset = int(buf[4])
		return h, FragHeaderLenN, true
	default:
		return FragHeader{}, 0, false
	}
}

// BuildFrag1Header writes a first-fragment header into buf (must be at
// least FragHeaderLen1 bytes).
func BuildFrag1Header(buf []byte, size, tag uint16) {
	binary.BigEndian.PutUint16(buf[0:2], DispatchFrag1<<8|(size&0x07ff))
	binary.BigEndian.PutUint16(buf[2:4], tag)
}

// BuildFragNHeader writes a subsequent-fragment header into buf (must be
// at least FragHeaderLenN bytes). offset is in units of 8 bytes.
func BuildFragNHeader(buf []byte, size, tag uint16, offset int) {
	binary.BigEndian.PutUint16(buf[0:2], DispatchFragN<<8|(size&0x07ff))
	binary.BigEndian.PutUint16(buf[2:4], tag)
	buf[4] = byte(offset)
}

// assembler holds the in-progress reassembly of one datagram.
type assembler struct {
	inUse    bool
	key      Key
	total    int
	received int
	deadline time.Time
	scratch  [ScratchSize]byte
	got      []bool // per-8-byte-unit presence, for contiguity bookkeeping
}

// Reassembler is a fixed-size array of fragment assemblers keyed by
// (src, dst, tag), matching the interface state's reassembly cache.
type Reassembler struct {
	slots []assembler
	now   func() time.Time
}

// NewReassembler allocates a reassembler with the given number of
// concurrent assembly slots (2-4 per COMPONENT DESIGN 4.3).
func NewReassembler(slots int) *Reassembler {
	return &Reassembler{
		slots: make([]assembler, slots),
		now:   time.Now,
	}
}

func (r *Reassembler) find(key Key) int {
	for i := range r.slots {
		if r.slots[i].inUse && r.slots[i].key == key {
			return i
		}
	}
	return -1
}

func (r *Reassembler) evictExpired() {
	now := r.now()
	for i := range r.slots {
		if r.slots[i].inUse && now.After(r.slots[i].deadline) {
			// Timeout: free the slot, discard any received fragments
			// silently (ERROR HANDLING DESIGN: fragment-timeout is a
			// silent drop).
			r.slots[i] = assembler{}
		}
	}
}

func (r *Reassembler) alloc(key Key, totalSize int) int {
	for i := range r.slots {
		if !r.slots[i].inUse {
			r.slots[i] = assembler{
				inUse:    true,
				key:      key,
				total:    totalSize,
				deadline: r.now().Add(ReassemblyTimeout),
				got:      make([]bool, (totalSize+7)/8),
			}
			return i
		}
	}
	// No free slot: the incoming fragment of the new datagram is silently
	// dropped, matching the "assembler slot unavailable" edge case
	// (no explicit eviction policy is specified beyond fixed size).
	return -1
}

// Add feeds one fragment's payload (header already stripped) at the given
// 8-byte-unit offset into the datagram identified by key/totalSize. It
// returns the complete datagram and true once every byte has arrived
// within the timeout, or complete=false if reassembly is still in progress (or
// the fragment was dropped for lack of a free slot).
func (r *Reassembler) Add(key Key, totalSize int, offsetUnits int, payload []byte) (datagram []byte, complete bool) {
	r.evictExpired()

	i := r.find(key)
	if i < 0 {
		i = r.alloc(key, totalSize)
		if i < 0 {
			return nil, false
		}
	}

	a := &r.slots[i]

	byteOffset := offsetUnits * 8
	if byteOffset+len(payload) > len(a.scratch) {
		return nil, false
	}

	copy(a.scratch[byteOffset:], payload)

	unit := byteOffset / 8
	for u := unit; u < unit+(len(payload)+7)/8 && u < len(a.got); u++ {
		if !a.got[u] {
			a.got[u] = true
			a.received += 8
		}
	}

	if a.received < a.total {
		return nil, false
	}

	datagram = append([]byte(nil), a.scratch[:a.total]...)
	r.slots[i] = assembler{}

	return datagram, true
}

// 802.15.4 DMA packet ring buffers
// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

// Package ringbuf implements power-of-two, single-producer/single-consumer
// packet rings sized for the 802.15.4 PHY maximum frame (255 bytes
// including the PHY length byte), aliased with the radio's EasyDMA
// pointer the way soc/nxp/enet's bufferDescriptorRing aliases Ethernet
// buffer descriptors with the ENET MAC's DMA engine.
package ringbuf

// SlotSize is the maximum PHY-layer frame size: one length byte followed by
// up to 254 bytes of MPDU+CRC.
const SlotSize = 255

// Slot is one ring entry: byte 0 is the PHY length field, the remainder is
// MPDU payload (plus, for TX, the two bytes of space reserved for the
// hardware-appended CRC).
type Slot [SlotSize]byte

// barrier marks a point where software and EasyDMA visibility of a slot
// must be synchronized. TamaGo's ARM builds do this with dsb/dmb/isb
// instructions compiled in soc/nxp's assembly helpers; this rendition has
// no portable Go intrinsic for those (see DESIGN.md), so the boundary is
// only documented here rather than silently dropped.
func barrier() {}

// ring is the shared mechanics of RXRing/TXRing: a power-of-two capacity
// and free-running head/tail counters masked on use.
type ring struct {
	slots []Slot
	cap   uint32
	write uint32
	read  uint32
}

func newRing(capacity int) ring {
	if capacity <= 0 || capacity&(capacity-1) != 0 {
		panic("ringbuf: capacity must be a power of two")
	}

	return ring{
		slots: make([]Slot, capacity),
		cap:   uint32(capacity),
	}
}

func (r *ring) mask(i uint32) uint32 {
	return i & (r.cap - 1)
}

// Len returns write-read, the number of slots currently occupied.
func (r *ring) Len() int {
	return int(r.write - r.read)
}

// IsFull reports len == cap. Producers check it before producing (BOUNDARY
// BEHAVIOR: "caller must not overwrite"); TXRing.Write and
// RXRing.GotPacket panic on a full ring rather than overwrite a slot.
func (r *ring) IsFull() bool {
	return r.Len() == int(r.cap)
}

// IsEmpty reports len == 0.
func (r *ring) IsEmpty() bool {
	return r.Len() == 0
}

// RXRing is written by the radio's DMA engine (producer) and read by
// software (consumer); the slot at mask(write) is the armed DMA target.
type RXRing struct {
	ring
}

// NewRXRing allocates a receive ring of the given power-of-two capacity.
func NewRXRing(capacity int) *RXRing {
	return &RXRing{ring: newRing(capacity)}
}

// DMATarget returns a pointer to the slot the radio peripheral should be
// pointed at for its next reception (set_as_dma_target, RX case).
func (r *RXRing) DMATarget() *Slot {
	return &r.slots[r.mask(r.write)]
}

// GotPacket advances the write index by one, called from the radio driver
// on End/RxIdle once the CRC has been verified; this is the sole point at
// which a received slot becomes visible to readers.
func (r *RXRing) GotPacket() {
	if r.IsFull() {
		panic("ringbuf: GotPacket on full RX ring")
	}

	barrier()
	r.write++
}

// Read invokes consume with the MPDU-only view of the oldest unread slot —
// the PHY length byte stripped from the front and the trailing CRC byte
// stripped from the back — then advances the read index. It panics if the
// ring is empty; callers must check IsEmpty first.
func (r *RXRing) Read(consume func(mpdu []byte)) {
	if r.IsEmpty() {
		panic("ringbuf: Read on empty RX ring")
	}

	slot := &r.slots[r.mask(r.read)]
	phyLen := int(slot[0])

	if phyLen < 3 || phyLen > SlotSize-1 {
		// PHY-impossible length: not a protocol condition, a driver/DMA bug.
		panic("ringbuf: corrupt PHY length in RX slot")
	}

	mpdu := slot[1 : phyLen-1]

	barrier()
	consume(mpdu)

	r.read++
}

// TXRing is written by software (producer) and read by the radio's DMA
// engine (consumer); the slot at mask(read) is the armed DMA source.
type TXRing struct {
	ring
}

// NewTXRing allocates a pre-zeroed transmit ring of the given power-of-two
// capacity.
func NewTXRing(capacity int) *TXRing {
	return &TXRing{ring: newRing(capacity)}
}

// DMASource returns a pointer to the slot the radio peripheral should be
// pointed at for its next transmission (set_as_dma_target, TX case).
func (r *TXRing) DMASource() *Slot {
	return &r.slots[r.mask(r.read)]
}

// Write invokes build with a length-n slice starting at byte 1 of the
// next free slot, then sets buf[0] = n+2 (the "+2" reserving space for the
// hardware-appended CRC) and advances the write index. It panics if the
// ring is full; callers must check IsFull first.
func (r *TXRing) Write(n int, build func(payload []byte)) {
	if r.IsFull() {
		panic("ringbuf: Write on full TX ring")
	}

	if n < 0 || n > SlotSize-3 {
		panic("ringbuf: frame too large for TX slot")
	}

	slot := &r.slots[r.mask(r.write)]

	build(slot[1 : 1+n])
	slot[0] = byte(n + 2)

	barrier()
	r.write++
}

// SentPacket advances the read index by one, called from the radio driver
// on End/TxIdle once the hardware confirms the transmission attempt.
func (r *TXRing) SentPacket() {
	if r.IsEmpty() {
		panic("ringbuf: SentPacket on empty TX ring")
	}

	barrier()
	r.read++
}

// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package ringbuf

import "testing"

func TestNewRingRejectsNonPowerOfTwo(t *testing.T) {
	for _, cap := range []int{0, -1, 3, 5, 6, 7, 9} {
		func() {
			defer func() {
				if recover() == nil {
					t.Errorf("capacity %d: expected panic", cap)
				}
			}()
			newRing(cap)
		}()
	}
}

func TestTXRingWriteReadRoundTrip(t *testing.T) {
	tx := NewTXRing(4)

	if !tx.IsEmpty() {
		t.Fatal("new ring should be empty")
	}

	payload := []byte("hello aether")

	tx.Write(len(payload), func(buf []byte) {
		if len(buf) != len(payload) {
			t.Fatalf("unexpected build buffer length %d", len(buf))
		}
		copy(buf, payload)
	})

	if tx.IsEmpty() {
		t.Fatal("ring should not be empty after Write")
	}
	if tx.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", tx.Len())
	}

	slot := tx.DMASource()
	if slot[0] != byte(len(payload)+2) {
		t.Fatalf("slot[0] = %d, want %d", slot[0], len(payload)+2)
	}
	if got := slot[1 : 1+len(payload)]; string(got) != string(payload) {
		t.Fatalf("slot payload = %q, want %q", got, payload)
	}

	tx.SentPacket()

	if !tx.IsEmpty() {
		t.Fatal("ring should be empty after SentPacket")
	}
}

func TestTXRingFullPanicsOnWrite(t *testing.T) {
	tx := NewTXRing(2)

	tx.Write(4, func(buf []byte) {})
	tx.Write(4, func(buf []byte) {})

	if !tx.IsFull() {
		t.Fatal("ring should report full at capacity")
	}

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic writing to full ring")
		}
	}()
	tx.Write(4, func(buf []byte) {})
}

func TestRXRingGotPacketAndRead(t *testing.T) {
	rx := NewRXRing(4)

	slot := rx.DMATarget()
	payload := []byte{0xde, 0xad, 0xbe, 0xef}
	slot[0] = byte(len(payload) + 2) // PHY length incl. 2 CRC bytes
	copy(slot[1:], payload)
	slot[1+len(payload)] = 0xaa // CRC byte 1 (stripped on Read)
	slot[1+len(payload)+1] = 0xbb

	rx.GotPacket()

	if rx.IsEmpty() {
		t.Fatal("ring should not be empty after GotPacket")
	}

	var got []byte
	rx.Read(func(mpdu []byte) {
		got = append([]byte(nil), mpdu...)
	})

	if string(got) != string(payload) {
		t.Fatalf("Read mpdu = %x, want %x", got, payload)
	}
	if !rx.IsEmpty() {
		t.Fatal("ring should be empty after consuming the only slot")
	}
}

func TestRXRingReadOnEmptyPanics(t *testing.T) {
	rx := NewRXRing(2)

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic reading from empty RX ring")
		}
	}()
	rx.Read(func(mpdu []byte) {})
}

func TestRXRingCorruptLengthPanics(t *testing.T) {
	rx := NewRXRing(2)

	slot := rx.DMATarget()
	slot[0] = 1 // below the minimum valid PHY length of 3
	rx.GotPacket()

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on corrupt PHY length")
		}
	}()
	rx.Read(func(mpdu []byte) {})
}

func TestRingFIFOOrdering(t *testing.T) {
	tx := NewTXRing(4)

	for i := 0; i < 3; i++ {
		b := byte(i)
		tx.Write(1, func(buf []byte) { buf[0] = b })
	}

	for i := 0; i < 3; i++ {
		slot := tx.DMASource()
		if slot[1] != byte(i) {
			t.Fatalf("FIFO order violated: got %d at position %d, want %d", slot[1], i, i)
		}
		tx.SentPacket()
	}
}

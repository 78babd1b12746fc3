// https://github.com/usbarmory/tamago
//
// Copyright (c) WithSecure Corporation
// https://foundry.withsecure.com
//
// Use of this source code is governed by the license
// that can be found in the LICENSE file.

package lowpan

import (
	"bytes"
	"testing"
	"time"
)

func TestParseFragHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, FragHeaderLen1)
	BuildFrag1Header(buf, 900, 0x1234)

	h, n, ok := ParseFragHeader(buf)
	if !ok {
		t.Fatal("expected ok=true for a first-fragment header")
	}
	if n != FragHeaderLen1 {
		t.Fatalf("hdrLen = %d, want %d", n, FragHeaderLen1)
	}
	if !h.First || h.Size != 900 || h.Tag != 0x1234 {
		t.Fatalf("unexpected header %+v", h)
	}
}

func TestParseFragNHeaderRoundTrip(t *testing.T) {
	buf := make([]byte, FragHeaderLenN)
	BuildFragNHeader(buf, 900, 0x1234, 5)

	h, n, ok := ParseFragHeader(buf)
	if !ok {
		t.Fatal("expected ok=true for a subsequent-fragment header")
	}
	if n != FragHeaderLenN {
		t.Fatalf("hdrLen = %d, want %d", n, FragHeaderLenN)
	}
	if h.First || h.Size != 900 || h.Tag != 0x1234 || h.Offset != 5 {
		t.Fatalf("unexpected header %+v", h)
	}
}

func TestParseFragHeaderNotFragmented(t *testing.T) {
	buf := []byte{0x41, 0, 0, 0}
	if _, _, ok := ParseFragHeader(buf); ok {
		t.Fatal("expected ok=false for a non-fragmentation dispatch byte")
	}
}

func TestParseFragHeaderTooShort(t *testing.T) {
	if _, _, ok := ParseFragHeader([]byte{0xc0, 0x00}); ok {
		t.Fatal("expected ok=false for a truncated header")
	}
	// A FragN dispatch byte with only FragHeaderLen1 bytes available is
	// still too short for the trailing offset byte.
	full := make([]byte, FragHeaderLenN)
	BuildFragNHeader(full, 10, 1, 0)
	truncated := full[:FragHeaderLen1]
	if _, _, ok := ParseFragHeader(truncated); ok {
		t.Fatal("expected ok=false when a FragN header is truncated")
	}
}

func TestReassemblerInOrder(t *testing.T) {
	r := NewReassembler(2)
	key := Key{Tag: 1}

	if _, complete := r.Add(key, 16, 0, bytes.Repeat([]byte{0xaa}, 8)); complete {
		t.Fatal("reassembly should not be complete after the first fragment")
	}

	datagram, complete := r.Add(key, 16, 1, bytes.Repeat([]byte{0xbb}, 8))
	if !complete {
		t.Fatal("reassembly should be complete after the second fragment")
	}

	want := append(bytes.Repeat([]byte{0xaa}, 8), bytes.Repeat([]byte{0xbb}, 8)...)
	if !bytes.Equal(datagram, want) {
		t.Fatalf("datagram = %x, want %x", datagram, want)
	}
}

func TestReassemblerOutOfOrder(t *testing.T) {
	r := NewReassembler(2)
	key := Key{Tag: 7}

	if _, complete := r.Add(key, 16, 1, bytes.Repeat([]byte{0xbb}, 8)); complete {
		t.Fatal("reassembly should not be complete with only the second fragment present")
	}

	datagram, complete := r.Add(key, 16, 0, bytes.Repeat([]byte{0xaa}, 8))
	if !complete {
		t.Fatal("reassembly should be complete once both fragments have arrived")
	}

	want := append(bytes.Repeat([]byte{0xaa}, 8), bytes.Repeat([]byte{0xbb}, 8)...)
	if !bytes.Equal(datagram, want) {
		t.Fatalf("datagram = %x, want %x", datagram, want)
	}
}

func TestReassemblerDuplicateFragmentIgnored(t *testing.T) {
	r := NewReassembler(2)
	key := Key{Tag: 3}

	r.Add(key, 16, 0, bytes.Repeat([]byte{0xaa}, 8))
	// Re-delivering the same first fragment must not double-count toward
	// the completion threshold.
	if _, complete := r.Add(key, 16, 0, bytes.Repeat([]byte{0xaa}, 8)); complete {
		t.Fatal("duplicate fragment must not complete reassembly on its own")
	}
}

func TestReassemblerTimeoutEvicts(t *testing.T) {
	r := NewReassembler(1)
	now := time.Now()
	r.now = func() time.Time { return now }

	key := Key{Tag: 9}
	r.Add(key, 16, 0, bytes.Repeat([]byte{0xaa}, 8))

	// Advance time past the reassembly window: the next Add must evict
	// the stale slot rather than merging into it.
	now = now.Add(ReassemblyTimeout + time.Millisecond)

	datagram, complete := r.Add(key, 16, 0, bytes.Repeat([]byte{0xcc}, 8))
	if complete {
		t.Fatal("a single fragment after eviction must not complete reassembly")
	}
	if datagram != nil {
		t.Fatal("incomplete reassembly must return a nil datagram")
	}
}

func TestReassemblerSlotExhaustionDropsSilently(t *testing.T) {
	r := NewReassembler(1)

	r.Add(Key{Tag: 1}, 16, 0, bytes.Repeat([]byte{0xaa}, 8))

	// A second, distinct datagram finds no free slot and must be dropped
	// without panicking or otherwise signaling an error.
	datagram, complete := r.Add(Key{Tag: 2}, 16, 0, bytes.Repeat([]byte{0xbb}, 8))
	if complete || datagram != nil {
		t.Fatal("expected a silent drop when no reassembly slot is free")
	}
}

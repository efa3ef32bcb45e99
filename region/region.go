/*
 * Copyright 2024 The segfit Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package region defines the backing region provider that heap.Allocator
// consumes but does not implement (spec.md section 6): a monotonically
// growing byte region with a current low/high address range. It is an
// external collaborator in the allocator's own terms, analogous to how
// the teacher keeps transport/connection concerns (netx, connstate)
// behind an interface with exactly one concrete implementation wired up.
package region

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"github.com/bytedance/gopkg/lang/mcache"
)

// Region is the minimal backing store heap.Allocator needs: a
// monotonically growing range of addressable bytes, addressed by byte
// offset from Low(). Implementations MUST NOT renumber already-committed
// offsets; growth only ever appends.
type Region interface {
	// Extend grows the committed range by n bytes (n must be > 0) and
	// returns the offset at which the new range begins, or ok=false if
	// the region cannot grow (out of memory).
	Extend(n int64) (offset int64, ok bool)
	// Low is the first valid byte offset, inclusive.
	Low() int64
	// High is the last valid byte offset, inclusive. High() < Low()
	// when the region is empty.
	High() int64
	// ReadWord/WriteWord access an 8-byte little-endian word at off.
	ReadWord(off int64) uint64
	WriteWord(off int64, v uint64)
	// Bytes returns a mutable view of n committed bytes starting at off,
	// for payload reads/writes (memset/memcpy-style operations).
	Bytes(off, n int64) []byte
	// OffsetOf recovers the byte offset a previously returned payload
	// slice lives at, by comparing backing-array addresses the same way
	// the teacher's cache/mempool package recovers its own bookkeeping
	// from a raw []byte (unsafe pointer arithmetic, not a side table).
	// ok is false if buf was not carved from this region.
	OffsetOf(buf []byte) (off int64, ok bool)
}

// defaultReserve is the ceiling used when a caller asks for an "unbounded"
// region (maxSize == 0). A real simulated-heap collaborator (the classic
// mem_sbrk companion to original_source/mm.c) reserves one fixed-size
// arena up front and never relocates it; this mirrors that rather than
// growing the backing slice with realloc-and-copy, because every payload
// byte slice handed out by heap.Allocator must stay valid for as long as
// the caller holds it, across any number of further Extend calls.
const defaultReserve = 64 << 20 // 64 MiB

// MemRegion is an in-process Region backed by a single []byte whose
// capacity is reserved once, from bytedance/gopkg's mcache pool, and
// never grown afterwards: Extend only ever re-slices within that fixed
// capacity. This is what keeps every address Bytes/ReadWord/WriteWord
// ever hand out stable for the region's whole lifetime, the same
// guarantee mem_sbrk's static heap array gives mm.c.
type MemRegion struct {
	buf     []byte
	maxSize int64
}

// NewMemRegion creates an empty region with a fixed backing reservation
// of maxSize bytes (or defaultReserve if maxSize <= 0, meaning
// "unbounded" to callers). Extend fails once the reservation is
// exhausted, modeling an out-of-memory region provider.
func NewMemRegion(maxSize int64) *MemRegion {
	if maxSize <= 0 {
		maxSize = defaultReserve
	}
	return &MemRegion{
		buf:     mcache.Malloc(0, int(maxSize)),
		maxSize: maxSize,
	}
}

// Extend implements Region.
func (r *MemRegion) Extend(n int64) (int64, bool) {
	if n <= 0 {
		return 0, false
	}
	old := int64(len(r.buf))
	newLen := old + n
	if newLen > r.maxSize {
		return 0, false
	}
	r.buf = r.buf[:newLen]
	for i := old; i < newLen; i++ {
		r.buf[i] = 0
	}
	return old, true
}

// Low implements Region.
func (r *MemRegion) Low() int64 { return 0 }

// High implements Region.
func (r *MemRegion) High() int64 { return int64(len(r.buf)) - 1 }

// ReadWord implements Region.
func (r *MemRegion) ReadWord(off int64) uint64 {
	return binary.LittleEndian.Uint64(r.buf[off : off+8])
}

// WriteWord implements Region.
func (r *MemRegion) WriteWord(off int64, v uint64) {
	binary.LittleEndian.PutUint64(r.buf[off:off+8], v)
}

// Bytes implements Region.
func (r *MemRegion) Bytes(off, n int64) []byte {
	if off < 0 || n < 0 || off+n > int64(len(r.buf)) {
		panic(fmt.Sprintf("region: out-of-range access [%d:%d) over %d committed bytes", off, off+n, len(r.buf)))
	}
	return r.buf[off : off+n]
}

// OffsetOf implements Region.
func (r *MemRegion) OffsetOf(buf []byte) (int64, bool) {
	if len(buf) == 0 || len(r.buf) == 0 {
		return 0, false
	}
	base := uintptr(unsafe.Pointer(&r.buf[0]))
	p := uintptr(unsafe.Pointer(&buf[0]))
	if p < base {
		return 0, false
	}
	off := int64(p - base)
	if off >= int64(len(r.buf)) {
		return 0, false
	}
	return off, true
}

// Close releases the backing buffer to the mcache pool. Not part of the
// Region interface; callers that own a MemRegion directly may call it
// when done, as the teacher's own mcache-backed buffers do via Free.
func (r *MemRegion) Close() {
	if r.buf != nil {
		mcache.Free(r.buf)
		r.buf = nil
	}
}

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

// Package heap implements the allocation engine: find-fit, split,
// coalesce, heap-extend, and the heap consistency checker, layered on
// top of package block (on-heap layout) and package freelist (the
// segregated index). It is the single value type a caller interacts
// with; there is no ambient global allocator state (design note in
// spec.md section 9 on encapsulating heap_start / the bucket array /
// the mini-list head).
package heap

import (
	"fmt"

	"github.com/segfit/segfit/block"
	"github.com/segfit/segfit/freelist"
	"github.com/segfit/segfit/region"
)

const (
	// ChunkSize is the minimum number of bytes requested from the
	// region provider on each heap extension.
	ChunkSize = 512

	// SearchLimit, BucketSize and MaxSize mirror the freelist package's
	// tunables; re-exported here because spec.md section 6 lists them
	// as allocator-level tunables.
	SearchLimit = freelist.SearchLimit
	BucketSize  = freelist.NumBuckets
	MaxSize     = freelist.MaxSize
)

// Allocator is a single-threaded, grow-only segregated-fit allocator over
// one region.Region. The zero value is not usable; construct with New.
type Allocator struct {
	region region.Region
	free   freelist.Index
	start  block.Header // header of the first real (non-sentinel) block
	epi    block.Header // header of the current epilogue sentinel
}

// New creates an allocator over r, writing the prologue/epilogue
// sentinels and extending the heap by one initial chunk. r must be
// freshly created (no prior committed bytes).
func New(r region.Region) (*Allocator, error) {
	a := &Allocator{region: r}

	off, ok := r.Extend(2 * block.WordSize)
	if !ok {
		return nil, fmt.Errorf("heap: init prologue/epilogue: %w", ErrOutOfMemory)
	}
	prologue := block.Header(off)
	epilogue := block.Header(off + block.WordSize)

	r.WriteWord(int64(prologue), uint64(block.Pack(0, true, true, false)))
	r.WriteWord(int64(epilogue), uint64(block.Pack(0, true, false, false)))

	a.start = epilogue
	a.epi = epilogue

	if err := a.growHeap(ChunkSize); err != nil {
		return nil, err
	}
	return a, nil
}

// NewDefault creates an allocator over a fresh, unbounded in-process
// region.MemRegion — the common case for tests and the benchmark driver.
func NewDefault() (*Allocator, error) {
	return New(region.NewMemRegion(0))
}

// Break returns the current heap break: the number of bytes committed
// by the backing region, analogous to the value sbrk(0) would report.
// Used by package bench to compute utilization against the peak break.
func (a *Allocator) Break() int64 {
	return a.region.High() + 1
}

func roundUp(n, align uint64) uint64 {
	return (n + align - 1) &^ (align - 1)
}

// adjustSize implements spec.md section 4.3: round up requested+8 to a
// multiple of 16, floored at the minimum block size.
func adjustSize(requested uint64) uint64 {
	adj := roundUp(requested+block.WordSize, block.Align)
	if adj < block.MinBlockSize {
		adj = block.MinBlockSize
	}
	return adj
}

// Malloc returns a payload slice of exactly size bytes, or nil if size
// is 0 or the heap cannot grow enough to satisfy the request.
func (a *Allocator) Malloc(size int) []byte {
	if size <= 0 {
		return nil
	}
	adjusted := adjustSize(uint64(size))

	if adjusted == block.MinBlockSize {
		if b := a.free.Mini(); b != 0 {
			a.free.Remove(a.region, b, block.MinBlockSize)
			a.commit(b, block.MinBlockSize, block.MinBlockSize)
			return a.payload(b, size)
		}
	}

	b, ok := a.free.FindFit(a.region, adjusted)
	if !ok {
		if err := a.growHeap(adjusted); err != nil {
			return nil
		}
		b, ok = a.free.FindFit(a.region, adjusted)
		if !ok {
			return nil
		}
	}

	full := block.HeaderWord(a.region, b).Size()
	a.free.Remove(a.region, b, full)
	a.commit(b, full, adjusted)
	return a.payload(b, size)
}

// commit marks the selected block b (currently free, full bytes long) as
// allocated for a request of adjusted bytes, splitting off a free
// remainder when at least one minimum-size block's worth is left over
// (spec.md section 4.3, split policy).
func (a *Allocator) commit(b block.Header, full, adjusted uint64) {
	w := block.HeaderWord(a.region, b)
	prevAlloc, prevSmall := w.PrevAlloc(), w.PrevSmall()

	remainder := full - adjusted
	if remainder >= block.MinBlockSize {
		block.WriteBlock(a.region, b, adjusted, true, prevAlloc, prevSmall)
		rem := block.NextBlock(a.region, b)
		block.WriteBlock(a.region, rem, remainder, false, true, adjusted == block.MinBlockSize)
		a.free.Insert(a.region, rem, remainder)
		return
	}
	block.WriteBlock(a.region, b, full, true, prevAlloc, prevSmall)
}

func (a *Allocator) payload(b block.Header, userSize int) []byte {
	return a.region.Bytes(block.PayloadOf(b), int64(userSize))
}

// Free releases a payload previously returned by Malloc, Calloc, or
// Realloc. It is a no-op for nil/empty input, and for any buffer that
// was not carved from this allocator's region (a caller contract
// violation that spec.md section 7 leaves undefined; this implementation
// chooses the safe no-op rather than corrupting memory).
func (a *Allocator) Free(buf []byte) {
	if len(buf) == 0 {
		return
	}
	off, ok := a.region.OffsetOf(buf)
	if !ok {
		return
	}
	b := block.HeaderOf(off)
	w := block.HeaderWord(a.region, b)
	if !w.Alloc() {
		return
	}
	size := w.Size()
	block.WriteBlock(a.region, b, size, false, w.PrevAlloc(), w.PrevSmall())
	a.coalesce(b, size)
}

// Realloc resizes the allocation backing buf to size bytes, preserving
// the shared prefix, per spec.md section 4.3: realloc(p, 0) frees p and
// returns nil; realloc(nil, n) behaves as Malloc(n). There is no in-place
// optimization.
func (a *Allocator) Realloc(buf []byte, size int) []byte {
	if size == 0 {
		a.Free(buf)
		return nil
	}
	if len(buf) == 0 {
		return a.Malloc(size)
	}
	next := a.Malloc(size)
	if next == nil {
		return nil
	}
	n := len(buf)
	if size < n {
		n = size
	}
	copy(next, buf[:n])
	a.Free(buf)
	return next
}

// Calloc allocates count*size bytes and zeroes them, failing (returning
// nil) on a multiplication overflow rather than silently wrapping.
func (a *Allocator) Calloc(count, size int) []byte {
	if count < 0 || size < 0 {
		return nil
	}
	total, overflow := mulOverflow(count, size)
	if overflow {
		return nil
	}
	buf := a.Malloc(total)
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

func mulOverflow(a, b int) (int, bool) {
	if a == 0 || b == 0 {
		return 0, false
	}
	p := a * b
	if p/a != b {
		return 0, true
	}
	return p, false
}

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

package heap

import "github.com/segfit/segfit/block"

// growHeap requests at least minBytes (floored at ChunkSize, rounded up
// to a multiple of block.Align) of additional space from the region
// provider, writes the new space as one free block inheriting the old
// epilogue's prev_alloc/prev_small bits, moves the epilogue past it, and
// coalesces the new block with its implicit-list predecessor if free.
//
// The old epilogue's word is reused as the new block's header, exactly as
// original_source/mm.c's extend_heap reuses the old epilogue word rather
// than allocating a fresh one: mem_sbrk(size) there returns the old break,
// which is the byte immediately after the old epilogue word, and the new
// block header is written one word behind that return value. So only
// reqSize additional bytes are requested here, not reqSize+WordSize.
func (a *Allocator) growHeap(minBytes uint64) error {
	reqSize := minBytes
	if reqSize < ChunkSize {
		reqSize = ChunkSize
	}
	reqSize = roundUp(reqSize, block.Align)

	oldEpilogue := a.epi
	off, ok := a.region.Extend(int64(reqSize))
	if !ok {
		return ErrOutOfMemory
	}
	newBlock := block.Header(off - block.WordSize)
	if newBlock != oldEpilogue {
		// The region grew somewhere other than the current break; this
		// would violate spec.md's "break grows monotonically, the core
		// always finds new space immediately past the old epilogue"
		// assumption.
		panic("heap: region provider did not extend at the current break")
	}

	oldEpWord := block.HeaderWord(a.region, oldEpilogue)
	block.WriteBlock(a.region, newBlock, reqSize, false, oldEpWord.PrevAlloc(), oldEpWord.PrevSmall())

	newEpilogue := block.Header(int64(newBlock) + int64(reqSize))
	a.region.WriteWord(int64(newEpilogue), uint64(block.Pack(0, true, false, false)))
	a.epi = newEpilogue

	a.coalesce(newBlock, reqSize)
	return nil
}

// coalesce merges a freshly-free block b (size bytes, header already
// written with the free bit clear and correct prev_alloc/prev_small
// bits, but not yet present in any free list) with any free implicit-
// list neighbors, following the four-case table of spec.md section 4.3,
// and leaves the resulting block inserted in the free index.
func (a *Allocator) coalesce(b block.Header, size uint64) block.Header {
	w := block.HeaderWord(a.region, b)
	prevAlloc, prevSmall := w.PrevAlloc(), w.PrevSmall()

	next := block.NextBlock(a.region, b)
	nextFree := !block.HeaderWord(a.region, next).Alloc()

	var prev block.Header
	prevFree := false
	if b != a.start && !prevAlloc {
		if prevSmall {
			prev = block.PrevMiniBlock(b)
		} else {
			prev = block.PrevBlock(a.region, b)
		}
		prevFree = true
	}

	switch {
	case !prevFree && !nextFree:
		a.free.Insert(a.region, b, size)
		return b

	case !prevFree && nextFree:
		nextSize := block.HeaderWord(a.region, next).Size()
		a.free.Remove(a.region, next, nextSize)
		merged := size + nextSize
		block.WriteBlock(a.region, b, merged, false, prevAlloc, prevSmall)
		a.free.Insert(a.region, b, merged)
		return b

	case prevFree && !nextFree:
		prevSize := block.HeaderWord(a.region, prev).Size()
		a.free.Remove(a.region, prev, prevSize)
		pw := block.HeaderWord(a.region, prev)
		merged := prevSize + size
		block.WriteBlock(a.region, prev, merged, false, pw.PrevAlloc(), pw.PrevSmall())
		a.free.Insert(a.region, prev, merged)
		return prev

	default: // prevFree && nextFree
		nextSize := block.HeaderWord(a.region, next).Size()
		a.free.Remove(a.region, next, nextSize)
		prevSize := block.HeaderWord(a.region, prev).Size()
		a.free.Remove(a.region, prev, prevSize)
		pw := block.HeaderWord(a.region, prev)
		merged := prevSize + size + nextSize
		block.WriteBlock(a.region, prev, merged, false, pw.PrevAlloc(), pw.PrevSmall())
		a.free.Insert(a.region, prev, merged)
		return prev
	}
}

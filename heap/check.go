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

import (
	"fmt"
	"strings"

	"github.com/segfit/segfit/block"
	"github.com/segfit/segfit/freelist"
)

// blockInfo is what the implicit-list walk remembers about each block,
// for cross-checking against the free-list walk afterwards.
type blockInfo struct {
	size  uint64
	alloc bool
}

// CheckHeap runs nine independent invariant checks against the implicit
// block list and every free list, and returns a single error describing
// every violation found, or nil if the heap is consistent. line is
// folded into the error text, the idiomatic replacement for the
// original mm_checkheap(int lineno)'s print-and-continue diagnostic
// style.
func (a *Allocator) CheckHeap(line int) error {
	var problems []string
	report := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	blocks := a.walkImplicitList(report)
	a.checkFreeLists(blocks, report)

	if len(problems) == 0 {
		return nil
	}
	return fmt.Errorf("heap: check_heap(%d): %d invariant violation(s):\n%s",
		line, len(problems), strings.Join(problems, "\n"))
}

// walkImplicitList checks invariants 1 (size), 2 (alignment), 3
// (boundary tags), 4 (no adjacent free blocks), and 5 (neighbor status
// bits), and returns every real block's size/alloc status for the
// free-list cross-check.
func (a *Allocator) walkImplicitList(report func(string, ...interface{})) map[block.Header]blockInfo {
	blocks := map[block.Header]blockInfo{}

	var prevHeader block.Header
	var prevAlloc bool
	var prevSize uint64
	hadPrev := false

	for h := a.start; h != a.epi; {
		w := block.HeaderWord(a.region, h)
		size := w.Size()

		if size == 0 || size%block.Align != 0 {
			report("block at offset %d: size %d is not a positive multiple of %d", h, size, block.Align)
			// A zero or corrupt size means NextBlock can't make progress;
			// stop walking rather than spin forever on the same offset.
			break
		}
		if block.PayloadOf(h)%block.Align != 0 {
			report("block at offset %d: payload address %d is not %d-byte aligned", h, block.PayloadOf(h), block.Align)
		}
		if !w.Alloc() && size > block.MinBlockSize {
			if fw := block.FooterWord(a.region, h, size); fw != w {
				report("block at offset %d: header %#x does not match footer %#x", h, uint64(w), uint64(fw))
			}
		}
		if hadPrev && !prevAlloc && !w.Alloc() {
			report("blocks at offset %d and %d are adjacent and both free", prevHeader, h)
		}
		if hadPrev {
			if w.PrevAlloc() != prevAlloc {
				report("block at offset %d: prev_alloc=%v but predecessor at %d has alloc=%v", h, w.PrevAlloc(), prevHeader, prevAlloc)
			}
			if w.PrevSmall() != (prevSize == block.MinBlockSize) {
				report("block at offset %d: prev_small=%v but predecessor at %d has size %d", h, w.PrevSmall(), prevHeader, prevSize)
			}
		}

		blocks[h] = blockInfo{size: size, alloc: w.Alloc()}
		prevHeader, prevAlloc, prevSize, hadPrev = h, w.Alloc(), size, true
		h = block.NextBlock(a.region, h)
	}
	return blocks
}

// checkFreeLists checks invariants 6 (free-list membership), 7 (doubly-
// linked list integrity), 8 (pointer bounds), and 9 (bucket range), by
// walking every bucket and the mini list and cross-referencing against
// the implicit-list walk's results.
func (a *Allocator) checkFreeLists(blocks map[block.Header]blockInfo, report func(string, ...interface{})) {
	low := a.region.Low() + block.WordSize
	high := int64(a.epi) - (block.WordSize - 1)
	inBounds := func(h block.Header) bool {
		return int64(h) >= low && int64(h) <= high
	}

	listed := map[block.Header]bool{}

	walkMini := func() {
		visited := map[block.Header]bool{}
		for h := a.free.Mini(); h != 0; h = freelist.MiniNext(a.region, h) {
			if visited[h] {
				report("mini free list has a cycle at offset %d", h)
				break
			}
			visited[h] = true
			if !inBounds(h) {
				report("mini free list pointer %d is out of heap bounds", h)
			}
			info, ok := blocks[h]
			if !ok || info.alloc {
				report("mini free list references offset %d, which is not a free block", h)
				continue
			}
			if info.size != block.MinBlockSize {
				report("mini free list holds block at offset %d with size %d, expected %d", h, info.size, block.MinBlockSize)
			}
			if listed[h] {
				report("block at offset %d appears on more than one free list", h)
			}
			listed[h] = true
		}
	}
	walkMini()

	buckets := a.free.Buckets()
	for i, head := range buckets {
		lo, hi := freelist.BucketRange(i)
		visited := map[block.Header]bool{}
		for h := head; h != 0; h = freelist.Next(a.region, h) {
			if visited[h] {
				report("bucket %d has a cycle at offset %d", i, h)
				break
			}
			visited[h] = true
			if !inBounds(h) {
				report("bucket %d pointer %d is out of heap bounds", i, h)
			}
			info, ok := blocks[h]
			if !ok || info.alloc {
				report("bucket %d references offset %d, which is not a free block", i, h)
				continue
			}
			if info.size < lo || (hi != 0 && info.size >= hi) {
				report("bucket %d holds block at offset %d with size %d, outside its declared range", i, h, info.size)
			}
			if listed[h] {
				report("block at offset %d appears on more than one free list", h)
			}
			listed[h] = true

			if next := freelist.Next(a.region, h); next != 0 {
				if back := freelist.Prev(a.region, next); back != h {
					report("bucket %d: node %d's next is %d, but that node's prev is %d, not %d", i, h, next, next, back)
				}
			}
		}
	}

	// invariant 6, other direction: every free implicit-list block must
	// appear on exactly one free list.
	for h, info := range blocks {
		if !info.alloc && !listed[h] {
			report("block at offset %d is free but absent from every free list", h)
		}
	}
}

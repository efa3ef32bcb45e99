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

// Package freelist implements the segregated free-list index: a fixed
// array of doubly-linked buckets for ordinary (size >= 32) free blocks,
// keyed by size class, plus one singly-linked list for 16-byte mini
// blocks that have no room for a back pointer.
//
// Nodes live inside the payload area of free blocks in the owning region;
// this package never allocates Go memory for list bookkeeping, it only
// reads and writes words through block.Mem.
package freelist

import "github.com/segfit/segfit/block"

const (
	// NumBuckets is the number of ordinary (size >= 32) segregated
	// buckets.
	NumBuckets = 14
	// MaxSize is the smallest size assigned to the top, catch-all
	// bucket; every size >= MaxSize lands in bucket NumBuckets-1.
	MaxSize = 16384

	// SearchLimit bounds the best-of-sample scan within a single bucket.
	SearchLimit = 10
)

// exactSizes are the declared exact-size classes for buckets 0..5.
var exactSizes = [6]uint64{32, 48, 64, 80, 96, 112}

// BucketFor returns the index of the bucket that holds free blocks of the
// given size. size must be >= 32 (mini blocks, size 16, are never kept in
// an ordinary bucket).
func BucketFor(size uint64) int {
	for i, s := range exactSizes {
		if size == s {
			return i
		}
	}
	// Powers-of-two buckets: bucket i (i >= 6) holds [2^(i+1), 2^(i+2)).
	// Equivalently, for class = size's position among powers of two
	// starting at 128 = 2^7: bucket 6 holds [128, 256), bucket 7 holds
	// [256, 512), ..., bucket 12 holds [8192, 16384), bucket 13 holds
	// everything >= 16384.
	if size >= MaxSize {
		return NumBuckets - 1
	}
	bucket := 6
	lo := uint64(128)
	for size >= lo*2 {
		lo *= 2
		bucket++
	}
	return bucket
}

// BucketRange reports the half-open size range [lo, hi) a bucket holds.
// hi is 0 for the top bucket, meaning "no upper bound".
func BucketRange(i int) (lo, hi uint64) {
	if i < 6 {
		return exactSizes[i], exactSizes[i] + 1
	}
	if i == NumBuckets-1 {
		return MaxSize, 0
	}
	lo = uint64(1) << uint(i+1)
	return lo, lo * 2
}

// Index is the segregated free-list index. The zero value is an empty
// index, ready to use.
type Index struct {
	buckets [NumBuckets]block.Header
	mini    block.Header
}

func readPtr(m block.Mem, addr int64) block.Header { return block.Header(m.ReadWord(addr)) }
func writePtr(m block.Mem, addr int64, h block.Header) { m.WriteWord(addr, uint64(h)) }

// Ordinary (size >= 32) free blocks store {next, prev} as the first two
// words of their payload.
func nextAddr(h block.Header) int64 { return block.PayloadOf(h) }
func prevAddr(h block.Header) int64 { return block.PayloadOf(h) + block.WordSize }

// Mini (size == 16) free blocks store only {next} as the first word of
// their payload.
func miniNextAddr(h block.Header) int64 { return block.PayloadOf(h) }

// Buckets returns the current head of each ordinary bucket, for use by
// the heap checker.
func (idx *Index) Buckets() [NumBuckets]block.Header { return idx.buckets }

// Mini returns the head of the mini list, for use by the heap checker.
func (idx *Index) Mini() block.Header { return idx.mini }

// Insert adds b, a free block of the given size, to the index. LIFO:
// it becomes the new head of its list.
func (idx *Index) Insert(m block.Mem, b block.Header, size uint64) {
	if size == block.MinBlockSize {
		writePtr(m, miniNextAddr(b), idx.mini)
		idx.mini = b
		return
	}
	bucket := BucketFor(size)
	head := idx.buckets[bucket]
	writePtr(m, nextAddr(b), head)
	writePtr(m, prevAddr(b), block.Header(0))
	if head != 0 {
		writePtr(m, prevAddr(head), b)
	}
	idx.buckets[bucket] = b
}

// Remove unlinks b, a free block of the given size, from the index.
// For ordinary buckets this is O(1); for the mini list it is O(n) unless
// b is the head, acceptable because the mini list stays short in
// practice.
func (idx *Index) Remove(m block.Mem, b block.Header, size uint64) {
	if size == block.MinBlockSize {
		idx.removeMini(m, b)
		return
	}
	bucket := BucketFor(size)
	next := readPtr(m, nextAddr(b))
	prev := readPtr(m, prevAddr(b))
	if prev != 0 {
		writePtr(m, nextAddr(prev), next)
	} else {
		idx.buckets[bucket] = next
	}
	if next != 0 {
		writePtr(m, prevAddr(next), prev)
	}
}

func (idx *Index) removeMini(m block.Mem, b block.Header) {
	if idx.mini == b {
		idx.mini = readPtr(m, miniNextAddr(b))
		return
	}
	cur := idx.mini
	for cur != 0 {
		next := readPtr(m, miniNextAddr(cur))
		if next == b {
			writePtr(m, miniNextAddr(cur), readPtr(m, miniNextAddr(b)))
			return
		}
		cur = next
	}
}

// FindFit scans, starting at the bucket for size, for a free block of at
// least size bytes, using a bounded best-of-sample search within each
// bucket: it looks at up to SearchLimit nodes in the starting bucket and
// returns the smallest fit found there; if none fit, it advances to the
// next bucket and repeats, again looking at up to SearchLimit nodes. A
// request of at most the minimum block size starts at bucket 0, since
// every ordinary bucket holds blocks large enough for it. It never
// consults the mini list; callers take the mini fast path separately.
func (idx *Index) FindFit(m block.Mem, size uint64) (block.Header, bool) {
	start := 0
	if size > block.MinBlockSize {
		start = BucketFor(size)
	}
	for bucket := start; bucket < NumBuckets; bucket++ {
		best, ok := idx.bestOfSample(m, bucket, size)
		if ok {
			return best, true
		}
	}
	return 0, false
}

func (idx *Index) bestOfSample(m block.Mem, bucket int, size uint64) (block.Header, bool) {
	var best block.Header
	var bestSize uint64
	found := false
	cur := idx.buckets[bucket]
	for i := 0; cur != 0 && i < SearchLimit; i++ {
		sz := block.HeaderWord(m, cur).Size()
		if sz >= size && (!found || sz < bestSize) {
			best, bestSize, found = cur, sz, true
		}
		cur = readPtr(m, nextAddr(cur))
	}
	return best, found
}

// Next returns the forward list pointer of an ordinary (size >= 32) free
// block, for use by the heap checker.
func Next(m block.Mem, h block.Header) block.Header { return readPtr(m, nextAddr(h)) }

// Prev returns the backward list pointer of an ordinary free block, for
// use by the heap checker.
func Prev(m block.Mem, h block.Header) block.Header { return readPtr(m, prevAddr(h)) }

// MiniNext returns the forward pointer of a mini (size == 16) free
// block, for use by the heap checker.
func MiniNext(m block.Mem, h block.Header) block.Header { return readPtr(m, miniNextAddr(h)) }

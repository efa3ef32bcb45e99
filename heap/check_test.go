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
	"testing"

	"github.com/segfit/segfit/block"
	"github.com/stretchr/testify/require"
)

func TestCheckHeapCleanAfterInit(t *testing.T) {
	a := newTestAllocator(t)
	require.NoError(t, a.CheckHeap(0))
}

func TestCheckHeapCatchesBadSize(t *testing.T) {
	a := newTestAllocator(t)
	w := block.HeaderWord(a.region, a.start)
	// Corrupt the real first block's size to zero — only legal for the
	// prologue/epilogue sentinels, never a real block.
	bad := block.Pack(0, w.Alloc(), w.PrevAlloc(), w.PrevSmall())
	a.region.WriteWord(int64(a.start), uint64(bad))

	err := a.CheckHeap(42)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a positive multiple of 16")
}

func TestCheckHeapCatchesAdjacentFreeBlocks(t *testing.T) {
	a := newTestAllocator(t)
	buf := a.Malloc(64)
	require.NotNil(t, buf)
	off := offsetOf(t, a, buf)
	h := headerForTest(off)

	// Directly flip the allocated block's alloc bit to free without
	// going through coalesce, simulating a checker-detectable corruption
	// (e.g. a hypothetical bug that forgets to coalesce).
	w := block.HeaderWord(a.region, h)
	a.region.WriteWord(int64(h), uint64(block.Pack(w.Size(), false, w.PrevAlloc(), w.PrevSmall())))

	err := a.CheckHeap(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "adjacent and both free")
}

func TestCheckHeapCatchesMismatchedFooter(t *testing.T) {
	a := newTestAllocator(t)
	buf := a.Malloc(2048)
	require.NotNil(t, buf)
	a.Free(buf)

	// Corrupt the footer of the now-free block without touching the
	// header.
	h := a.start
	w := block.HeaderWord(a.region, h)
	a.region.WriteWord(block.FooterAddr(h, w.Size()), uint64(w)+1)

	err := a.CheckHeap(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "does not match footer")
}

func TestCheckHeapCatchesOrphanedFreeBlock(t *testing.T) {
	a := newTestAllocator(t)
	buf := a.Malloc(2048)
	require.NotNil(t, buf)
	h := headerForTest(offsetOf(t, a, buf))

	// Mark it free in the implicit list but never insert it into any
	// free list — a bug the checker must catch.
	w := block.HeaderWord(a.region, h)
	block.WriteBlock(a.region, h, w.Size(), false, w.PrevAlloc(), w.PrevSmall())

	err := a.CheckHeap(0)
	require.Error(t, err)
	require.Contains(t, err.Error(), "absent from every free list")
}

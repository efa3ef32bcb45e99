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

package region

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestExtendGrowsMonotonically(t *testing.T) {
	r := NewMemRegion(0)
	require.Greater(t, r.Low(), r.High(), "empty region has no valid bytes")

	off1, ok := r.Extend(512)
	require.True(t, ok)
	require.Equal(t, int64(0), off1)
	require.Equal(t, int64(511), r.High())

	off2, ok := r.Extend(256)
	require.True(t, ok)
	require.Equal(t, int64(512), off2, "growth must append, never renumber")
	require.Equal(t, int64(767), r.High())
}

func TestExtendedBytesAreZeroed(t *testing.T) {
	r := NewMemRegion(0)
	r.Extend(64)
	for _, b := range r.Bytes(0, 64) {
		require.Equal(t, byte(0), b)
	}
}

func TestWordReadWriteRoundTrip(t *testing.T) {
	r := NewMemRegion(0)
	r.Extend(64)
	r.WriteWord(16, 0xDEADBEEFCAFED00D)
	require.Equal(t, uint64(0xDEADBEEFCAFED00D), r.ReadWord(16))
}

func TestExtendRejectsNonPositive(t *testing.T) {
	r := NewMemRegion(0)
	_, ok := r.Extend(0)
	require.False(t, ok)
	_, ok = r.Extend(-1)
	require.False(t, ok)
}

func TestExtendRespectsMaxSize(t *testing.T) {
	r := NewMemRegion(100)
	_, ok := r.Extend(64)
	require.True(t, ok)
	_, ok = r.Extend(64)
	require.False(t, ok, "extending past maxSize must report out of memory")
}

func TestBytesViewIsMutable(t *testing.T) {
	r := NewMemRegion(0)
	r.Extend(32)
	view := r.Bytes(0, 32)
	for i := range view {
		view[i] = 0xAB
	}
	for _, b := range r.Bytes(0, 32) {
		require.Equal(t, byte(0xAB), b)
	}
}

func TestOffsetOfRecoversPayloadAddress(t *testing.T) {
	r := NewMemRegion(0)
	r.Extend(256)
	view := r.Bytes(100, 16)
	off, ok := r.OffsetOf(view)
	require.True(t, ok)
	require.Equal(t, int64(100), off)
}

func TestOffsetOfRejectsForeignSlice(t *testing.T) {
	r := NewMemRegion(0)
	r.Extend(256)
	foreign := make([]byte, 16)
	_, ok := r.OffsetOf(foreign)
	require.False(t, ok)
}

func TestCommittedBytesSurviveGrowth(t *testing.T) {
	r := NewMemRegion(0)
	r.Extend(16)
	r.WriteWord(0, 42)
	// Extend repeatedly, well past what an old realloc-and-copy scheme
	// would have needed to relocate the backing array at.
	for i := 0; i < 10; i++ {
		r.Extend(4096)
	}
	require.Equal(t, uint64(42), r.ReadWord(0))
}

func TestBytesViewStableAcrossFurtherExtend(t *testing.T) {
	r := NewMemRegion(0)
	r.Extend(16)
	view := r.Bytes(0, 16)
	view[0] = 0xAB
	for i := 0; i < 8; i++ {
		r.Extend(4096)
	}
	require.Equal(t, byte(0xAB), view[0], "a payload slice handed out before growth must stay valid after growth")
	off, ok := r.OffsetOf(view)
	require.True(t, ok)
	require.Equal(t, int64(0), off)
}

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

func nextForTest(a *Allocator, h block.Header) block.Header {
	return block.NextBlock(a.region, h)
}

func isFree(a *Allocator, h block.Header) bool {
	return !block.HeaderWord(a.region, h).Alloc()
}

func headerForTest(off int64) block.Header {
	return block.HeaderOf(off)
}

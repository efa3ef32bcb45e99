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

import "errors"

// ErrOutOfMemory is returned, directly or wrapped, when the region
// provider refuses to extend the heap. It is never returned for a zero-size request,
// which is a no-op by contract, not an allocation failure.
var ErrOutOfMemory = errors.New("heap: out of memory")

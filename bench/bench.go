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

// Package bench replays a trace.Trace against a heap.Allocator and
// reports the two competing metrics spec.md section 1 asks for:
// throughput (requests per second) and utilization (peak payload bytes
// divided by peak heap size).
package bench

import (
	"fmt"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/segfit/segfit/heap"
	"github.com/segfit/segfit/region"
	"github.com/segfit/segfit/trace"
)

// Result is the outcome of replaying a single trace.
type Result struct {
	Name        string
	Ops         int
	Elapsed     time.Duration
	PeakPayload uint64
	PeakBreak   int64
	CheckErr    error
}

// Throughput returns operations per second.
func (r Result) Throughput() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// Utilization returns the fraction of the peak heap break that was ever
// live payload bytes, in [0, 1]. Returns 0 if the heap never grew.
func (r Result) Utilization() float64 {
	if r.PeakBreak <= 0 {
		return 0
	}
	return float64(r.PeakPayload) / float64(r.PeakBreak)
}

// Options configures a single trace replay.
type Options struct {
	// Check, if true, runs a.CheckHeap after every operation. Expensive;
	// meant for validating a trace, not for measuring throughput.
	Check bool
	// MaxHeap bounds the region a replay allocates into (0 = unbounded).
	MaxHeap int64
}

// Run replays every operation in t against a freshly created allocator,
// in order, and reports throughput and utilization.
func Run(t *trace.Trace, opts Options) (Result, error) {
	a, err := heap.New(region.NewMemRegion(opts.MaxHeap))
	if err != nil {
		return Result{}, fmt.Errorf("bench: %s: creating allocator: %w", t.Name, err)
	}

	live := make(map[uint32][]byte, t.NumIDs)
	var livePayload, peakPayload uint64
	var peakBreak int64

	res := Result{Name: t.Name, Ops: len(t.Ops)}

	start := time.Now()
	for i, op := range t.Ops {
		switch op.Type {
		case trace.Alloc:
			buf := a.Malloc(int(op.Size))
			if buf == nil && op.Size > 0 {
				return res, fmt.Errorf("bench: %s: op %d (line %d): alloc of %d bytes failed", t.Name, i, op.Line, op.Size)
			}
			live[op.Index] = buf
			livePayload += uint64(len(buf))
		case trace.Realloc:
			buf := a.Realloc(live[op.Index], int(op.Size))
			if buf == nil && op.Size > 0 {
				return res, fmt.Errorf("bench: %s: op %d (line %d): realloc of %d bytes failed", t.Name, i, op.Line, op.Size)
			}
			livePayload -= uint64(len(live[op.Index]))
			live[op.Index] = buf
			livePayload += uint64(len(buf))
		case trace.Free:
			a.Free(live[op.Index])
			livePayload -= uint64(len(live[op.Index]))
			delete(live, op.Index)
		}

		if livePayload > peakPayload {
			peakPayload = livePayload
		}
		if brk := a.Break(); brk > peakBreak {
			peakBreak = brk
		}
		if opts.Check {
			if err := a.CheckHeap(op.Line); err != nil {
				res.CheckErr = err
				break
			}
		}
	}
	res.Elapsed = time.Since(start)
	res.PeakPayload = peakPayload
	res.PeakBreak = peakBreak
	return res, nil
}

// Report formats a slice of Results as a human-readable table, using
// locale-aware number grouping the way the teacher leaves room for via
// its indirect golang.org/x/text dependency.
func Report(results []Result) string {
	p := message.NewPrinter(language.English)
	var out string
	for _, r := range results {
		out += p.Sprintf("%-24s ops=%d  %12.0f ops/s  util=%.1f%%\n",
			r.Name, r.Ops, r.Throughput(), r.Utilization()*100)
		if r.CheckErr != nil {
			out += p.Sprintf("  check failed: %v\n", r.CheckErr)
		}
	}
	return out
}

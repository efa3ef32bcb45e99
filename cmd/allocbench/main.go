// Command allocbench replays one or more allocator trace files and
// reports throughput and utilization for each.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/segfit/segfit/bench"
	"github.com/segfit/segfit/trace"
)

// scenario names a sequence of trace files to run together, with an
// optional heap cap, for reuse across benchmark invocations instead of
// repeating -trace flags.
type scenario struct {
	MaxHeap int64    `yaml:"max_heap"`
	Traces  []string `yaml:"traces"`
}

func main() {
	traceFlag := flag.String("trace", "", "path to a single trace file")
	scenarioFlag := flag.String("scenario", "", "path to a YAML scenario file listing trace files")
	check := flag.Bool("check", false, "run the heap consistency checker after every operation")
	maxHeap := flag.Int64("max-heap", 0, "bound the heap size in bytes (0 = unbounded)")
	verbose := flag.Bool("verbose", false, "print per-trace progress")
	flag.Parse()

	files, maxBytes, err := resolveFiles(*traceFlag, *scenarioFlag, *maxHeap)
	if err != nil {
		log.Fatalf("allocbench: %v", err)
	}
	if len(files) == 0 {
		fmt.Println("Usage: allocbench -trace <file> | -scenario <file.yaml> [-check] [-max-heap N] [-verbose]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	var results []bench.Result
	for _, f := range files {
		if *verbose {
			log.Printf("allocbench: running %s", f)
		}
		r, err := runOne(f, bench.Options{Check: *check, MaxHeap: maxBytes})
		if err != nil {
			log.Fatalf("allocbench: %v", err)
		}
		results = append(results, r)
	}

	fmt.Print(bench.Report(results))
}

func resolveFiles(traceFile, scenarioFile string, maxHeap int64) ([]string, int64, error) {
	switch {
	case scenarioFile != "":
		raw, err := os.ReadFile(scenarioFile)
		if err != nil {
			return nil, 0, fmt.Errorf("reading scenario %s: %w", scenarioFile, err)
		}
		var sc scenario
		if err := yaml.Unmarshal(raw, &sc); err != nil {
			return nil, 0, fmt.Errorf("parsing scenario %s: %w", scenarioFile, err)
		}
		if sc.MaxHeap > 0 {
			maxHeap = sc.MaxHeap
		}
		return sc.Traces, maxHeap, nil
	case traceFile != "":
		return []string{traceFile}, maxHeap, nil
	default:
		return nil, maxHeap, nil
	}
}

func runOne(path string, opts bench.Options) (bench.Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return bench.Result{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			log.Printf("allocbench: closing %s: %v", path, err)
		}
	}()

	t, err := trace.Read(f, path)
	if err != nil {
		return bench.Result{}, err
	}
	return bench.Run(t, opts)
}

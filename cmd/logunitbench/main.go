// Command logunitbench append-loads a freshly opened log unit and reports
// write throughput, mirroring the teacher's own bench binary.
package main

import (
	"flag"
	"log"

	"github.com/corfudb-go/logunit/pkg/bench"
	"github.com/corfudb-go/logunit/pkg/config"
	"github.com/corfudb-go/logunit/pkg/engine"
	"github.com/corfudb-go/logunit/pkg/metrics"
)

func main() {
	logDir := flag.String("log-dir", "logunit-bench-data", "Root directory for segment files and metadata")
	recordsPerSegment := flag.Uint64("records-per-segment", 10000, "Addresses per segment file")
	writers := flag.Int("writers", 8, "number of concurrent writer goroutines")
	entries := flag.Int("entries", 10000, "entries appended per writer")
	payloadBytes := flag.Int("payload-bytes", 128, "payload size per entry, in bytes")
	quotaBytes := flag.Int64("quota-bytes", 0, "disk quota in bytes (0 = unbounded)")
	flag.Parse()

	cfg := &config.Config{
		LogDir:            *logDir,
		RecordsPerSegment: *recordsPerSegment,
		QuotaBytes:        *quotaBytes,
	}
	cfg.Normalize()

	e, err := engine.Open(cfg, metrics.Noop)
	if err != nil {
		log.Fatalf("failed to open log unit at %s: %v", *logDir, err)
	}
	defer e.Close()

	runner := bench.NewRunner(e, *writers, *entries, *payloadBytes, cfg.RecordsPerSegment)
	runner.Run()
}

package metrics_test

import (
	"testing"
	"time"

	"github.com/corfudb-go/logunit/pkg/metrics"
)

func TestNoopRecorderIsSafeToCall(t *testing.T) {
	var rec metrics.Recorder = metrics.Noop
	rec.RecordAppend(128, time.Millisecond)
	rec.RecordOverwrite("DIFFERENT_DATA")
	rec.RecordQuotaUsage(1024, 4096)
	rec.RecordSegmentCount(3)
	rec.RecordTrimMark(99)
}

func TestNewGoMetricsRecorderInstalls(t *testing.T) {
	rec, err := metrics.NewGoMetricsRecorder("logunit-test")
	if err != nil {
		t.Fatalf("NewGoMetricsRecorder: %v", err)
	}
	rec.RecordAppend(64, time.Microsecond)
	rec.RecordQuotaUsage(10, 100)
}

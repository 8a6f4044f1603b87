package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/common"
	"github.com/KiborgBeliash/web-service-vuz-rf/pkg/normalize"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveRun(t *testing.T) {
	m := New()
	at := time.Unix(1700000000, 0)

	m.ObserveRun("replaced", at)
	m.ObserveRun("failed", at.Add(time.Hour))
	m.ObserveRun("replaced", at)

	if got := testutil.ToFloat64(m.runs.WithLabelValues("replaced")); got != 2 {
		t.Fatalf("expected 2 replaced runs, got %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("failed")); got != 1 {
		t.Fatalf("expected 1 failed run, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccess); got != float64(at.Unix()) {
		t.Fatalf("expected failed runs not to move last success, got %v", got)
	}
}

func TestObserveParseAndSnapshot(t *testing.T) {
	m := New()
	m.ObserveParse(normalize.Stats{DanglingAssociations: 3, DuplicatePrograms: 2})
	m.ObserveSnapshot(common.SnapshotInfo{Generation: 7, Organizations: 10, Programs: 20, Associations: 30})

	if got := testutil.ToFloat64(m.dangling); got != 3 {
		t.Fatalf("expected 3 dangling, got %v", got)
	}
	if got := testutil.ToFloat64(m.duplicates.WithLabelValues("program")); got != 2 {
		t.Fatalf("expected 2 duplicate programs, got %v", got)
	}
	if got := testutil.ToFloat64(m.generation); got != 7 {
		t.Fatalf("expected generation 7, got %v", got)
	}
	if got := testutil.ToFloat64(m.records.WithLabelValues("association")); got != 30 {
		t.Fatalf("expected 30 associations, got %v", got)
	}
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveStage("parse", 2*time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)

	if rec.Code != 200 {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if !strings.Contains(string(body), `registry_ingest_stage_duration_seconds_count{stage="parse"} 1`) {
		t.Fatalf("expected stage histogram in output, got:\n%s", body)
	}
}

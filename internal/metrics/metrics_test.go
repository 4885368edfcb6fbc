package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/sitelayout/internal/storage"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRouterExposesMetrics(t *testing.T) {
	RecordCapture(&storage.Screenshot{
		ScrollHeight: 4000,
		Elapsed:      12 * time.Second,
		DetectionSrc: "cloudflare",
	})
	RecordDecision("kept")
	ObserveDistance(42)
	RecordOracleRequest("200", 300*time.Millisecond)
	RecordCacheLookup(true)
	RecordImport("created")
	ObserveStage("dedup", time.Second, errors.New("boom"))

	srv := httptest.NewServer(Router())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("failed to fetch metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read body: %v", err)
	}
	output := string(body)

	for _, want := range []string{
		`sitelayout_captures_total{detection_src="cloudflare",exceeded_height="false",status="ok"}`,
		"sitelayout_capture_duration_seconds_bucket",
		`sitelayout_dedup_decisions_total{outcome="kept"}`,
		"sitelayout_oracle_distance_bucket",
		`sitelayout_oracle_requests_total{status="200"}`,
		`sitelayout_oracle_cache_total{result="hit"}`,
		`sitelayout_sites_imported_total{result="created"}`,
		`sitelayout_stage_duration_seconds_count{stage="dedup",status="error"}`,
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %s in metrics output", want)
		}
	}
}

func TestRecordDecisionCounts(t *testing.T) {
	before := testutil.ToFloat64(DecisionsTotal.WithLabelValues("dropped"))
	RecordDecision("dropped")
	RecordDecision("dropped")
	after := testutil.ToFloat64(DecisionsTotal.WithLabelValues("dropped"))

	if after-before != 2 {
		t.Errorf("expected 2 new dropped decisions, got %v", after-before)
	}
}

func TestRecordCaptureFailed(t *testing.T) {
	before := testutil.ToFloat64(CapturesTotal.WithLabelValues("failed", "false", ""))
	RecordCapture(&storage.Screenshot{Failed: true})
	RecordCapture(nil)
	after := testutil.ToFloat64(CapturesTotal.WithLabelValues("failed", "false", ""))

	if after-before != 1 {
		t.Errorf("expected 1 failed capture, got %v", after-before)
	}
}

func TestHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if strings.TrimSpace(rec.Body.String()) != "ok" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
}

func TestServerStartStop(t *testing.T) {
	srv, err := Start("127.0.0.1:0", nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	resp, err := http.Get("http://" + srv.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("failed to reach server: %v", err)
	}
	resp.Body.Close()

	if err := srv.Stop(context.Background()); err != nil {
		t.Errorf("stop: %v", err)
	}

	var nilServer *Server
	if err := nilServer.Stop(context.Background()); err != nil {
		t.Errorf("nil stop: %v", err)
	}
}

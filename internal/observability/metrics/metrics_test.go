package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestAssetProcessedCounts(t *testing.T) {
	recorder := New()

	recorder.AssetProcessed("video", "done")
	recorder.AssetProcessed("video", "done")
	recorder.AssetProcessed("Image ", "FAILED")

	if got := testutil.ToFloat64(recorder.assetsProcessed.WithLabelValues("video", "done")); got != 2 {
		t.Fatalf("expected 2 video/done, got %v", got)
	}
	if got := testutil.ToFloat64(recorder.assetsProcessed.WithLabelValues("image", "failed")); got != 1 {
		t.Fatalf("expected normalized image/failed count 1, got %v", got)
	}
}

func TestActiveJobsGauge(t *testing.T) {
	recorder := New()

	recorder.JobStarted()
	recorder.JobStarted()
	recorder.JobFinished()

	if got := testutil.ToFloat64(recorder.activeJobs); got != 1 {
		t.Fatalf("expected active jobs 1, got %v", got)
	}
}

func TestHandlerServesRegistry(t *testing.T) {
	recorder := New()
	recorder.RetryScheduled("audio", "infrastructure")
	recorder.ObserveRendition("360p", 12*time.Second)
	recorder.PlayableReached()

	server := httptest.NewServer(recorder.Handler())
	t.Cleanup(server.Close)

	resp, err := http.Get(server.URL)
	if err != nil {
		t.Fatalf("scrape failed: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	text := string(body)
	for _, metric := range []string{
		"pipeline_retries_scheduled_total",
		"pipeline_rendition_transcode_seconds",
		"pipeline_playable_signals_total",
	} {
		if !strings.Contains(text, metric) {
			t.Fatalf("expected exposition to include %s, got:\n%s", metric, text)
		}
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var recorder *Recorder
	recorder.AssetProcessed("video", "done")
	recorder.RetryScheduled("video", "infrastructure")
	recorder.ObserveRendition("360p", time.Second)
	recorder.JobStarted()
	recorder.JobFinished()
	recorder.PlayableReached()
}

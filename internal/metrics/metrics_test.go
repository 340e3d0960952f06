package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"digitflow/logger"
)

func TestHandlerExposesCollectors(t *testing.T) {
	Init()
	ObserveTick("R_10", "volatility", 2.1, 36.8)
	IncrementPublish("sqlite", true)
	IncrementReconnect()

	srv := httptest.NewServer(Handler())
	defer srv.Close()

	res, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	for _, name := range []string{"digitflow_ticks_total", "digitflow_quality_score", "digitflow_publish_total", "digitflow_stream_reconnects_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing from output", name)
		}
	}

	ForgetSymbol("R_10")
}

func TestReportWriter(t *testing.T) {
	ReportWriter(logger.Logger(), "sqlite_sink", WriterStats{RecordsWritten: 4, ErrorsCount: 1, QueueLen: 2, QueueCap: 8})
}

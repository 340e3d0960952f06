// Registers:
//
//	#digitflow_ticks_total
//	#digitflow_publish_total
//	#digitflow_publish_dropped_total
//	#digitflow_stream_reconnects_total
//	#digitflow_frames_dropped_total
//	#digitflow_entropy_bits, #digitflow_quality_score
//	#go_* and process_* system metrics
//
// Handler exposes them for the dashboard's /metrics route.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	once             sync.Once
	registry         = prometheus.NewRegistry()
	ticksTotal       *prometheus.CounterVec
	publishTotal     *prometheus.CounterVec
	publishDropped   *prometheus.CounterVec
	streamReconnects prometheus.Counter
	framesDropped    *prometheus.CounterVec
	entropyGauge     *prometheus.GaugeVec
	qualityGauge     *prometheus.GaugeVec
)

func Init() {
	once.Do(func() {
		ticksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitflow_ticks_total",
				Help: "Number of samples pushed into instrument windows",
			},
			[]string{"symbol", "engine"},
		)
		publishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitflow_publish_total",
				Help: "Publish attempts per sink and result",
			},
			[]string{"sink", "result"},
		)
		publishDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitflow_publish_dropped_total",
				Help: "Records dropped because the publish queue was full",
			},
			[]string{"symbol"},
		)
		streamReconnects = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "digitflow_stream_reconnects_total",
			Help: "Upstream websocket reconnection attempts",
		})
		framesDropped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "digitflow_frames_dropped_total",
				Help: "Inbound frames that could not be decoded or routed",
			},
			[]string{"reason"},
		)
		entropyGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "digitflow_entropy_bits",
				Help: "Current window entropy per instrument",
			},
			[]string{"symbol"},
		)
		qualityGauge = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "digitflow_quality_score",
				Help: "Current quality score per instrument",
			},
			[]string{"symbol"},
		)

		registry.MustRegister(ticksTotal, publishTotal, publishDropped, streamReconnects, framesDropped, entropyGauge, qualityGauge)
		_ = registry.Register(collectors.NewGoCollector())
		_ = registry.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

func ObserveTick(symbol, engine string, entropy, quality float64) {
	if ticksTotal == nil {
		return
	}
	ticksTotal.WithLabelValues(symbol, engine).Inc()
	entropyGauge.WithLabelValues(symbol).Set(entropy)
	qualityGauge.WithLabelValues(symbol).Set(quality)
}

func IncrementPublish(sink string, ok bool) {
	if publishTotal == nil {
		return
	}
	result := "success"
	if !ok {
		result = "error"
	}
	publishTotal.WithLabelValues(sink, result).Inc()
}

func IncrementPublishDropped(symbol string) {
	if publishDropped != nil {
		publishDropped.WithLabelValues(symbol).Inc()
	}
}

func IncrementReconnect() {
	if streamReconnects != nil {
		streamReconnects.Inc()
	}
}

func IncrementFrameDropped(reason string) {
	if framesDropped != nil {
		framesDropped.WithLabelValues(reason).Inc()
	}
}

// ForgetSymbol removes the per-instrument gauges after the instrument stops being tracked.
func ForgetSymbol(symbol string) {
	if entropyGauge == nil {
		return
	}
	entropyGauge.DeleteLabelValues(symbol)
	qualityGauge.DeleteLabelValues(symbol)
}

package metrics

import "digitflow/logger"

// DropMetric identifies the metric name emitted when data is discarded.
type DropMetric string

const (
	// DropMetricPublishQueue records records dropped because the publish queue was full.
	DropMetricPublishQueue DropMetric = "publish_records_dropped"
	// DropMetricMalformedFrame records inbound frames that failed to decode.
	DropMetricMalformedFrame DropMetric = "malformed_frames_dropped"
	// DropMetricUnknownSymbol records events for instruments that are not tracked.
	DropMetricUnknownSymbol DropMetric = "untracked_events_dropped"
	// DropMetricArchiveBuffer records ticks dropped by the archive buffer.
	DropMetricArchiveBuffer DropMetric = "archive_ticks_dropped"
)

// EmitDropMetric logs and emits one dropped item. Symbol and stage are added
// to the metric fields when provided.
func EmitDropMetric(log *logger.Log, metric DropMetric, symbol, stage string) {
	fields := logger.Fields{}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if stage != "" {
		fields["stage"] = stage
	}

	switch metric {
	case DropMetricPublishQueue:
		IncrementPublishDropped(symbol)
	case DropMetricMalformedFrame, DropMetricUnknownSymbol:
		IncrementFrameDropped(string(metric))
	}

	EmitMetric(log, "drops", string(metric), 1, "counter", fields)
}

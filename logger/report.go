package logger

import (
	"context"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var (
	streamErrors  int64
	streamWarns   int64
	publishErrors int64
	publishWarns  int64
	ticksDone     int64
	publishesDone int64
	reconnects    int64
	framesDropped int64
)

func recordWarn(component string) {
	switch {
	case strings.Contains(component, "stream"):
		atomic.AddInt64(&streamWarns, 1)
	case strings.Contains(component, "publish"), strings.Contains(component, "sink"):
		atomic.AddInt64(&publishWarns, 1)
	}
}

func recordError(component string) {
	switch {
	case strings.Contains(component, "stream"):
		atomic.AddInt64(&streamErrors, 1)
	case strings.Contains(component, "publish"), strings.Contains(component, "sink"):
		atomic.AddInt64(&publishErrors, 1)
	}
}

func IncrementTicks() {
	atomic.AddInt64(&ticksDone, 1)
}

func IncrementPublishes() {
	atomic.AddInt64(&publishesDone, 1)
}

func IncrementReconnects() {
	atomic.AddInt64(&reconnects, 1)
}

func IncrementDroppedFrames() {
	atomic.AddInt64(&framesDropped, 1)
}

// ReportCounters is a point-in-time copy of the pipeline counters.
type ReportCounters struct {
	Ticks         int64
	Publishes     int64
	Reconnects    int64
	DroppedFrames int64
	StreamErrors  int64
	PublishErrors int64
}

func Counters() ReportCounters {
	return ReportCounters{
		Ticks:         atomic.LoadInt64(&ticksDone),
		Publishes:     atomic.LoadInt64(&publishesDone),
		Reconnects:    atomic.LoadInt64(&reconnects),
		DroppedFrames: atomic.LoadInt64(&framesDropped),
		StreamErrors:  atomic.LoadInt64(&streamErrors),
		PublishErrors: atomic.LoadInt64(&publishErrors),
	}
}

// StartReport begins periodic logging of runtime and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.PercentWithContext(ctx, 0, false)
	memStats, _ := mem.VirtualMemoryWithContext(ctx)

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}
	memMB := 0.0
	if memStats != nil {
		memMB = float64(memStats.Used) / 1024 / 1024
	}

	c := Counters()
	log.WithComponent("report").WithFields(Fields{
		"ticks":          c.Ticks,
		"publishes":      c.Publishes,
		"reconnects":     c.Reconnects,
		"dropped_frames": c.DroppedFrames,
		"stream_errors":  c.StreamErrors,
		"stream_warns":   atomic.LoadInt64(&streamWarns),
		"publish_errors": c.PublishErrors,
		"publish_warns":  atomic.LoadInt64(&publishWarns),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memMB),
	}).Info("runtime report")

	publishMetrics(ctx, []cwtypes.MetricDatum{
		{MetricName: aws.String("TicksProcessed"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(c.Ticks))},
		{MetricName: aws.String("Publishes"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(c.Publishes))},
		{MetricName: aws.String("PublishErrors"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(c.PublishErrors))},
		{MetricName: aws.String("StreamReconnects"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(c.Reconnects))},
		{MetricName: aws.String("DroppedFrames"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(c.DroppedFrames))},
		{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(memMB)},
	})
}

package observe

import (
	"context"
	"fmt"
	"os"
	"runtime"

	"github.com/shirou/gopsutil/v3/process"
	"go.opentelemetry.io/otel/metric"
)

// RegisterProcessMetrics registers observable gauges for this process's
// resident memory, CPU usage and goroutine count on mp. The values are
// sampled through gopsutil whenever the meter provider is collected.
func RegisterProcessMetrics(mp metric.MeterProvider) error {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return fmt.Errorf("observe: inspect process: %w", err)
	}
	m := mp.Meter(meterName)

	rss, err := m.Int64ObservableGauge("framecast.process.memory.rss",
		metric.WithDescription("Resident set size of the framecast process."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return err
	}
	cpu, err := m.Float64ObservableGauge("framecast.process.cpu.percent",
		metric.WithDescription("CPU usage of the framecast process since the previous sample."),
		metric.WithUnit("%"),
	)
	if err != nil {
		return err
	}
	goroutines, err := m.Int64ObservableGauge("framecast.process.goroutines",
		metric.WithDescription("Number of live goroutines."),
	)
	if err != nil {
		return err
	}

	_, err = m.RegisterCallback(func(ctx context.Context, o metric.Observer) error {
		if mem, err := proc.MemoryInfoWithContext(ctx); err == nil {
			o.ObserveInt64(rss, int64(mem.RSS))
		}
		if pct, err := proc.PercentWithContext(ctx, 0); err == nil {
			o.ObserveFloat64(cpu, pct)
		}
		o.ObserveInt64(goroutines, int64(runtime.NumGoroutine()))
		return nil
	}, rss, cpu, goroutines)
	return err
}

package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
)

type pathStat struct {
	cycles int64
	errors int64
}

var (
	errorsSweep      int64
	errorsEvent      int64
	warnsSweep       int64
	warnsEvent       int64
	offerReads       int64
	priceSubmissions int64
	storeWrites      int64
	epochConflicts   int64
	droppedEvents    int64
	skippedListings  int64
	paths            sync.Map // map[string]*pathStat
)

func recordWarn(component string) {
	if strings.Contains(component, "sweep") {
		atomic.AddInt64(&warnsSweep, 1)
	} else if strings.Contains(component, "event") {
		atomic.AddInt64(&warnsEvent, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "sweep") {
		atomic.AddInt64(&errorsSweep, 1)
	} else if strings.Contains(component, "event") {
		atomic.AddInt64(&errorsEvent, 1)
	}
}

func IncrementOfferRead() {
	atomic.AddInt64(&offerReads, 1)
}

func IncrementPriceSubmission() {
	atomic.AddInt64(&priceSubmissions, 1)
}

func IncrementStoreWrite() {
	atomic.AddInt64(&storeWrites, 1)
}

func IncrementEpochConflict() {
	atomic.AddInt64(&epochConflicts, 1)
}

func IncrementDroppedEvent() {
	atomic.AddInt64(&droppedEvents, 1)
}

func IncrementSkippedListing() {
	atomic.AddInt64(&skippedListings, 1)
}

// RecordCycle tallies one completed decision cycle for the named trigger path
// ("sweep" or "event"), with failed marking cycles that surfaced an error.
func RecordCycle(path string, failed bool) {
	v, _ := paths.LoadOrStore(path, &pathStat{})
	ps := v.(*pathStat)
	atomic.AddInt64(&ps.cycles, 1)
	if failed {
		atomic.AddInt64(&ps.errors, 1)
	}
}

// PathCounters are the per-trigger-path cycle tallies.
type PathCounters struct {
	Cycles int64 `json:"cycles"`
	Errors int64 `json:"errors"`
}

// CounterSnapshot is a point-in-time view of the process counters.
type CounterSnapshot struct {
	ErrorsSweep      int64                   `json:"errors_sweep"`
	ErrorsEvent      int64                   `json:"errors_event"`
	WarnsSweep       int64                   `json:"warns_sweep"`
	WarnsEvent       int64                   `json:"warns_event"`
	OfferReads       int64                   `json:"offer_reads"`
	PriceSubmissions int64                   `json:"price_submissions"`
	StoreWrites      int64                   `json:"store_writes"`
	EpochConflicts   int64                   `json:"epoch_conflicts"`
	DroppedEvents    int64                   `json:"dropped_events"`
	SkippedListings  int64                   `json:"skipped_listings"`
	Goroutines       int                     `json:"goroutines"`
	Paths            map[string]PathCounters `json:"paths"`
}

// Counters returns the current process counters. Used by the status server.
func Counters() CounterSnapshot {
	snap := CounterSnapshot{
		ErrorsSweep:      atomic.LoadInt64(&errorsSweep),
		ErrorsEvent:      atomic.LoadInt64(&errorsEvent),
		WarnsSweep:       atomic.LoadInt64(&warnsSweep),
		WarnsEvent:       atomic.LoadInt64(&warnsEvent),
		OfferReads:       atomic.LoadInt64(&offerReads),
		PriceSubmissions: atomic.LoadInt64(&priceSubmissions),
		StoreWrites:      atomic.LoadInt64(&storeWrites),
		EpochConflicts:   atomic.LoadInt64(&epochConflicts),
		DroppedEvents:    atomic.LoadInt64(&droppedEvents),
		SkippedListings:  atomic.LoadInt64(&skippedListings),
		Goroutines:       runtime.NumGoroutine(),
		Paths:            map[string]PathCounters{},
	}
	paths.Range(func(k, v any) bool {
		ps := v.(*pathStat)
		snap.Paths[k.(string)] = PathCounters{
			Cycles: atomic.LoadInt64(&ps.cycles),
			Errors: atomic.LoadInt64(&ps.errors),
		}
		return true
	})
	return snap
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and pipeline statistics.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")

	pathData := map[string]map[string]int64{}
	paths.Range(func(k, v any) bool {
		name := k.(string)
		ps := v.(*pathStat)
		pathData[name] = map[string]int64{
			"cycles": atomic.LoadInt64(&ps.cycles),
			"errors": atomic.LoadInt64(&ps.errors),
		}
		return true
	})

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	fields := Fields{
		"errors_sweep":      atomic.LoadInt64(&errorsSweep),
		"errors_event":      atomic.LoadInt64(&errorsEvent),
		"warns_sweep":       atomic.LoadInt64(&warnsSweep),
		"warns_event":       atomic.LoadInt64(&warnsEvent),
		"offer_reads":       atomic.LoadInt64(&offerReads),
		"price_submissions": atomic.LoadInt64(&priceSubmissions),
		"store_writes":      atomic.LoadInt64(&storeWrites),
		"epoch_conflicts":   atomic.LoadInt64(&epochConflicts),
		"dropped_events":    atomic.LoadInt64(&droppedEvents),
		"skipped_listings":  atomic.LoadInt64(&skippedListings),
		"goroutines":        runtime.NumGoroutine(),
		"cpu_percent":       cpuPct,
		"memory_mb":         int64(memStats.Used) / 1024 / 1024,
		"disk_mb":           int64(diskStats.Used) / 1024 / 1024,
		"paths":             pathData,
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsSweep"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_sweep"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("ErrorsEvent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["errors_event"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsSweep"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_sweep"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("WarnsEvent"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["warns_event"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("OfferReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["offer_reads"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("PriceSubmissions"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["price_submissions"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("StoreWrites"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["store_writes"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("EpochConflicts"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["epoch_conflicts"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("DroppedEvents"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["dropped_events"].(int64)))},
		cwtypes.MetricDatum{MetricName: aws.String("SkippedListings"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(fields["skipped_listings"].(int64)))},
	)

	for name, stats := range pathData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("DecisionCycles"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Path"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["cycles"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("DecisionCycleErrors"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Path"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["errors"])),
			},
		)
	}

	publishMetrics(ctx, data)
}

package metrics

import (
	"errors"
	"path/filepath"
	"sync"
	"time"

	"github.com/nakabonne/tstorage"
)

const (
	MetricsOrdersPlaced     = "shop_orders_placed"
	MetricsOrderRevenue     = "shop_order_revenue"
	MetricsCheckoutFailures = "shop_checkout_failures"
	MetricsOrdersCancelled  = "shop_orders_cancelled"
	MetricsProcessMemory    = "shop_process_rss_mb"
	MetricsProcessCPU       = "shop_process_cpu_percent"
)

var (
	storage tstorage.Storage
	mu      sync.RWMutex
)

// InitMetrics opens the time series store under <workdir>/data/metrics.
// An empty workdir keeps all points in memory.
func InitMetrics(workdir string) error {
	mu.Lock()
	defer mu.Unlock()
	if storage != nil {
		return nil
	}
	opts := []tstorage.Option{
		tstorage.WithTimestampPrecision(tstorage.Seconds),
		tstorage.WithRetention(90 * 24 * time.Hour),
	}
	if workdir != "" {
		opts = append(opts, tstorage.WithDataPath(filepath.Join(workdir, "data", "metrics")))
	}
	s, err := tstorage.NewStorage(opts...)
	if err != nil {
		return err
	}
	storage = s
	return nil
}

// Close flushes and closes the store.
func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if storage == nil {
		return nil
	}
	err := storage.Close()
	storage = nil
	return err
}

// Label builds a metric label.
func Label(name, value string) tstorage.Label {
	return tstorage.Label{Name: name, Value: value}
}

// Record stores a single data point. It is a no-op before InitMetrics.
func Record(metric string, value float64, labels ...tstorage.Label) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return
	}
	_ = storage.InsertRows([]tstorage.Row{{
		Metric:    metric,
		Labels:    labels,
		DataPoint: tstorage.DataPoint{Timestamp: time.Now().Unix(), Value: value},
	}})
}

// Incr records a counter increment of one.
func Incr(metric string, labels ...tstorage.Label) {
	Record(metric, 1, labels...)
}

// Sum adds up every point of metric in [start, end).
func Sum(metric string, start, end time.Time, labels ...tstorage.Label) (float64, error) {
	mu.RLock()
	defer mu.RUnlock()
	if storage == nil {
		return 0, nil
	}
	points, err := storage.Select(metric, labels, start.Unix(), end.Unix())
	if errors.Is(err, tstorage.ErrNoDataPoints) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var total float64
	for _, p := range points {
		total += p.Value
	}
	return total, nil
}

package app

import (
	"context"
	"os"
	"time"

	"github.com/nakabonne/tstorage"
	"github.com/robfig/cron/v3"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/shopspring/decimal"
	"github.com/talkincode/keyshop/internal/domain"
	"github.com/talkincode/keyshop/pkg/metrics"
	"go.uber.org/zap"
)

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

func (a *Application) initJob() {
	loc, _ := time.LoadLocation(a.appConfig.System.Location)
	if loc == nil {
		loc = time.Local
	}
	a.sched = cron.New(cron.WithLocation(loc), cron.WithParser(cronParser))

	var err error
	_, err = a.sched.AddFunc("@every 30s", func() {
		go a.SchedProcessMonitorTask()
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	_, err = a.sched.AddFunc("0 0 7 * * *", func() {
		a.SchedSalesSummary(time.Now().AddDate(0, 0, -1))
		a.SchedLowStockReport(context.Background())
	})
	if err != nil {
		zap.S().Errorf("init job error %s", err.Error())
	}

	a.sched.Start()
}

// SchedProcessMonitorTask app process monitor
func (a *Application) SchedProcessMonitorTask() {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	p, err := process.NewProcess(int32(os.Getpid())) //nolint:gosec // G115: PID is always within int32 range
	if err != nil {
		return
	}

	cpuuse, err := p.CPUPercent()
	if err == nil {
		metrics.Record(metrics.MetricsProcessCPU, cpuuse)
	}

	meminfo, err := p.MemoryInfo()
	if err == nil {
		metrics.Record(metrics.MetricsProcessMemory, float64(meminfo.RSS/1024/1024))
	}
}

// SchedLowStockReport logs every active variant at or below the configured
// threshold and returns them.
func (a *Application) SchedLowStockReport(ctx context.Context) []domain.ProductVariant {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	threshold := a.appConfig.Shop.LowStockThreshold
	if threshold < 0 {
		return nil
	}
	rows, err := a.store.ListLowStockVariants(ctx, threshold)
	if err != nil {
		zap.L().Error("low stock report failed", zap.Error(err))
		return nil
	}
	for _, v := range rows {
		product := ""
		if v.Product != nil {
			product = v.Product.Name
		}
		zap.L().Warn("variant low on stock",
			zap.Int64("variant_id", v.ID),
			zap.String("product", product),
			zap.String("variant", v.Name),
			zap.Int("stock", v.StockQuantity))
	}
	zap.L().Info("low stock report done", zap.Int("threshold", threshold), zap.Int("variants", len(rows)))
	return rows
}

// SalesSummary totals one calendar day of checkout metrics.
type SalesSummary struct {
	Day       string
	Orders    int64
	Revenue   decimal.Decimal
	Cancelled int64
	Failures  int64
}

// SchedSalesSummary reads the day containing day from the metrics store
// and logs the totals.
func (a *Application) SchedSalesSummary(day time.Time) SalesSummary {
	defer func() {
		if err := recover(); err != nil {
			zap.S().Error(err)
		}
	}()

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	sum := func(metric string, labels ...tstorage.Label) float64 {
		v, err := metrics.Sum(metric, start, end, labels...)
		if err != nil {
			zap.L().Error("sales summary query failed", zap.String("metric", metric), zap.Error(err))
		}
		return v
	}

	summary := SalesSummary{
		Day:     start.Format("2006-01-02"),
		Orders:  int64(sum(metrics.MetricsOrdersPlaced)),
		Revenue: decimal.NewFromFloat(sum(metrics.MetricsOrderRevenue)).Round(2),
	}
	for _, st := range []domain.OrderStatus{domain.OrderStatusCancelled, domain.OrderStatusRefunded} {
		summary.Cancelled += int64(sum(metrics.MetricsOrdersCancelled, metrics.Label("status", string(st))))
	}
	for _, kind := range []domain.ErrorKind{
		domain.KindUnexpected, domain.KindValidation, domain.KindNotFound,
		domain.KindInsufficientStock, domain.KindConstraintViolation,
	} {
		summary.Failures += int64(sum(metrics.MetricsCheckoutFailures, metrics.Label("kind", kind.String())))
	}

	zap.L().Info("daily sales summary",
		zap.String("day", summary.Day),
		zap.Int64("orders", summary.Orders),
		zap.String("revenue", summary.Revenue.StringFixed(2)),
		zap.Int64("cancelled", summary.Cancelled),
		zap.Int64("checkout_failures", summary.Failures))
	return summary
}

// sweeper.go — фоновая очистка просроченных signed URL.
//
// Работает только для стратегий cron и both при SIGNED_URL_CLEANUP_INTERVAL > 0,
// дополняя внешний cron endpoint. Запускается как горутина с тикером.
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sweeperDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "certstore_sweeper_duration_seconds",
	Help:    "Длительность фоновой очистки signed URL в секундах",
	Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
})

// Cleaner — источник очистки для фонового процесса.
type Cleaner interface {
	Cleanup(ctx context.Context, trigger CleanupTrigger) (*CleanupResult, error)
}

// Sweeper — периодическая очистка таблицы токенов.
type Sweeper struct {
	cleaner  Cleaner
	interval time.Duration
	logger   *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
	done   chan struct{}
}

// NewSweeper создаёт фоновый процесс очистки.
func NewSweeper(cleaner Cleaner, interval time.Duration, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		cleaner:  cleaner,
		interval: interval,
		logger:   logger.With(slog.String("component", "sweeper")),
	}
}

// Start запускает фоновую горутину. Вызывается один раз при старте.
func (sw *Sweeper) Start(ctx context.Context) {
	swCtx, cancel := context.WithCancel(ctx)
	sw.cancel = cancel
	sw.done = make(chan struct{})

	go sw.run(swCtx)

	sw.logger.Info("Фоновая очистка signed URL запущена",
		slog.String("interval", sw.interval.String()),
	)
}

// Stop останавливает фоновый процесс и дожидается завершения текущего прохода.
func (sw *Sweeper) Stop() {
	if sw.cancel == nil {
		return
	}
	sw.cancel()
	<-sw.done
	sw.logger.Info("Фоновая очистка signed URL остановлена")
}

func (sw *Sweeper) run(ctx context.Context) {
	defer close(sw.done)

	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			sw.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один проход очистки. Ошибки логируются,
// следующий проход выполнится по тикеру.
func (sw *Sweeper) RunOnce(ctx context.Context) *CleanupResult {
	sw.mu.Lock()
	defer sw.mu.Unlock()

	start := time.Now()
	result, err := sw.cleaner.Cleanup(ctx, TriggerInterval)
	sweeperDurationSeconds.Observe(time.Since(start).Seconds())

	if err != nil {
		sw.logger.Error("Ошибка фоновой очистки",
			slog.String("error", err.Error()),
		)
		return nil
	}
	return result
}

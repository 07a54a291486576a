package monitoring

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/opportunity-planner/internal/config"
)

// Watch summarizes stored planning jobs on an interval and posts alerts for
// breached thresholds. An alert type is posted when it starts firing and is
// not posted again until a pass finds it cleared.
type Watch struct {
	collector *Collector
	alerter   *Alerter
	lookback  int
	interval  time.Duration

	mu     sync.Mutex
	firing map[AlertType]bool
}

// Report is the outcome of one Watch pass.
type Report struct {
	Snapshot *MetricsSnapshot
	// Alerts holds every breached threshold, including suppressed repeats.
	Alerts     []Alert
	Sent       int
	Suppressed int
}

// NewWatch creates a Watch over the collector's store.
func NewWatch(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Watch {
	interval := time.Duration(cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Watch{
		collector: collector,
		alerter:   alerter,
		lookback:  cfg.LookbackWindowHours,
		interval:  interval,
		firing:    make(map[AlertType]bool),
	}
}

// Run checks job health every interval until ctx is cancelled.
func (w *Watch) Run(ctx context.Context) {
	log := zap.L().With(zap.String("component", "monitoring.watch"))
	log.Info("monitoring: watching planning jobs",
		zap.Duration("interval", w.interval),
		zap.Int("lookback_hours", w.lookback),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("monitoring: watch stopped")
			return
		case <-ticker.C:
			if _, err := w.Check(ctx, w.lookback); err != nil {
				log.Error("monitoring: job health check failed", zap.Error(err))
			}
		}
	}
}

// Check collects a snapshot over lookbackHours, evaluates it and posts the
// alerts that were not already firing.
func (w *Watch) Check(ctx context.Context, lookbackHours int) (*Report, error) {
	snap, err := w.collector.Collect(ctx, lookbackHours)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: collect job metrics")
	}

	report := &Report{Snapshot: snap, Alerts: w.alerter.Evaluate(snap)}
	fresh := w.transition(report.Alerts)
	report.Suppressed = len(report.Alerts) - len(fresh)
	report.Sent = w.alerter.SendAlerts(ctx, fresh)

	zap.L().Info("monitoring: job health checked",
		zap.Int("jobs", snap.JobsTotal),
		zap.Float64("error_rate", snap.ErrorRate),
		zap.Float64("fallback_rate", snap.FallbackRate),
		zap.Float64("cost_usd", snap.CostUSD),
		zap.Int("alerts", len(report.Alerts)),
		zap.Int("sent", report.Sent),
		zap.Int("suppressed", report.Suppressed),
	)
	return report, nil
}

// transition records which alert types are firing and returns the alerts
// whose type was not firing on the previous pass.
func (w *Watch) transition(alerts []Alert) []Alert {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := make(map[AlertType]bool, len(alerts))
	var fresh []Alert
	for _, a := range alerts {
		now[a.Type] = true
		if !w.firing[a.Type] {
			fresh = append(fresh, a)
		}
	}
	w.firing = now
	return fresh
}

package health

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Housekeeper is the periodic maintenance surface of the session controller.
type Housekeeper interface {
	CheckConnections(ctx context.Context) int
	SweepExpiredQR(ctx context.Context, ttl time.Duration) (int64, error)
	PruneHistory(ctx context.Context, retention time.Duration) (int64, error)
}

// ScheduleConfig sets when housekeeping jobs run.
type ScheduleConfig struct {
	WatchdogInterval    time.Duration
	QRSweepSchedule     string
	QRTTL               time.Duration
	TransitionRetention time.Duration
}

var cronParser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Scheduler runs the connection watchdog, QR expiry sweep and history
// pruning on cron schedules.
type Scheduler struct {
	cron *cron.Cron
	hk   Housekeeper
	cfg  ScheduleConfig
	log  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewScheduler registers the housekeeping jobs. Call Start to run them.
func NewScheduler(hk Housekeeper, cfg ScheduleConfig, log *slog.Logger) (*Scheduler, error) {
	if log == nil {
		log = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithParser(cronParser)),
		hk:     hk,
		cfg:    cfg,
		log:    log.With("component", "scheduler"),
		ctx:    ctx,
		cancel: cancel,
	}

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{"watchdog", fmt.Sprintf("@every %s", cfg.WatchdogInterval), s.Watchdog},
		{"qr-sweep", cfg.QRSweepSchedule, s.SweepQR},
		{"prune-history", "@daily", s.PruneHistory},
	}
	for _, j := range jobs {
		if _, err := s.cron.AddFunc(j.spec, s.wrap(j.name, j.fn)); err != nil {
			cancel()
			return nil, fmt.Errorf("failed to schedule %s job %q: %w", j.name, j.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) wrap(name string, fn func(context.Context)) func() {
	return func() {
		defer func() {
			if err := recover(); err != nil {
				s.log.Error("housekeeping job panicked", "job", name, "panic", err)
			}
		}()
		fn(s.ctx)
	}
}

// Start runs the scheduler in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("housekeeping started", "watchdog_interval", s.cfg.WatchdogInterval, "qr_sweep", s.cfg.QRSweepSchedule)
}

// Stop halts scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info("housekeeping stopped")
}

// Watchdog checks every live session for a silently dropped connection.
func (s *Scheduler) Watchdog(ctx context.Context) {
	if n := s.hk.CheckConnections(ctx); n > 0 {
		s.log.Warn("watchdog found dropped sessions", "count", n)
	}
}

// SweepQR clears QR codes nobody scanned within the TTL.
func (s *Scheduler) SweepQR(ctx context.Context) {
	if _, err := s.hk.SweepExpiredQR(ctx, s.cfg.QRTTL); err != nil {
		s.log.Error("qr sweep failed", "error", err)
	}
}

// PruneHistory drops old transition history.
func (s *Scheduler) PruneHistory(ctx context.Context) {
	n, err := s.hk.PruneHistory(ctx, s.cfg.TransitionRetention)
	if err != nil {
		s.log.Error("history prune failed", "error", err)
		return
	}
	s.log.Info("pruned transition history", "deleted", n)
}

package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// DefaultInterval is the scan interval of the gas sensor.
const DefaultInterval = 30 * time.Minute

// Updater refreshes every registered entity once.
type Updater interface {
	UpdateAll(ctx context.Context)
}

type Scheduler struct {
	ctx      context.Context
	cancel   context.CancelFunc
	updater  Updater
	logger   *logrus.Logger
	cron     *cron.Cron
	interval time.Duration
	timeout  time.Duration
}

// NewScheduler ticks updater every interval. Each tick gets at most timeout
// to finish; shutting the scheduler down cancels running ticks.
func NewScheduler(ctx context.Context, updater Updater, logger *logrus.Logger, interval, timeout time.Duration) *Scheduler {
	ctx, cancel := context.WithCancel(ctx)
	return &Scheduler{
		ctx:      ctx,
		cancel:   cancel,
		updater:  updater,
		logger:   logger,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		interval: interval,
		timeout:  timeout,
	}
}

// Start the scheduler
func (s *Scheduler) Start() error {
	if s.interval <= 0 {
		return fmt.Errorf("invalid scan interval: %s", s.interval)
	}
	_, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.interval), s.collectData)
	if err != nil {
		return err
	}
	s.cron.Start()
	s.logger.WithField("interval", s.interval.String()).Info("scheduler started")
	return nil
}

// collectData refreshes all entities for one tick
func (s *Scheduler) collectData() {
	ctx := s.ctx
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	s.updater.UpdateAll(ctx)
	s.logger.WithField("duration", time.Since(start).String()).Debug("scheduled update finished")
}

// Stop the scheduler and wait for a running tick to return
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

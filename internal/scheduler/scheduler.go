// Package scheduler runs the periodic sweeps (monitor statuses, lost
// sensors, escalations) on cron schedules from the config.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"thermoline/internal/config"
	"thermoline/internal/engine"
)

const sweepTimeout = 2 * time.Minute

type Scheduler struct {
	cron   *cron.Cron
	engine engine.Engine
	log    *zap.Logger
}

func New(cfg *config.Config, eng engine.Engine, log *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		engine: eng,
		log:    log,
	}
	jobs := []struct {
		name string
		spec string
		run  func(context.Context) error
	}{
		{"monitor-statuses", cfg.Sweeps.MonitorStatuses, eng.ResolveMonitorStatuses},
		{"lost-sensors", cfg.Sweeps.LostSensors, func(ctx context.Context) error {
			opened, err := eng.CreateLostSensorIncidents(ctx)
			if opened > 0 {
				log.Info("lost-sensor sweep opened incidents", zap.Int("opened", opened))
			}
			return err
		}},
		{"escalations", cfg.Sweeps.Escalations, func(ctx context.Context) error {
			fired, err := eng.TriggerPolicies(ctx)
			if fired > 0 {
				log.Info("escalation sweep paged policies", zap.Int("fired", fired))
			}
			return err
		}},
	}
	for _, job := range jobs {
		job := job
		_, err := s.cron.AddFunc(job.spec, func() {
			ctx, cancel := context.WithTimeout(context.Background(), sweepTimeout)
			defer cancel()
			if err := job.run(ctx); err != nil {
				log.Error("sweep failed", zap.String("sweep", job.name), zap.Error(err))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("sweep %s: invalid cron spec %q: %w", job.name, job.spec, err)
		}
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("sweep scheduler started")
}

// Stop halts scheduling and waits for running sweeps to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("sweep scheduler stopped")
}

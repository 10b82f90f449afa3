package worker

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Job is one periodic task run by the worker process.
type Job interface {
	Name() string
	Interval() time.Duration
	Run(ctx context.Context) error
}

// Manager runs registered jobs on a gocron scheduler. A job never overlaps
// with itself; a run that is still going when the next tick fires pushes
// that tick back.
type Manager struct {
	scheduler gocron.Scheduler
	log       *zap.Logger
}

func NewManager(log *zap.Logger) (*Manager, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, err
	}
	return &Manager{scheduler: s, log: log}, nil
}

func (m *Manager) Register(ctx context.Context, jobs ...Job) error {
	for _, job := range jobs {
		_, err := m.scheduler.NewJob(
			gocron.DurationJob(job.Interval()),
			gocron.NewTask(m.runner(ctx, job)),
			gocron.WithName(job.Name()),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
			gocron.WithStartAt(gocron.WithStartImmediately()),
		)
		if err != nil {
			return err
		}
		m.log.Info("job registered", zap.String("job", job.Name()), zap.Duration("interval", job.Interval()))
	}
	return nil
}

func (m *Manager) runner(ctx context.Context, job Job) func() {
	return func() {
		if ctx.Err() != nil {
			return
		}
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			m.log.Error("job failed", zap.String("job", job.Name()), zap.Error(err))
			return
		}
		m.log.Debug("job finished", zap.String("job", job.Name()), zap.Duration("took", time.Since(start)))
	}
}

func (m *Manager) Start() {
	m.scheduler.Start()
	m.log.Info("worker started")
}

func (m *Manager) Stop() {
	if err := m.scheduler.Shutdown(); err != nil {
		m.log.Error("scheduler shutdown", zap.Error(err))
	}
	m.log.Info("worker stopped")
}

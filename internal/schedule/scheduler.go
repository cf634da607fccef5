package schedule

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Scheduler runs maintenance jobs on five-field cron specs. A run that is
// still in progress when its next tick fires causes that tick to be skipped.
type Scheduler struct {
	cron *cron.Cron
	ctx  context.Context
	jobs map[string]cron.EntryID
}

func New() *Scheduler {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cronLogger{}), cron.SkipIfStillRunning(cronLogger{})),
		),
		ctx:  context.Background(),
		jobs: make(map[string]cron.EntryID),
	}
}

func (s *Scheduler) Add(job Job, spec string) error {
	if _, ok := s.jobs[job.Name()]; ok {
		return fmt.Errorf("job %s already scheduled", job.Name())
	}
	id, err := s.cron.AddJob(spec, cron.FuncJob(func() { s.runOnce(job) }))
	if err != nil {
		return fmt.Errorf("schedule %s with %q: %w", job.Name(), spec, err)
	}
	s.jobs[job.Name()] = id
	logutil.GetLogger(s.ctx).Info("job scheduled", zap.String("job", job.Name()), zap.String("spec", spec))
	return nil
}

// Start begins ticking. Jobs receive ctx and should stop when it ends.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctx = ctx
	s.cron.Start()
}

// Stop waits for running jobs to return.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runOnce(job Job) {
	logger := logutil.GetLogger(s.ctx).With(zap.String("job", job.Name()))
	start := time.Now()
	if err := job.Run(s.ctx); err != nil {
		logger.Error("job failed", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return
	}
	logger.Debug("job done", zap.Duration("duration", time.Since(start)))
}

// cronLogger routes robfig/cron's own messages into zap.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logutil.GetLogger(context.Background()).Sugar().Debugw(msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logutil.GetLogger(context.Background()).Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}

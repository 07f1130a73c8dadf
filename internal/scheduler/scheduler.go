// Package scheduler runs named periodic jobs on cron expressions.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/pravinl23/DealyDigests-sub001/internal/errs"
)

var (
	// ErrJobRunning is returned by RunNow when the job is already in flight.
	ErrJobRunning = fmt.Errorf("%w: job already running", errs.ErrConflict)
	// ErrUnknownJob is returned for a job name that was never registered.
	ErrUnknownJob = errors.New("unknown job")
)

// Job is one unit of scheduled work. It returns the number of items it handled.
type Job func(ctx context.Context) (int, error)

// EntryInfo describes an active schedule.
type EntryInfo struct {
	Name string    `json:"name"`
	Spec string    `json:"spec"`
	Next time.Time `json:"next"`
	Prev time.Time `json:"prev"`
}

type jobState struct {
	fn    Job
	guard sync.Mutex // held for the duration of a run
	entry cron.EntryID
	spec  string
}

// Scheduler owns a cron timer and a registry of named jobs. There is at most
// one active schedule per name and at most one run per name at a time.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	logger *zap.Logger

	mu   sync.Mutex
	jobs map[string]*jobState
}

// New creates a scheduler. Scheduled runs use ctx, which should live as long
// as the process.
func New(ctx context.Context, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
		ctx:    ctx,
		logger: logger,
		jobs:   make(map[string]*jobState),
	}
}

// Register makes a job available to RunNow without scheduling it.
func (s *Scheduler) Register(name string, fn Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state(name).fn = fn
}

func (s *Scheduler) state(name string) *jobState {
	st, ok := s.jobs[name]
	if !ok {
		st = &jobState{}
		s.jobs[name] = st
	}
	return st
}

// Schedule installs fn under name on a standard five-field cron expression,
// replacing any existing schedule for that name.
func (s *Scheduler) Schedule(name, expr string, fn Job) error {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.state(name)
	if st.entry != 0 {
		s.cron.Remove(st.entry)
		s.logger.Info("replaced schedule", zap.String("job", name), zap.String("previous", st.spec))
	}
	st.fn = fn
	st.spec = expr
	st.entry = s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(name) }))
	s.logger.Info("scheduled job", zap.String("job", name), zap.String("cron", expr))
	return nil
}

// Unschedule removes the schedule for name. The job stays registered.
func (s *Scheduler) Unschedule(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[name]
	if !ok || st.entry == 0 {
		return false
	}
	s.cron.Remove(st.entry)
	st.entry = 0
	st.spec = ""
	return true
}

// RunNow runs the job synchronously outside its schedule.
func (s *Scheduler) RunNow(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok || st.fn == nil {
		return 0, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	n, ran, err := s.run(ctx, name, st)
	if !ran {
		s.logger.Warn("manual run dropped, job already running", zap.String("job", name))
		return 0, ErrJobRunning
	}
	return n, err
}

func (s *Scheduler) fire(name string) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok || st.fn == nil {
		return
	}

	if _, ran, _ := s.run(s.ctx, name, st); !ran {
		s.logger.Warn("scheduled run dropped, job already running", zap.String("job", name))
	}
}

// run executes one run if the guard is free. ran is false when it was not.
func (s *Scheduler) run(ctx context.Context, name string, st *jobState) (n int, ran bool, err error) {
	if !st.guard.TryLock() {
		return 0, false, nil
	}
	defer st.guard.Unlock()

	s.mu.Lock()
	fn := st.fn
	s.mu.Unlock()

	start := time.Now()
	n, err = fn(ctx)
	if err != nil {
		s.logger.Error("job failed", zap.String("job", name), zap.Duration("duration", time.Since(start)), zap.Error(err))
		return n, true, err
	}
	s.logger.Info("job finished", zap.String("job", name), zap.Int("count", n), zap.Duration("duration", time.Since(start)))
	return n, true, nil
}

// Entries lists the active schedules sorted by name.
func (s *Scheduler) Entries() []EntryInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []EntryInfo
	for name, st := range s.jobs {
		if st.entry == 0 {
			continue
		}
		e := s.cron.Entry(st.entry)
		out = append(out, EntryInfo{Name: name, Spec: st.spec, Next: e.Next, Prev: e.Prev})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Start starts the cron timer.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop stops the timer and waits for running scheduled jobs or ctx, whichever ends first.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw("cron: "+msg, append(keysAndValues, "error", err)...)
}

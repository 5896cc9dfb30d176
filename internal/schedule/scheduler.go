package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// JobFunc runs one phase to completion.
type JobFunc func(ctx context.Context) error

// JobStatus describes a registered job and its most recent run.
type JobStatus struct {
	Name     string    `json:"name"`
	Spec     string    `json:"spec"`
	Next     time.Time `json:"next"`
	LastRun  time.Time `json:"last_run,omitempty"`
	LastErr  string    `json:"last_error,omitempty"`
	Running  bool      `json:"running"`
	RunCount int       `json:"run_count"`
}

// Scheduler triggers jobs on cron schedules. Jobs never overlap: a job
// whose previous run is still going is skipped, and different jobs wait
// for each other since they share the ledger.
type Scheduler struct {
	cron *cron.Cron
	log  *zap.Logger

	runMu sync.Mutex // serializes job bodies

	mu    sync.Mutex
	ctx   context.Context
	jobs  map[string]*jobState
	order []string
}

type jobState struct {
	id     cron.EntryID
	status JobStatus
}

// Opts holds parameters for creating a Scheduler.
type Opts struct {
	Location *time.Location // defaults to time.Local
	Logger   *zap.Logger
}

// New creates a Scheduler with the given options.
func New(opts Opts) *Scheduler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{s: log.Sugar()}
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:  log,
		ctx:  context.Background(),
		jobs: make(map[string]*jobState),
	}
}

// Add registers fn under name to run on spec.
func (s *Scheduler) Add(name, spec string, fn JobFunc) error {
	if fn == nil {
		return fmt.Errorf("schedule: job %s has no function", name)
	}
	if err := Validate(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[name]; ok {
		return fmt.Errorf("schedule: job %s already registered", name)
	}
	js := &jobState{status: JobStatus{Name: name, Spec: spec}}
	id, err := s.cron.AddFunc(spec, func() { s.RunNow(name, fn) })
	if err != nil {
		return fmt.Errorf("schedule: add %s: %w", name, err)
	}
	js.id = id
	s.jobs[name] = js
	s.order = append(s.order, name)
	return nil
}

// RunNow runs fn as job name immediately, recording its outcome. It blocks
// while another job is running.
func (s *Scheduler) RunNow(name string, fn JobFunc) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	s.mu.Lock()
	ctx := s.ctx
	js := s.jobs[name]
	if js != nil {
		js.status.Running = true
	}
	s.mu.Unlock()

	start := time.Now()
	s.log.Info("job started", zap.String("job", name))
	err := fn(ctx)

	s.mu.Lock()
	if js != nil {
		js.status.Running = false
		js.status.LastRun = start
		js.status.RunCount++
		js.status.LastErr = ""
		if err != nil {
			js.status.LastErr = err.Error()
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("job failed", zap.String("job", name), zap.Duration("took", time.Since(start)), zap.Error(err))
	} else {
		s.log.Info("job finished", zap.String("job", name), zap.Duration("took", time.Since(start)))
	}
	return err
}

// Run starts the scheduler and blocks until ctx is cancelled, then waits
// for any running job to finish. Cancelling ctx only stops new runs; a job
// already running keeps a live context so it can save what it has done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.mu.Unlock()

	s.cron.Start()
	for _, st := range s.Status() {
		s.log.Info("job scheduled", zap.String("job", st.Name), zap.String("spec", st.Spec), zap.Time("next", st.Next))
	}
	<-ctx.Done()
	<-s.cron.Stop().Done()
	return nil
}

// Status returns every registered job in registration order.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]JobStatus, 0, len(s.order))
	for _, name := range s.order {
		js := s.jobs[name]
		st := js.status
		st.Next = s.cron.Entry(js.id).Next
		out = append(out, st)
	}
	return out
}

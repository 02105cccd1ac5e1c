// Package schedule triggers runners once a day at a fixed wall-clock time.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"dailystory/internal/domain"
	"dailystory/internal/infra"
)

// ErrOverloadShutdown is the cause reported by Start when a run hit a
// persistently overloaded text backend and StopOnOverload is set.
var ErrOverloadShutdown = errors.New("scheduler: text backend stayed overloaded")

// ErrUnknownEntry is returned when triggering a name that was never added.
var ErrUnknownEntry = errors.New("scheduler: unknown entry")

// Entry is one daily job.
type Entry struct {
	Name   string
	Hour   int
	Minute int
	Run    func(ctx context.Context) error
}

// Status is a point-in-time view of an entry.
type Status struct {
	Name       string    `json:"name"`
	Schedule   string    `json:"schedule"`
	Next       time.Time `json:"next"`
	Running    bool      `json:"running"`
	Runs       int       `json:"runs"`
	LastStart  time.Time `json:"last_start,omitempty"`
	LastFinish time.Time `json:"last_finish,omitempty"`
	LastError  string    `json:"last_error,omitempty"`
}

// Options configure a Scheduler.
type Options struct {
	Location *time.Location
	// StopOnOverload ends Start when a run fails with domain.ErrUpstreamOverloaded.
	StopOnOverload bool
	Logger         *infra.Logger
	Now            func() time.Time
}

type entryState struct {
	entry    Entry
	spec     string
	schedule cron.Schedule
	status   Status
}

// Scheduler wraps a cron instance. Overlapping triggers of the same entry
// share one execution; missed runs are not caught up.
type Scheduler struct {
	cron   *cron.Cron
	loc    *time.Location
	logger infra.Logger
	now    func() time.Time
	stop   bool
	group  singleflight.Group

	mu      sync.Mutex
	entries map[string]*entryState
	runCtx  context.Context
	cancel  context.CancelCauseFunc
	wg      sync.WaitGroup
}

// New builds a scheduler. A nil location means time.Local.
func New(opts Options) *Scheduler {
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Scheduler{
		cron:    cron.New(cron.WithLocation(loc)),
		loc:     loc,
		logger:  infra.LoggerOrDiscard(opts.Logger),
		now:     now,
		stop:    opts.StopOnOverload,
		entries: make(map[string]*entryState),
	}
}

// Add registers e at e.Hour:e.Minute every day.
func (s *Scheduler) Add(e Entry) error {
	if e.Name == "" || e.Run == nil {
		return fmt.Errorf("scheduler: entry needs a name and a run function")
	}
	if e.Hour < 0 || e.Hour > 23 || e.Minute < 0 || e.Minute > 59 {
		return fmt.Errorf("scheduler: %s: invalid time %02d:%02d", e.Name, e.Hour, e.Minute)
	}
	spec := fmt.Sprintf("%d %d * * *", e.Minute, e.Hour)
	sched, err := cron.ParseStandard(spec)
	if err != nil {
		return fmt.Errorf("scheduler: %s: %w", e.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.entries[e.Name]; dup {
		return fmt.Errorf("scheduler: duplicate entry %q", e.Name)
	}
	s.entries[e.Name] = &entryState{entry: e, spec: spec, schedule: sched, status: Status{Name: e.Name, Schedule: spec}}
	name := e.Name
	s.cron.Schedule(sched, cron.FuncJob(func() {
		ctx := s.context()
		if ctx == nil {
			return
		}
		_, _ = s.Trigger(ctx, name)
	}))
	s.logger.Info().Str("runner", name).Str("schedule", spec).Str("tz", s.loc.String()).Msg("scheduler: entry added")
	return nil
}

func (s *Scheduler) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runCtx
}

// Trigger runs the named entry now and waits for it. A trigger that arrives
// while the entry is already running waits for that run and reports
// shared=true instead of starting another.
func (s *Scheduler) Trigger(ctx context.Context, name string) (shared bool, err error) {
	s.mu.Lock()
	st, ok := s.entries[name]
	s.mu.Unlock()
	if !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownEntry, name)
	}

	_, err, shared = s.group.Do(name, func() (any, error) {
		s.markStart(st)
		s.logger.Info().Str("runner", name).Msg("scheduler: run started")
		runErr := st.entry.Run(ctx)
		s.markFinish(st, runErr)
		if runErr != nil {
			s.logger.Error().Err(runErr).Str("runner", name).Msg("scheduler: run failed")
			s.checkOverload(name, runErr)
		} else {
			s.logger.Info().Str("runner", name).Msg("scheduler: run finished")
		}
		return nil, runErr
	})
	return shared, err
}

// TriggerAsync starts the named entry in the background on the scheduler's
// context. It fails when the scheduler is not running.
func (s *Scheduler) TriggerAsync(name string) error {
	s.mu.Lock()
	_, ok := s.entries[name]
	ctx := s.runCtx
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEntry, name)
	}
	if ctx == nil || ctx.Err() != nil {
		return errors.New("scheduler: not running")
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, _ = s.Trigger(ctx, name)
	}()
	return nil
}

func (s *Scheduler) checkOverload(name string, err error) {
	if !s.stop || !errors.Is(err, domain.ErrUpstreamOverloaded) {
		return
	}
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		s.logger.Error().Str("runner", name).Msg("scheduler: shutting down on overload policy")
		cancel(fmt.Errorf("%w: %s: %v", ErrOverloadShutdown, name, err))
	}
}

func (s *Scheduler) markStart(st *entryState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.status.Running = true
	st.status.LastStart = s.now()
}

func (s *Scheduler) markFinish(st *entryState, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st.status.Running = false
	st.status.Runs++
	st.status.LastFinish = s.now()
	st.status.LastError = ""
	if err != nil {
		st.status.LastError = err.Error()
	}
}

// Statuses lists every entry sorted by its next run.
func (s *Scheduler) Statuses() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now().In(s.loc)
	out := make([]Status, 0, len(s.entries))
	for _, st := range s.entries {
		status := st.status
		status.Next = st.schedule.Next(now)
		out = append(out, status)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Next.Equal(out[j].Next) {
			return out[i].Name < out[j].Name
		}
		return out[i].Next.Before(out[j].Next)
	})
	return out
}

// Start runs the cron loop until ctx is done or the overload policy stops
// it. In-flight runs see a cancelled context and are waited for. The
// returned error is nil on a normal shutdown.
func (s *Scheduler) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	s.mu.Lock()
	if s.runCtx != nil {
		s.mu.Unlock()
		return errors.New("scheduler: already started")
	}
	s.runCtx = runCtx
	s.cancel = cancel
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info().Int("entries", len(s.Statuses())).Msg("scheduler: started")
	<-runCtx.Done()

	<-s.cron.Stop().Done()
	s.wg.Wait()

	cause := context.Cause(runCtx)
	if errors.Is(cause, ErrOverloadShutdown) {
		return cause
	}
	s.logger.Info().Msg("scheduler: stopped")
	return nil
}

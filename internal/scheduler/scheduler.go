package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// StopReason tells OnStop why a scheduler ended.
type StopReason string

const (
	// StopReasonFailed means the work returned an error or panicked.
	StopReasonFailed StopReason = "failed"
	// StopReasonManual means Stop was called or the context was cancelled.
	StopReasonManual StopReason = "manual"
	// StopReasonWorkResult means the work asked not to continue.
	StopReasonWorkResult StopReason = "workResult"
)

var (
	ErrNoWork         = errors.New("scheduler: work function is required")
	ErrBadInterval    = errors.New("scheduler: interval must be positive")
	ErrAlreadyStarted = errors.New("scheduler: already started")
)

// WorkResult is returned by every run of the scheduled work.
type WorkResult struct {
	ShouldContinue bool
}

// Work is one unit of scheduled work. runCount is 0 for the first run.
type Work func(ctx context.Context, runCount int) (WorkResult, error)

// Options configures a Scheduler.
type Options struct {
	// Name is used in logs only.
	Name      string
	Interval  time.Duration
	Immediate bool
	Work      Work
	// BeforeRun is called with the run counter just before each run.
	BeforeRun func(runCount int)
	// OnStop is called at most once, when the loop ends for any reason.
	OnStop func(reason StopReason)
	Logger logrus.FieldLogger
}

type state int

const (
	stateIdle state = iota
	stateWaiting
	stateRunning
	stateStopped
)

// Scheduler runs a Work repeatedly with a fixed delay between the end of one
// run and the start of the next. Runs never overlap.
type Scheduler struct {
	opts Options
	log  logrus.FieldLogger

	mu     sync.Mutex
	state  state
	stopCh chan struct{}
	done   chan struct{}
}

// New validates the options and creates an idle scheduler.
func New(opts Options) (*Scheduler, error) {
	if opts.Work == nil {
		return nil, ErrNoWork
	}
	if opts.Interval <= 0 {
		return nil, ErrBadInterval
	}
	if opts.Name == "" {
		opts.Name = "unnamed"
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Scheduler{
		opts: opts,
		log: logger.WithFields(logrus.Fields{
			"component": "scheduler",
			"scheduler": opts.Name,
		}),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start launches the control loop in its own goroutine. When Immediate is set
// the first run starts right away, otherwise after one interval.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state != stateIdle {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.state = stateWaiting
	s.mu.Unlock()

	s.log.WithFields(logrus.Fields{
		"interval":  s.opts.Interval.String(),
		"immediate": s.opts.Immediate,
	}).Info("Starting scheduler")
	go s.loop(ctx)
	return nil
}

// Stop prevents any further run. A run already in flight is not cancelled.
// Stop is a no-op before Start or once the loop has ended.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state != stateWaiting && s.state != stateRunning {
		s.mu.Unlock()
		return
	}
	s.state = stateStopped
	close(s.stopCh)
	s.mu.Unlock()

	s.log.Info("Scheduler stopped manually")
	s.notifyStop(StopReasonManual)
}

// Done is closed when the control loop has exited.
func (s *Scheduler) Done() <-chan struct{} {
	return s.done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	runCount := 0
	if !s.opts.Immediate && !s.wait(ctx) {
		return
	}
	for {
		if !s.enter(stateRunning) {
			return
		}
		result, err := s.run(ctx, runCount)
		if err != nil {
			s.log.WithError(err).Error("Scheduler has to stop due to error in scheduled work")
			s.finish(StopReasonFailed)
			return
		}
		if !result.ShouldContinue {
			s.log.Info("Scheduler will stop")
			s.finish(StopReasonWorkResult)
			return
		}
		s.log.WithField("run_count", runCount).Debug("Scheduler can continue")
		runCount++
		if !s.wait(ctx) {
			return
		}
	}
}

func (s *Scheduler) run(ctx context.Context, runCount int) (result WorkResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled work panicked: %v", r)
		}
	}()
	if s.opts.BeforeRun != nil {
		s.opts.BeforeRun(runCount)
	}
	return s.opts.Work(ctx, runCount)
}

// wait blocks for one interval. It returns false when the loop must end.
func (s *Scheduler) wait(ctx context.Context) bool {
	if !s.enter(stateWaiting) {
		return false
	}
	timer := time.NewTimer(s.opts.Interval)
	defer timer.Stop()

	select {
	case <-timer.C:
		return true
	case <-s.stopCh:
		return false
	case <-ctx.Done():
		s.log.WithError(ctx.Err()).Info("Scheduler context done")
		s.finish(StopReasonManual)
		return false
	}
}

// enter moves to st unless the scheduler was stopped in the meantime.
func (s *Scheduler) enter(st state) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == stateStopped {
		return false
	}
	s.state = st
	return true
}

// finish ends the loop from inside. Nothing is reported when Stop already
// reported the manual stop.
func (s *Scheduler) finish(reason StopReason) {
	s.mu.Lock()
	if s.state == stateStopped {
		s.mu.Unlock()
		return
	}
	s.state = stateStopped
	s.mu.Unlock()
	s.notifyStop(reason)
}

func (s *Scheduler) notifyStop(reason StopReason) {
	if s.opts.OnStop != nil {
		s.opts.OnStop(reason)
	}
}

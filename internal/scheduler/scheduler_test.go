package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// recorder collects calls made by the scheduler from its goroutine.
type recorder struct {
	mu        sync.Mutex
	runs      []int
	beforeRun []int
	reasons   []StopReason
}

func (r *recorder) addRun(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, n)
}

func (r *recorder) addBefore(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.beforeRun = append(r.beforeRun, n)
}

func (r *recorder) onStop(reason StopReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reasons = append(r.reasons, reason)
}

func (r *recorder) runCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func (r *recorder) snapshot() ([]int, []int, []StopReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int(nil), r.runs...), append([]int(nil), r.beforeRun...), append([]StopReason(nil), r.reasons...)
}

func newTestScheduler(t *testing.T, interval time.Duration, immediate bool, rec *recorder, work Work) *Scheduler {
	t.Helper()
	s, err := New(Options{
		Name:      "test",
		Interval:  interval,
		Immediate: immediate,
		Work: func(ctx context.Context, runCount int) (WorkResult, error) {
			rec.addRun(runCount)
			return work(ctx, runCount)
		},
		BeforeRun: rec.addBefore,
		OnStop:    rec.onStop,
		Logger:    testLogger(),
	})
	require.NoError(t, err)
	return s
}

func waitDone(t *testing.T, s *Scheduler) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler loop did not exit")
	}
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Interval: time.Second})
	assert.ErrorIs(t, err, ErrNoWork)

	_, err = New(Options{Work: func(context.Context, int) (WorkResult, error) { return WorkResult{}, nil }})
	assert.ErrorIs(t, err, ErrBadInterval)
}

func TestStart_ImmediateRunsFirstWorkRightAway(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, time.Hour, true, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{ShouldContinue: false}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	runs, before, reasons := rec.snapshot()
	assert.Equal(t, []int{0}, runs)
	assert.Equal(t, []int{0}, before)
	assert.Equal(t, []StopReason{StopReasonWorkResult}, reasons)
}

func TestStart_DelayedWaitsOneInterval(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, 300*time.Millisecond, false, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{ShouldContinue: false}, nil
	})
	start := time.Now()
	require.NoError(t, s.Start(context.Background()))

	assert.Never(t, func() bool { return rec.runCount() > 0 }, 150*time.Millisecond, 10*time.Millisecond)
	waitDone(t, s)
	assert.GreaterOrEqual(t, time.Since(start), 300*time.Millisecond)

	runs, _, reasons := rec.snapshot()
	assert.Equal(t, []int{0}, runs)
	assert.Equal(t, []StopReason{StopReasonWorkResult}, reasons)
}

func TestStart_ContinuesWithIncreasingRunCount(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, 10*time.Millisecond, false, rec, func(_ context.Context, runCount int) (WorkResult, error) {
		return WorkResult{ShouldContinue: runCount < 3}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	runs, before, reasons := rec.snapshot()
	assert.Equal(t, []int{0, 1, 2, 3}, runs)
	assert.Equal(t, []int{0, 1, 2, 3}, before)
	assert.Equal(t, []StopReason{StopReasonWorkResult}, reasons)
}

func TestStart_ImmediateRunCountStartsAtZero(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, 10*time.Millisecond, true, rec, func(_ context.Context, runCount int) (WorkResult, error) {
		return WorkResult{ShouldContinue: runCount < 1}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	_, before, _ := rec.snapshot()
	assert.Equal(t, []int{0, 1}, before)
}

func TestStart_Twice(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, time.Hour, false, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyStarted)
	s.Stop()
	waitDone(t, s)
}

func TestWorkError_StopsWithFailed(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, 10*time.Millisecond, false, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{ShouldContinue: true}, errors.New("boom")
	})
	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	// Give a would-be second tick the chance to fire.
	time.Sleep(30 * time.Millisecond)
	runs, _, reasons := rec.snapshot()
	assert.Equal(t, []int{0}, runs)
	assert.Equal(t, []StopReason{StopReasonFailed}, reasons)
}

func TestWorkPanic_StopsWithFailed(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, 10*time.Millisecond, true, rec, func(context.Context, int) (WorkResult, error) {
		panic("unexpected")
	})
	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)

	_, _, reasons := rec.snapshot()
	assert.Equal(t, []StopReason{StopReasonFailed}, reasons)
}

func TestRunsNeverOverlap(t *testing.T) {
	var inFlight, maxInFlight int32
	rec := &recorder{}
	work := func(_ context.Context, runCount int) (WorkResult, error) {
		n := atomic.AddInt32(&inFlight, 1)
		for {
			m := atomic.LoadInt32(&maxInFlight)
			if n <= m || atomic.CompareAndSwapInt32(&maxInFlight, m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return WorkResult{ShouldContinue: runCount < 4}, nil
	}

	for _, immediate := range []bool{true, false} {
		s := newTestScheduler(t, time.Millisecond, immediate, rec, work)
		require.NoError(t, s.Start(context.Background()))
		waitDone(t, s)
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxInFlight))
	assert.Equal(t, 10, rec.runCount())
}

func TestStop_PendingTimerReportsManual(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, 20*time.Millisecond, false, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{ShouldContinue: true}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	require.Eventually(t, func() bool { return rec.runCount() >= 3 }, time.Second, 5*time.Millisecond)

	s.Stop()
	waitDone(t, s)
	calls := rec.runCount()
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, calls, rec.runCount(), "no run after Stop")
	_, _, reasons := rec.snapshot()
	assert.Equal(t, []StopReason{StopReasonManual}, reasons)
}

func TestStop_Idempotent(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, time.Hour, false, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{ShouldContinue: true}, nil
	})
	s.Stop() // before Start: no-op
	require.NoError(t, s.Start(context.Background()))
	s.Stop()
	s.Stop()
	waitDone(t, s)

	_, _, reasons := rec.snapshot()
	assert.Equal(t, []StopReason{StopReasonManual}, reasons)
}

func TestStop_AfterNaturalStopIsNotManual(t *testing.T) {
	rec := &recorder{}
	s := newTestScheduler(t, 10*time.Millisecond, false, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{ShouldContinue: false}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	waitDone(t, s)
	s.Stop()

	_, _, reasons := rec.snapshot()
	assert.Equal(t, []StopReason{StopReasonWorkResult}, reasons)
	assert.NotContains(t, reasons, StopReasonManual)
}

func TestStop_DuringRunLetsItFinish(t *testing.T) {
	rec := &recorder{}
	started := make(chan struct{})
	release := make(chan struct{})
	var finished int32
	s := newTestScheduler(t, time.Millisecond, true, rec, func(context.Context, int) (WorkResult, error) {
		close(started)
		<-release
		atomic.StoreInt32(&finished, 1)
		return WorkResult{ShouldContinue: true}, nil
	})
	require.NoError(t, s.Start(context.Background()))
	<-started
	s.Stop()
	close(release)
	waitDone(t, s)

	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
	assert.Equal(t, 1, rec.runCount())
	_, _, reasons := rec.snapshot()
	assert.Equal(t, []StopReason{StopReasonManual}, reasons)
}

func TestContextCancel_EndsLoop(t *testing.T) {
	rec := &recorder{}
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestScheduler(t, time.Hour, false, rec, func(context.Context, int) (WorkResult, error) {
		return WorkResult{ShouldContinue: true}, nil
	})
	require.NoError(t, s.Start(ctx))
	cancel()
	waitDone(t, s)

	assert.Equal(t, 0, rec.runCount())
	_, _, reasons := rec.snapshot()
	assert.Equal(t, []StopReason{StopReasonManual}, reasons)
}

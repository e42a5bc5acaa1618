package blink

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/standardbeagle/blink/internal/gpio"
	"github.com/standardbeagle/blink/internal/testutil"
	"github.com/standardbeagle/blink/pkg/events"
)

const shortWait = time.Second

var epoch = time.Date(2019, 5, 1, 12, 0, 0, 0, time.UTC)

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(event events.Event) {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
}

func (p *recordingPublisher) count(t events.EventType) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (p *recordingPublisher) last(t events.EventType) (events.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := len(p.events) - 1; i >= 0; i-- {
		if p.events[i].Type == t {
			return p.events[i], true
		}
	}
	return events.Event{}, false
}

type fixture struct {
	clock *testclock.Clock
	sim   *gpio.Sim
	pub   *recordingPublisher
	ctrl  *Controller
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := testclock.NewClock(epoch)
	sim := gpio.NewSim(clk)
	pub := &recordingPublisher{}
	ctrl, err := NewController(Config{
		Output: sim,
		Clock:  clk,
		Events: pub,
		Source: "sim",
	})
	require.NoError(t, err)
	return &fixture{clock: clk, sim: sim, pub: pub, ctrl: ctrl}
}

// start runs the controller in the background and returns a channel
// carrying Run's result.
func (f *fixture) start() <-chan error {
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(context.Background()) }()
	return done
}

// waitWrites blocks until the simulator has recorded n writes.
func (f *fixture) waitWrites(t *testing.T, n int) {
	t.Helper()
	testutil.WaitForCount(t, shortWait, func() int { return len(f.sim.History()) }, n)
}

// halfPeriod lets the pending wait expire.
func (f *fixture) halfPeriod(t *testing.T) {
	t.Helper()
	require.NoError(t, f.clock.WaitAdvance(HalfPeriod, shortWait, 1))
}

func waitRun(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(shortWait):
		t.Fatal("Run did not return")
		return nil
	}
}

func TestNewControllerRequiresOutput(t *testing.T) {
	ctrl, err := NewController(Config{})
	assert.Nil(t, ctrl)
	assert.Error(t, err)
}

func TestInitialState(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, State{IsOn: false, Running: true}, f.ctrl.State())
	assert.True(t, f.ctrl.Running())
}

func TestAlternatesEveryHalfPeriod(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	done := f.start()

	// HIGH, LOW, HIGH, LOW over one second, then HIGH again.
	f.waitWrites(t, 1)
	for i := 0; i < 4; i++ {
		f.halfPeriod(t)
		f.waitWrites(t, i+2)
	}

	history := f.sim.History()
	require.Len(t, history, 5)
	for i, tr := range history {
		want := gpio.High
		if i%2 == 1 {
			want = gpio.Low
		}
		assert.Equal(t, want, tr.Level, "write %d", i)
		assert.Equal(t, time.Duration(i)*HalfPeriod, tr.At.Sub(epoch), "write %d", i)
	}
	assert.Equal(t, 2, f.ctrl.State().Cycles)
	assert.True(t, f.ctrl.State().IsOn)

	f.ctrl.Terminate()
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, gpio.Low, f.sim.Level())
	state := f.ctrl.State()
	assert.False(t, state.Running)
	assert.False(t, state.IsOn)
	assert.Equal(t, 2, state.Cycles)
}

func TestTerminateBeforeRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	f.ctrl.Terminate()
	require.NoError(t, waitRun(t, f.start()))

	assert.NotContains(t, f.sim.Levels(), gpio.High)
	assert.Equal(t, gpio.Low, f.sim.Level())
	assert.Equal(t, 0, f.ctrl.State().Cycles)
	assert.Equal(t, 0, f.pub.count(events.CycleDone))
}

func TestTerminateWhileHigh(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	done := f.start()

	f.waitWrites(t, 1)
	require.Equal(t, gpio.High, f.sim.Level())

	// No clock advance: the wait is interrupted mid half period.
	f.ctrl.Terminate()
	assert.Equal(t, gpio.Low, f.sim.Level())
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, gpio.Low, f.sim.Level())
	for _, tr := range f.sim.History() {
		assert.True(t, tr.At.Equal(epoch), "no write after the signal time")
	}
	assert.Equal(t, 0, f.ctrl.State().Cycles)
}

func TestTerminateWhileLow(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	done := f.start()

	f.waitWrites(t, 1)
	f.halfPeriod(t)
	f.waitWrites(t, 2)
	require.Equal(t, gpio.Low, f.sim.Level())

	f.ctrl.Terminate()
	require.NoError(t, waitRun(t, done))

	levels := f.sim.Levels()
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low}, levels[:2])
	assert.NotContains(t, levels[2:], gpio.High)
	// The interrupted cycle is not counted.
	assert.Equal(t, 0, f.ctrl.State().Cycles)
}

func TestTerminateIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	done := f.start()
	f.waitWrites(t, 1)

	f.ctrl.Terminate()
	f.ctrl.Terminate()
	require.NoError(t, waitRun(t, done))
	f.ctrl.Terminate()

	assert.False(t, f.ctrl.Running())
	assert.False(t, f.ctrl.State().IsOn)
	assert.Equal(t, gpio.Low, f.sim.Level())
	select {
	case <-f.ctrl.Done():
	default:
		t.Fatal("Done should be closed")
	}
}

func TestConcurrentTerminate(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	done := f.start()
	f.waitWrites(t, 1)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.ctrl.Terminate()
		}()
	}
	wg.Wait()

	require.NoError(t, waitRun(t, done))
	assert.Equal(t, gpio.Low, f.sim.Level())
}

func TestContextCancelStops(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.ctrl.Run(ctx) }()

	f.waitWrites(t, 1)
	cancel()

	require.NoError(t, waitRun(t, done))
	assert.False(t, f.ctrl.Running())
	assert.Equal(t, gpio.Low, f.sim.Level())
}

func TestCancelledContextBeforeRun(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, f.ctrl.Run(ctx))

	assert.NotContains(t, f.sim.Levels(), gpio.High)
	assert.Equal(t, gpio.Low, f.sim.Level())
	assert.False(t, f.ctrl.Running())
	assert.Equal(t, 0, f.ctrl.State().Cycles)
	assert.Equal(t, 0, f.pub.count(events.CycleDone))
}

func TestWriteFaultForcesLow(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	done := f.start()

	f.waitWrites(t, 1)
	boom := errors.New("line vanished")
	f.sim.Fail(boom)
	f.halfPeriod(t)

	err := waitRun(t, done)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "low")

	// The best-effort low write also failed, so the recorded state keeps
	// matching the last level that reached the line.
	assert.True(t, f.ctrl.State().IsOn)
	assert.False(t, f.ctrl.Running())

	stopped, ok := f.pub.last(events.BlinkStopped)
	require.True(t, ok)
	assert.Contains(t, stopped.Data["error"], "line vanished")
}

func TestPublishesLifecycleEvents(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	done := f.start()

	f.waitWrites(t, 1)
	for i := 0; i < 6; i++ {
		f.halfPeriod(t)
		f.waitWrites(t, i+2)
	}
	f.ctrl.Terminate()
	require.NoError(t, waitRun(t, done))

	assert.Equal(t, 1, f.pub.count(events.BlinkStarted))
	assert.Equal(t, 3, f.pub.count(events.CycleDone))
	assert.Equal(t, 7, f.pub.count(events.LevelChanged))

	cycle, ok := f.pub.last(events.CycleDone)
	require.True(t, ok)
	assert.Equal(t, 3, cycle.Data["cycle"])
	assert.Equal(t, "sim", cycle.Source)
	assert.True(t, cycle.Timestamp.Equal(epoch.Add(6*HalfPeriod)))

	stopped, ok := f.pub.last(events.BlinkStopped)
	require.True(t, ok)
	assert.Equal(t, 3, stopped.Data["cycles"])
	assert.NotContains(t, stopped.Data, "error")
}

// TestWallClockScenario runs against real time: blink for a second,
// terminate, and expect the loop to finish well within a half period.
func TestWallClockScenario(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping wall clock test in short mode")
	}
	defer goleak.VerifyNone(t)

	sim := gpio.NewSim(nil)
	ctrl, err := NewController(Config{Output: sim})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- ctrl.Run(context.Background()) }()

	time.Sleep(4*HalfPeriod + HalfPeriod/2)

	signalled := time.Now()
	ctrl.Terminate()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(HalfPeriod):
		t.Fatal("Run did not stop within one half period")
	}
	assert.Less(t, time.Since(signalled), HalfPeriod)

	history := sim.History()
	require.GreaterOrEqual(t, len(history), 5)
	assert.Equal(t, []gpio.Level{gpio.High, gpio.Low, gpio.High, gpio.Low, gpio.High}, sim.Levels()[:5])
	for i := 1; i < 5; i++ {
		gap := history[i].At.Sub(history[i-1].At)
		assert.InDelta(t, float64(HalfPeriod), float64(gap), float64(100*time.Millisecond), "gap %d", i)
	}
	assert.Equal(t, gpio.Low, sim.Level())
}

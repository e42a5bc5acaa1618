// Package blink drives one digital output high and low on a fixed half
// period until it is terminated.
package blink

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/standardbeagle/blink/pkg/events"
)

// HalfPeriod is how long each level is held.
const HalfPeriod = 250 * time.Millisecond

// Output is the line the controller toggles.
type Output interface {
	SetHigh() error
	SetLow() error
}

// State is a snapshot of the controller.
type State struct {
	IsOn    bool
	Running bool
	Cycles  int
}

// Config holds the controller's collaborators. Only Output is required.
type Config struct {
	Output Output
	Clock  clock.Clock
	Events events.Publisher
	Logger logrus.FieldLogger
	// Source names the line in published events.
	Source string
}

// Controller owns the blink state. Run and Terminate may be called from
// different goroutines; every output write and every change to running
// happens under mu, so once Terminate returns the line stays low.
type Controller struct {
	out    Output
	clock  clock.Clock
	events events.Publisher
	log    logrus.FieldLogger
	source string

	mu      sync.Mutex
	isOn    bool
	running bool
	cycles  int

	stop     chan struct{}
	stopOnce sync.Once
}

// NewController returns a controller with the output assumed low and
// running set.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Output == nil {
		return nil, fmt.Errorf("blink controller requires an output")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}
	if cfg.Logger == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		cfg.Logger = l
	}

	return &Controller{
		out:     cfg.Output,
		clock:   cfg.Clock,
		events:  cfg.Events,
		log:     cfg.Logger,
		source:  cfg.Source,
		running: true,
		stop:    make(chan struct{}),
	}, nil
}

// Run blinks until Terminate is called or ctx is done. It always
// returns with the output low. A failed write ends the loop with an error
// after a best-effort attempt to drive the line low.
func (c *Controller) Run(ctx context.Context) error {
	c.publish(events.BlinkStarted, nil)
	c.log.Debug("blink loop started")

	err := c.loop(ctx)

	c.Terminate()

	c.mu.Lock()
	cycles := c.cycles
	c.mu.Unlock()

	data := map[string]interface{}{"cycles": cycles}
	if err != nil {
		data["error"] = err.Error()
	}
	c.publish(events.BlinkStopped, data)
	c.log.WithField("cycles", cycles).Debug("blink loop stopped")

	return err
}

func (c *Controller) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			c.Terminate()
			return nil
		}

		ok, err := c.set(true)
		if err != nil || !ok {
			return err
		}
		if !c.wait(ctx) {
			return nil
		}

		ok, err = c.set(false)
		if err != nil || !ok {
			return err
		}
		if !c.wait(ctx) {
			return nil
		}

		c.mu.Lock()
		if !c.running {
			c.mu.Unlock()
			return nil
		}
		c.cycles++
		cycle := c.cycles
		c.mu.Unlock()

		c.publish(events.CycleDone, map[string]interface{}{"cycle": cycle})
	}
}

// set writes the level if the controller is still running. It reports
// false when the write was skipped because of termination.
func (c *Controller) set(on bool) (bool, error) {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return false, nil
	}

	var err error
	if on {
		err = c.out.SetHigh()
	} else {
		err = c.out.SetLow()
	}
	if err != nil {
		c.mu.Unlock()
		return false, fmt.Errorf("failed to set output %s: %w", levelName(on), err)
	}
	c.isOn = on
	c.mu.Unlock()

	c.publish(events.LevelChanged, map[string]interface{}{"on": on})
	return true, nil
}

// wait holds the current level for one half period. It returns false as
// soon as the controller is terminated or ctx is done.
func (c *Controller) wait(ctx context.Context) bool {
	select {
	case <-c.clock.After(HalfPeriod):
		return c.Running()
	case <-c.stop:
		return false
	case <-ctx.Done():
		c.Terminate()
		return false
	}
}

// Terminate stops the loop and drives the output low. It is safe to call
// at any time, from any goroutine, any number of times.
func (c *Controller) Terminate() {
	c.mu.Lock()
	c.running = false
	if err := c.out.SetLow(); err != nil {
		c.log.WithError(err).Error("failed to drive output low")
	} else {
		c.isOn = false
	}
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stop) })
}

// Running reports whether the loop should continue.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// State returns a snapshot of the controller.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return State{IsOn: c.isOn, Running: c.running, Cycles: c.cycles}
}

// Done is closed once Terminate has been called.
func (c *Controller) Done() <-chan struct{} {
	return c.stop
}

func (c *Controller) publish(t events.EventType, data map[string]interface{}) {
	if c.events == nil {
		return
	}
	c.events.Publish(events.Event{
		Type:      t,
		Source:    c.source,
		Timestamp: c.clock.Now(),
		Data:      data,
	})
}

func levelName(on bool) string {
	if on {
		return "high"
	}
	return "low"
}

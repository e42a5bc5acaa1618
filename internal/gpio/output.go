// Package gpio opens the single digital output line the blink controller
// drives. Three drivers exist: the Linux GPIO character device, the
// Raspberry Pi memory mapped registers, and an in-memory simulator.
package gpio

import (
	"errors"
	"fmt"
	"sort"

	"github.com/gofrs/flock"
	"github.com/juju/clock"
)

var (
	// ErrUnavailable marks every failure to bring up the output at startup.
	ErrUnavailable = errors.New("gpio output unavailable")
	// ErrBusy means another process holds the line lock.
	ErrBusy = errors.New("gpio line busy")
	// ErrUnknownDriver is returned for a driver name not in Drivers().
	ErrUnknownDriver = errors.New("unknown gpio driver")
	// ErrClosed is returned when writing to a closed output.
	ErrClosed = errors.New("gpio output closed")
)

const (
	DriverCdev = "cdev"
	DriverRpio = "rpio"
	DriverSim  = "sim"
)

// Level is the logic level of the output line.
type Level int

const (
	Low Level = iota
	High
)

func (l Level) String() string {
	if l == High {
		return "HIGH"
	}
	return "LOW"
}

// Output is a single digital output line.
type Output interface {
	SetHigh() error
	SetLow() error
	// Close drives the line low and releases it.
	Close() error
	String() string
}

// Config selects and addresses the output line.
type Config struct {
	Driver  string
	Chip    string
	Line    int
	LockDir string

	// Clock timestamps simulator writes. Defaults to the wall clock.
	Clock clock.Clock
}

type opener func(cfg Config) (Output, error)

var drivers = map[string]opener{
	DriverCdev: openCdev,
	DriverRpio: openRpio,
	DriverSim: func(cfg Config) (Output, error) {
		return NewSim(cfg.Clock), nil
	},
}

// Drivers returns the known driver names, sorted.
func Drivers() []string {
	names := make([]string, 0, len(drivers))
	for name := range drivers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open takes the line lock and opens the output. Errors wrap
// ErrUnavailable, so callers can treat them all as a setup fault;
// a held lock additionally wraps ErrBusy.
func Open(cfg Config) (Output, error) {
	open, ok := drivers[cfg.Driver]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrUnavailable, ErrUnknownDriver, cfg.Driver)
	}
	if cfg.Line < 0 {
		return nil, fmt.Errorf("%w: invalid line %d", ErrUnavailable, cfg.Line)
	}

	lock, err := lockLine(cfg.LockDir, cfg.Chip, cfg.Line)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	out, err := open(cfg)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("%w: %s %s line %d: %w", ErrUnavailable, cfg.Driver, cfg.Chip, cfg.Line, err)
	}

	return &lockedOutput{Output: out, lock: lock}, nil
}

// lockedOutput releases the line lock after the device is closed.
type lockedOutput struct {
	Output
	lock *flock.Flock
}

func (o *lockedOutput) Close() error {
	err := o.Output.Close()
	if unlockErr := o.lock.Unlock(); unlockErr != nil && err == nil {
		err = fmt.Errorf("failed to release line lock: %w", unlockErr)
	}
	return err
}

//go:build linux

package gpio

import (
	"fmt"

	"github.com/stianeikeland/go-rpio/v4"
)

// rpioOutput drives a BCM pin through /dev/gpiomem. The register mapping
// is process wide, so only one rpio output may be open at a time; the
// line lock enforces that per pin.
type rpioOutput struct {
	pin rpio.Pin
}

func openRpio(cfg Config) (Output, error) {
	if cfg.Line > 53 {
		return nil, fmt.Errorf("BCM pin %d out of range", cfg.Line)
	}
	if err := rpio.Open(); err != nil {
		return nil, err
	}
	pin := rpio.Pin(cfg.Line)
	driveLowAsOutput(pin)
	return &rpioOutput{pin: pin}, nil
}

func (o *rpioOutput) SetHigh() error {
	o.pin.High()
	return nil
}

func (o *rpioOutput) SetLow() error {
	o.pin.Low()
	return nil
}

func (o *rpioOutput) Close() error {
	o.pin.Low()
	return rpio.Close()
}

func (o *rpioOutput) String() string {
	return fmt.Sprintf("bcm:%d", int(o.pin))
}

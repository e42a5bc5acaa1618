//go:build linux

package gpio

import (
	"fmt"

	"github.com/warthog618/go-gpiocdev"
)

const consumer = "blink"

// cdevOutput drives a line through the GPIO character device.
type cdevOutput struct {
	chip   string
	offset int
	line   *gpiocdev.Line
}

func openCdev(cfg Config) (Output, error) {
	l, err := gpiocdev.RequestLine(cfg.Chip, cfg.Line,
		gpiocdev.AsOutput(0),
		gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, err
	}
	return &cdevOutput{chip: cfg.Chip, offset: cfg.Line, line: l}, nil
}

func (o *cdevOutput) SetHigh() error { return o.line.SetValue(1) }

func (o *cdevOutput) SetLow() error { return o.line.SetValue(0) }

// Close drives the line low, then reverts it to input before releasing it.
func (o *cdevOutput) Close() error {
	err := o.line.SetValue(0)
	if rerr := o.line.Reconfigure(gpiocdev.AsInput); rerr != nil && err == nil {
		err = rerr
	}
	if cerr := o.line.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (o *cdevOutput) String() string {
	return fmt.Sprintf("%s:%d", o.chip, o.offset)
}

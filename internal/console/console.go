// Package console prints the user-facing blink notices.
package console

import (
	"fmt"
	"io"
	"sync"

	"github.com/standardbeagle/blink/pkg/events"
)

const (
	BlinkNotice    = "blink"
	FarewellNotice = "bye"
)

// Printer writes one line per completed cycle and a single farewell.
type Printer struct {
	mu  sync.Mutex
	w   io.Writer
	bye bool
	err error
}

func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// Attach subscribes the printer to cycle events on the bus.
func (p *Printer) Attach(bus *events.EventBus) {
	bus.Subscribe(events.CycleDone, func(events.Event) {
		p.println(BlinkNotice)
	})
}

// Farewell prints the shutdown notice. Only the first call writes.
func (p *Printer) Farewell() {
	p.mu.Lock()
	if p.bye {
		p.mu.Unlock()
		return
	}
	p.bye = true
	p.mu.Unlock()

	p.println(FarewellNotice)
}

// Err returns the first write error, if any.
func (p *Printer) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *Printer) println(line string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := fmt.Fprintln(p.w, line); err != nil && p.err == nil {
		p.err = err
	}
}

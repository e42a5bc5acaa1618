package gpio

// latchedPin is a pin whose output latch can be written before the pin
// is switched to output mode.
type latchedPin interface {
	Low()
	Output()
}

// driveLowAsOutput clears the latch before enabling the output driver so
// a latch left high by an earlier user never reaches the line.
func driveLowAsOutput(p latchedPin) {
	p.Low()
	p.Output()
}

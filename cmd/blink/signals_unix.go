//go:build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"
)

// setupSignalHandling sets up signal handling for Unix systems
func setupSignalHandling(sigChan chan os.Signal) {
	// SIGTERM is what systemd and docker send on stop.
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
}

//go:build !linux

package gpio

import (
	"fmt"
	"runtime"
)

func openCdev(Config) (Output, error) {
	return nil, fmt.Errorf("gpio character device is not supported on %s", runtime.GOOS)
}

func openRpio(Config) (Output, error) {
	return nil, fmt.Errorf("gpiomem access is not supported on %s", runtime.GOOS)
}

//go:build unix

package commands

import (
	"os"
	"os/signal"
	"syscall"
)

// pauseSignals delivers SIGUSR1, which toggles pause during run.
func pauseSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1)
	return ch, func() { signal.Stop(ch) }
}

//go:build !unix

package commands

import "os"

func pauseSignals() (<-chan os.Signal, func()) {
	return nil, func() {}
}

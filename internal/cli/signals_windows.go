//go:build windows

package cli

import "os"

var (
	stopSignals  = []os.Signal{os.Interrupt}
	quietSignals []os.Signal
	dumpSignals  []os.Signal
)

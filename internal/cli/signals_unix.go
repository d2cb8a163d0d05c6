//go:build !windows

package cli

import (
	"os"
	"syscall"
)

var (
	stopSignals  = []os.Signal{syscall.SIGINT, syscall.SIGTERM}
	quietSignals = []os.Signal{syscall.SIGTSTP, syscall.SIGUSR1}
	dumpSignals  = []os.Signal{syscall.SIGTTIN}
)

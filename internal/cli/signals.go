package cli

import (
	"bytes"
	"context"
	"os"
	"runtime/pprof"
	"slices"
	"time"

	runtimepkg "github.com/drblury/subserver/internal/runtime"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

func handledSignals() []os.Signal {
	all := append([]os.Signal{}, stopSignals...)
	all = append(all, quietSignals...)
	return append(all, dumpSignals...)
}

// handleSignal reacts to sig and reports whether the process should exit.
func handleSignal(sig os.Signal, svc *runtimepkg.Service, launcher *runtimepkg.Launcher, timeout time.Duration, logger loggingpkg.ServiceLogger) bool {
	logger.Debug("Got signal", loggingpkg.LogFields{"signal": sig.String()})
	switch {
	case slices.Contains(stopSignals, sig):
		logger.Info("Shutting down", loggingpkg.LogFields{"timeout": timeout.String()})
		launcher.Stop(context.Background(), timeout)
		return true
	case slices.Contains(quietSignals, sig):
		logger.Info("Received quiet signal, no longer accepting new work", nil)
		launcher.Quiet(context.Background())
	case slices.Contains(dumpSignals, sig):
		dump(svc, logger)
	default:
		logger.Warn("No handler for signal", loggingpkg.LogFields{"signal": sig.String()})
	}
	return false
}

// dump logs every in-flight message and the stacks of all goroutines.
func dump(svc *runtimepkg.Service, logger loggingpkg.ServiceLogger) {
	workers := svc.Stats().Workers()
	logger.Warn("Dumping in-flight messages", loggingpkg.LogFields{"count": len(workers)})
	for _, w := range workers {
		logger.Warn("In-flight message", loggingpkg.LogFields{
			"listener":     w.Listener,
			"subscription": w.Subscription,
			"message_uuid": w.MessageUUID,
			"running_for":  time.Since(w.StartedAt).String(),
		})
	}

	var buf bytes.Buffer
	if p := pprof.Lookup("goroutine"); p != nil {
		_ = p.WriteTo(&buf, 2)
	}
	logger.Warn("Goroutine dump", loggingpkg.LogFields{"stacks": buf.String()})
}

// Package cli is the subserver command line: it loads configuration, builds
// the service, launches the registered subscribers and turns process signals
// into quiet, stop and dump requests.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/carlmjohnson/versioninfo"
	"github.com/joho/godotenv"
	ucli "github.com/urfave/cli/v2"

	runtimepkg "github.com/drblury/subserver/internal/runtime"
	configpkg "github.com/drblury/subserver/internal/runtime/config"
	errspkg "github.com/drblury/subserver/internal/runtime/errors"
	loggingpkg "github.com/drblury/subserver/internal/runtime/logging"
)

// DefaultEnvFile is loaded into the environment before flags are parsed when
// it exists.
const DefaultEnvFile = ".env"

func init() {
	// -v is taken by --verbose.
	ucli.VersionFlag = &ucli.BoolFlag{Name: "version", Aliases: []string{"V"}, Usage: "print the version"}
}

// Options customises the command for a program embedding subserver.
type Options struct {
	// Setup registers subscribers, hooks and error handlers on the service
	// before the launcher starts.
	Setup func(svc *runtimepkg.Service) error
	// Deps is passed to the service constructor.
	Deps runtimepkg.ServiceDependencies
	// Output receives log lines unless a log file is configured. Defaults to
	// os.Stdout.
	Output io.Writer
	// EnvFile overrides DefaultEnvFile.
	EnvFile string
	// Signals replaces the process signal subscription.
	Signals <-chan os.Signal
}

// Run loads the env file and runs the command with args.
func Run(args []string, opts Options) error {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return err
	}
	return NewApp(opts).Run(args)
}

func loadEnvFile(path string) error {
	if path == "" {
		path = DefaultEnvFile
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("env file %s: %w", path, err)
	}
	return nil
}

// NewApp builds the command without running it.
func NewApp(opts Options) *ucli.App {
	return &ucli.App{
		Name:    "subserver",
		Usage:   "run pub/sub subscribers until told to stop",
		Version: versioninfo.Short(),
		Flags: []ucli.Flag{
			&ucli.StringFlag{
				Name:    "config",
				Aliases: []string{"C"},
				Usage:   "path to the YAML config file",
				EnvVars: []string{"SUBSERVER_CONFIG"},
			},
			&ucli.StringSliceFlag{
				Name:    "queue",
				Aliases: []string{"q"},
				Usage:   "queue to process, repeatable",
			},
			&ucli.IntFlag{
				Name:    "timeout",
				Aliases: []string{"t"},
				Usage:   "shutdown timeout in seconds",
			},
			&ucli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "log at debug level",
			},
			&ucli.StringFlag{
				Name:    "environment",
				Aliases: []string{"e"},
				Usage:   "application environment",
				EnvVars: []string{"APP_ENV"},
			},
			&ucli.StringFlag{
				Name:    "tag",
				Aliases: []string{"g"},
				Usage:   "process tag shown in the status",
			},
			&ucli.IntFlag{
				Name:    "port",
				Aliases: []string{"P"},
				Usage:   "serve /health, /metrics and /status on this port",
				EnvVars: []string{"SUBSERVER_HEALTH_PORT"},
			},
			&ucli.StringFlag{
				Name:    "logfile",
				Aliases: []string{"L"},
				Usage:   "append logs to this file",
			},
			&ucli.StringFlag{
				Name:  "transport",
				Usage: "pubsub system: channel, kafka, rabbitmq, nats, aws or gocloud",
			},
		},
		Action: func(cctx *ucli.Context) error {
			return run(cctx, opts)
		},
	}
}

// loadConfig reads the config file and environment, then applies flags.
func loadConfig(cctx *ucli.Context) (*configpkg.Config, error) {
	conf, err := configpkg.Load(cctx.String("config"))
	if err != nil {
		return nil, err
	}

	if queues := cctx.StringSlice("queue"); len(queues) > 0 {
		conf.Queues = queues
	}
	if len(conf.Queues) == 0 {
		conf.Queues = []string{configpkg.DefaultQueue}
	}
	if cctx.IsSet("timeout") {
		secs := cctx.Int("timeout")
		if secs <= 0 {
			return nil, fmt.Errorf("timeout: must be positive, got %d", secs)
		}
		conf.Timeout = time.Duration(secs) * time.Second
	}
	if cctx.Bool("verbose") {
		conf.LogLevel = "debug"
	}
	if cctx.IsSet("environment") {
		conf.Environment = cctx.String("environment")
	}
	if cctx.IsSet("tag") {
		conf.Tag = cctx.String("tag")
	}
	if cctx.IsSet("port") {
		conf.HealthEnabled = true
		conf.HealthAddr = fmt.Sprintf(":%d", cctx.Int("port"))
	}
	if cctx.IsSet("logfile") {
		conf.LogFile = cctx.String("logfile")
	}
	if cctx.IsSet("transport") {
		conf.PubSubSystem = cctx.String("transport")
	}

	if err := conf.Validate(); err != nil {
		return nil, errspkg.NewConfigValidationError(err)
	}
	return conf, nil
}

func run(cctx *ucli.Context, opts Options) error {
	conf, err := loadConfig(cctx)
	if err != nil {
		return err
	}

	out := opts.Output
	if out == nil {
		out = os.Stdout
	}
	if conf.LogFile != "" {
		f, err := os.OpenFile(conf.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("log file: %w", err)
		}
		defer f.Close()
		out = f
	}
	logger := loggingpkg.NewSlogServiceLogger(loggingpkg.NewSlog(out, conf.LogFormat, conf.LogLevel))

	ctx := cctx.Context
	svc, err := runtimepkg.TryNewService(conf, logger, ctx, opts.Deps)
	if err != nil {
		return err
	}
	defer svc.Close()

	if opts.Setup != nil {
		if err := opts.Setup(svc); err != nil {
			return fmt.Errorf("setup: %w", err)
		}
	}

	logger.Info("Booting subserver", loggingpkg.LogFields{
		"version":     versioninfo.Short(),
		"identity":    svc.Identity().String(),
		"environment": conf.Environment,
		"transport":   conf.PubSubSystem,
		"queues":      strings.Join(conf.Queues, ","),
	})

	if conf.HealthEnabled {
		hs, err := svc.StartHealthServer(conf.HealthAddr)
		if err != nil {
			return fmt.Errorf("health server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = hs.Shutdown(shutdownCtx)
		}()
		logger.Info("Health server listening", loggingpkg.LogFields{"addr": hs.Addr()})
	}

	sigs := opts.Signals
	if sigs == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, handledSignals()...)
		defer signal.Stop(ch)
		sigs = ch
	}

	launcher := svc.Launcher()
	if err := launcher.Run(ctx); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			launcher.Stop(context.Background(), conf.Timeout)
			return nil
		case sig := <-sigs:
			if handleSignal(sig, svc, launcher, conf.Timeout, logger) {
				logger.Info("Bye!", nil)
				return nil
			}
		}
	}
}

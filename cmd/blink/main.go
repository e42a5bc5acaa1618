package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/google/uuid"
	"github.com/oklog/run"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/standardbeagle/blink/internal/blink"
	"github.com/standardbeagle/blink/internal/config"
	"github.com/standardbeagle/blink/internal/console"
	"github.com/standardbeagle/blink/internal/gpio"
	"github.com/standardbeagle/blink/internal/logs"
	"github.com/standardbeagle/blink/pkg/events"
)

var (
	// Version is set at build time
	Version = "dev"

	configPath   string
	driver       string
	chip         string
	line         int
	lockDir      string
	logLevel     string
	showVersion  bool
	showSettings bool

	// setupSignals is swapped out by tests.
	setupSignals = setupSignalHandling
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "blink",
		Short: "Blink a GPIO LED until interrupted",
		Long: `blink drives one GPIO line high and low every 250ms and prints "blink"
after each full cycle. On SIGINT or SIGTERM it drives the line low,
prints "bye" and exits.

Examples:
  blink                              # BCM GPIO 3 on gpiochip0
  blink --chip gpiochip4 --line 17   # another line (Raspberry Pi 5)
  blink --driver rpio --line 17      # /dev/gpiomem instead of the chardev
  blink --driver sim                 # dry run without hardware
  blink --settings                   # show the effective settings`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runApp,
	}

	rootCmd.Flags().BoolVarP(&showVersion, "version", "v", false, "Show version information")
	rootCmd.Flags().BoolVar(&showSettings, "settings", false, "Show current configuration settings with sources")

	// Settings flags are shared with init-config.
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "Config file (default: ./.blink.toml, then ~/.blink/config.toml)")
	pf.StringVar(&driver, "driver", gpio.DriverCdev, "GPIO driver: cdev, rpio or sim")
	pf.StringVar(&chip, "chip", "gpiochip0", "GPIO chip for the cdev driver")
	pf.IntVarP(&line, "line", "l", 3, "GPIO line offset (BCM number)")
	pf.StringVar(&lockDir, "lock-dir", gpio.DefaultLockDir(), "Directory for line lock files")
	pf.StringVar(&logLevel, "log-level", "info", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(newInitConfigCmd())
	rootCmd.Version = Version

	return rootCmd
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config [path]",
		Short: "Write the effective settings to a TOML file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ProjectFile
			if len(args) == 1 {
				path = args[0]
			}
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}
			if err := cfg.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveConfig layers explicitly set flags over the config file and
// validates the result, so a flag can correct a bad file value.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve working directory: %w", err)
	}

	cfg, err := config.LoadWithSources(configPath, wd)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.SetDriver(driver)
	}
	if flags.Changed("chip") {
		cfg.SetChip(chip)
	}
	if flags.Changed("line") {
		cfg.SetLine(line)
	}
	if flags.Changed("lock-dir") {
		cfg.SetLockDir(lockDir)
	}
	if flags.Changed("log-level") {
		cfg.SetLogLevel(logLevel)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

func runApp(cmd *cobra.Command, args []string) error {
	if showVersion {
		fmt.Fprintf(cmd.OutOrStdout(), "blink version %s\n", Version)
		return nil
	}

	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	if showSettings {
		fmt.Fprint(cmd.OutOrStdout(), cfg.DisplaySettingsWithSources())
		return nil
	}

	logger, err := logs.New(cfg.LogLevel, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	log := logger.WithFields(logrus.Fields{
		"instance": uuid.New().String(),
		"driver":   cfg.Driver,
		"chip":     cfg.Chip,
		"line":     cfg.Line,
	})

	out, err := gpio.Open(cfg.GPIO())
	if err != nil {
		return fmt.Errorf("setup failed: %w", err)
	}
	defer func() {
		if err := out.Close(); err != nil {
			log.WithError(err).Warn("failed to release output")
		}
	}()
	log.Info("opened output")

	busConfig := events.DefaultWorkerPoolConfig()
	busConfig.Logger = log
	eventBus := events.NewEventBusWithConfig(busConfig)
	printer := console.NewPrinter(cmd.OutOrStdout())
	printer.Attach(eventBus)
	logs.TraceEvents(eventBus, log)

	ctrl, err := blink.NewController(blink.Config{
		Output: out,
		Events: eventBus,
		Logger: log,
		Source: out.String(),
	})
	if err != nil {
		return err
	}

	// Handlers go in before the first toggle so a signal can never be missed.
	sigChan := make(chan os.Signal, 1)
	setupSignals(sigChan)
	defer signal.Stop(sigChan)

	err = serve(ctrl, sigChan, log)

	eventBus.Shutdown()
	printer.Farewell()

	if err != nil {
		log.WithError(err).Error("blink stopped on fault")
		return err
	}
	log.WithField("cycles", ctrl.State().Cycles).Info("stopped")
	return nil
}

// serve runs the blink loop and the signal watcher as one group. A
// termination signal ends the group cleanly; a runtime fault is returned.
func serve(ctrl *blink.Controller, sigChan <-chan os.Signal, log logrus.FieldLogger) error {
	var g run.Group

	ctx, cancel := context.WithCancel(context.Background())
	g.Add(func() error {
		select {
		case sig := <-sigChan:
			log.WithField("signal", sig.String()).Info("termination requested")
			ctrl.Terminate()
			return run.SignalError{Signal: sig}
		case <-ctx.Done():
			return ctx.Err()
		}
	}, func(error) {
		cancel()
	})

	g.Add(func() error {
		return ctrl.Run(context.Background())
	}, func(error) {
		ctrl.Terminate()
	})

	err := g.Run()

	var sigErr run.SignalError
	if errors.As(err, &sigErr) {
		return nil
	}
	return err
}

// Package main implements the condo_sync daemon: it keeps the local durable
// store of the condominium app synchronized with the remote API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/condo_sync/internal/backup"
	"github.com/cybertec-postgresql/condo_sync/internal/connectivity"
	"github.com/cybertec-postgresql/condo_sync/internal/log"
	"github.com/cybertec-postgresql/condo_sync/internal/partition"
	"github.com/cybertec-postgresql/condo_sync/internal/store"
	"github.com/cybertec-postgresql/condo_sync/internal/sync"
)

// Config holds the application configuration
type Config struct {
	StoreDSN      string `short:"s" env:"CONDO_SYNC_STORE_DSN" long:"store-dsn" description:"Local store: memory://, sqlite://path or postgres://..." default:"sqlite://condo_sync.db"`
	RemoteURL     string `short:"r" env:"CONDO_SYNC_REMOTE_URL" long:"remote-url" description:"Base URL of the remote API"`
	EtcdDSN       string `short:"e" env:"CONDO_SYNC_ETCD_DSN" long:"etcd-dsn" description:"Deliver mutations into etcd instead of the remote API"`
	AuthToken     string `env:"CONDO_SYNC_AUTH_TOKEN" long:"auth-token" description:"Bearer token sent to the remote API"`
	Partitions    string `env:"CONDO_SYNC_PARTITIONS" long:"partitions" description:"YAML file with the partition catalog"`
	LogLevel      string `short:"l" env:"CONDO_SYNC_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	LogJSON       bool   `env:"CONDO_SYNC_LOG_JSON" long:"log-json" description:"Log in JSON format"`
	DrainInterval string `long:"drain-interval" description:"Retry period while the sync queue is not empty" default:"30s"`
	ProbeInterval string `long:"probe-interval" description:"Connectivity probe period" default:"10s"`
	SweepInterval string `long:"sweep-interval" description:"Expired cache sweep period" default:"5m"`
	MaxAttempts   int    `long:"max-attempts" description:"Failed deliveries before an entry is dropped" default:"3"`
	Export        string `long:"export" description:"Write a compressed backup to this file and exit"`
	Import        string `long:"import" description:"Restore a compressed backup from this file and exit"`
	Version       bool   `short:"v" long:"version" description:"Show version information"`
	Help          bool
}

// Intervals holds the parsed periods of the background loops
type Intervals struct {
	Drain time.Duration
	Probe time.Duration
	Sweep time.Duration
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// ParseIntervals validates the interval options
func (c *Config) ParseIntervals() (Intervals, error) {
	var iv Intervals
	for _, d := range []struct {
		name  string
		value string
		dst   *time.Duration
	}{
		{"drain-interval", c.DrainInterval, &iv.Drain},
		{"probe-interval", c.ProbeInterval, &iv.Probe},
		{"sweep-interval", c.SweepInterval, &iv.Sweep},
	} {
		parsed, err := time.ParseDuration(d.value)
		if err != nil {
			return iv, fmt.Errorf("invalid %s: %w", d.name, err)
		}
		if parsed <= 0 {
			return iv, fmt.Errorf("invalid %s: must be positive", d.name)
		}
		*d.dst = parsed
	}
	return iv, nil
}

// ShowVersion prints version information and exits
func ShowVersion() {
	fmt.Printf("condo_sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Printf("commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Printf("built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string, json bool) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(json))
	logrus.SetReportCaller(false)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Info("condo_sync logging initialized")

	return nil
}

// SetupCloseHandler creates a 'listener' on a new goroutine which will notify the
// program if it receives an interrupt from the OS. We then handle this by calling
// our clean up procedure and exiting the program.
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

// LoadCatalog returns the partition catalog from path, or the built-in one
func LoadCatalog(path string) (*partition.Catalog, error) {
	if path == "" {
		return partition.Default(), nil
	}
	return partition.Load(path)
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion()
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel, config.LogJSON); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	intervals, err := config.ParseIntervals()
	if err != nil {
		logrus.WithError(err).Fatal("Invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	catalog, err := LoadCatalog(config.Partitions)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load partition catalog")
	}

	engine, err := OpenEngine(ctx, config.StoreDSN)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open local store")
	}
	st := store.New(engine, catalog)
	defer st.Close()

	switch {
	case config.Export != "":
		if _, err := backup.ExportFile(ctx, st, config.Export); err != nil {
			logrus.WithError(err).Fatal("Export failed")
		}
		return
	case config.Import != "":
		if _, err := backup.ImportFile(ctx, st, config.Import); err != nil {
			logrus.WithError(err).Fatal("Import failed")
		}
		return
	}

	tr, err := OpenTransport(ctx, config)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to set up remote transport")
	}
	defer tr.Close()

	monitor := connectivity.NewMonitor(false)
	prober := connectivity.NewProber(monitor, tr, intervals.Probe)

	syncEngine := sync.New(st, tr, monitor,
		sync.WithInterval(intervals.Drain),
		sync.WithMaxAttempts(config.MaxAttempts),
		sync.WithDrainHook(reportDrain),
	)
	if _, err := syncEngine.Reconcile(ctx); err != nil {
		logrus.WithError(err).Error("Failed to reconcile dirty records")
	}

	go st.RunCacheSweeper(ctx, intervals.Sweep)
	go prober.Run(ctx)

	if err := syncEngine.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("Synchronization failed")
	}

	logrus.Info("Graceful shutdown completed")
}

func reportDrain(res sync.Result) {
	if res.Dropped > 0 {
		logrus.WithField("dropped", res.Dropped).Warn("Mutations were dropped after exhausting their delivery attempts")
	}
}

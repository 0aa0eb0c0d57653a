package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/relay/pkg/api"
	"github.com/cuemby/relay/pkg/bbdo"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/endpoint"
	"github.com/cuemby/relay/pkg/events"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/monitoring"
	"github.com/cuemby/relay/pkg/multiplexing"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Relay - monitoring event broker",
	Long: `Relay receives monitoring events (host and service states,
acknowledgements, downtimes, logs, metrics) from producers over the BBDO
protocol and fans them out to every configured consumer, buffering on
disk while a consumer is away.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Relay version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "/etc/relay/relay.yaml", "Configuration file")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Relay version %s\nCommit: %s\nBuilt: %s\nBBDO: %d.%d.%d\n",
			Version, Commit, BuildTime,
			bbdo.ProtocolMajor, bbdo.ProtocolMinor, bbdo.ProtocolPatch)
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the broker",
	Long: `Run the broker with the given configuration until interrupted.

Examples:
  # Run with the default configuration file
  relay run

  # Run with debug logging
  relay run -c relay.yaml --log-level debug`,
	RunE: runBroker,
}

func init() {
	runCmd.Flags().String("log-level", "", "Override the configured log level (debug, info, warn, error)")
	runCmd.Flags().Bool("log-json", false, "Log in JSON format")
}

// newCatalog registers every event type this broker understands
func newCatalog() (*events.Catalog, error) {
	catalog := events.NewCatalog()
	if err := bbdo.Register(catalog); err != nil {
		return nil, err
	}
	if err := monitoring.Register(catalog); err != nil {
		return nil, err
	}
	return catalog, nil
}

func runBroker(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if jsonLogs, _ := cmd.Flags().GetBool("log-json"); jsonLogs {
		cfg.Log.JSON = true
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("main")

	metrics.SetVersion(Version)
	if cfg.API.HTTPAddr != "" {
		metrics.SetCriticalComponents("engine", "api")
	} else {
		metrics.SetCriticalComponents("engine")
	}

	catalog, err := newCatalog()
	if err != nil {
		return fmt.Errorf("failed to build event catalog: %w", err)
	}

	if cfg.Broker.CacheDir != "" {
		if err := os.MkdirAll(cfg.Broker.CacheDir, 0o750); err != nil {
			return fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	engine := multiplexing.NewEngine()
	endpoints, err := endpoint.NewManager(cfg, engine, catalog)
	if err != nil {
		return fmt.Errorf("failed to create endpoints: %w", err)
	}

	collector := metrics.NewCollector(engine, cfg.API.MetricsInterval)
	collector.Start()

	engine.Start()
	metrics.RegisterComponent("engine", true, "running")
	announce(engine, cfg, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	endpoints.Start(ctx)

	errCh := make(chan error, 2)

	var healthServer *api.HealthServer
	if cfg.API.HTTPAddr != "" {
		healthServer = api.NewHealthServer(engine)
		go func() {
			if err := healthServer.Start(cfg.API.HTTPAddr); err != nil {
				errCh <- fmt.Errorf("HTTP API error: %w", err)
			}
		}()
	}

	var grpcServer *api.GRPCServer
	if cfg.API.GRPCAddr != "" {
		grpcServer = api.NewGRPCServer(engine, time.Second)
		go func() {
			if err := grpcServer.Start(cfg.API.GRPCAddr); err != nil {
				errCh <- fmt.Errorf("gRPC API error: %w", err)
			}
		}()
	}

	logger.Info().
		Str("broker", cfg.Broker.Name).
		Uint32("instance_id", cfg.Broker.InstanceID).
		Int("endpoints", len(endpoints.Endpoints())).
		Msg("relay is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("shutting down after error")
	}

	// Outputs drain what is queued, then the rest is persisted or dropped
	// by each muxer's close policy
	announce(engine, cfg, false)
	engine.Stop()
	metrics.UpdateComponent("engine", false, "stopped")

	if err := endpoints.Stop(); err != nil {
		logger.Error().Err(err).Msg("failed to stop endpoints")
	}
	collector.Stop()

	if grpcServer != nil {
		grpcServer.Stop()
	}
	if healthServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := healthServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("failed to stop HTTP API")
		}
	}

	logger.Info().Msg("shutdown complete")
	return runErr
}

// announce tells downstream consumers that this instance came up or is
// going away
func announce(engine *multiplexing.Engine, cfg *config.Config, enabled bool) {
	ib := &events.InstanceBroadcast{
		BrokerID:   cfg.Broker.InstanceID,
		BrokerName: cfg.Broker.Name,
		Enabled:    enabled,
	}
	ib.SourceID = cfg.Broker.InstanceID

	if err := multiplexing.NewPublisher(engine).Publish(ib); err != nil {
		logger := log.WithComponent("main")
		logger.Warn().Err(err).Msg("failed to publish instance broadcast")
	}
}

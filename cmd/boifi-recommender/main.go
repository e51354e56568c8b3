// Command boifi-recommender runs the fault-injection recommender service.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/boifi/recommender/internal/analyzer"
	"github.com/boifi/recommender/internal/config"
	"github.com/boifi/recommender/internal/executor"
	"github.com/boifi/recommender/internal/metrics"
	"github.com/boifi/recommender/internal/server"
	"github.com/boifi/recommender/internal/session"
	"github.com/boifi/recommender/internal/space"
	"github.com/boifi/recommender/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "boifi-recommender",
		Short:         "Surrogate-guided fault-injection recommender",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), checkSpaceCmd())
	root.RunE = serveCmd().RunE // bare invocation serves

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and session workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Best effort; the environment wins over the file.
			_ = godotenv.Load(".env")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := buildLogger(cfg.LogLevel, cfg.LogFormat)
			if err != nil {
				return err
			}
			defer logger.Sync()

			m := metrics.New()

			st, err := store.Open(cfg.StoragePath, logger)
			if err != nil {
				return err
			}

			execCfg := executor.Config{
				BaseURL:          cfg.ExecutorBaseURL(),
				Timeout:          cfg.ExecutorTimeout,
				MaxAttempts:      cfg.RetryMaxAttempts,
				BaseDelay:        cfg.RetryBaseDelay,
				MaxDelay:         cfg.RetryMaxDelay,
				JitterPct:        cfg.RetryJitterPct,
				FailureThreshold: cfg.BreakerFailureThreshold,
				RecoveryTimeout:  cfg.BreakerRecoveryTimeout,
				AllowedPaths:     cfg.ExecutorAllowedPaths,
			}
			newClient := func() session.ExecutorClient {
				c := executor.New(execCfg, logger)
				c.OnBreakerTrip = m.BreakerTrips.Inc
				return c
			}

			mgr, err := session.NewManager(session.Config{
				DefaultMaxTrials: cfg.MaxTrials,
				ColdStartN:       cfg.InitialPoints,
				IterationTimeout: cfg.IterationTimeout,
				Analyzer:         analyzerConfig(cfg),
			}, st, newClient, m, logger)
			if err != nil {
				return err
			}

			probe := executor.New(execCfg, logger)
			srv := server.New(server.Config{Addr: cfg.ServerAddr()}, mgr, probe, m, logger)
			return srv.ListenAndServe()
		},
	}
}

func checkSpaceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-space FILE",
		Short: "Validate a search-space file (YAML or JSON)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sp, err := space.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: %d dimensions\n", len(sp.Dimensions))
			return nil
		},
	}
}

func analyzerConfig(cfg *config.Settings) analyzer.Config {
	return analyzer.Config{
		BaselineMS:   cfg.BaselineMS,
		ThresholdMS:  cfg.ThresholdMS,
		BugWeight:    cfg.BugWeight,
		PerfWeight:   cfg.PerfWeight,
		StructWeight: cfg.StructWeight,
	}
}

func buildLogger(level, format string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", level, err)
	}

	var cfg zap.Config
	switch format {
	case "console":
		cfg = zap.NewDevelopmentConfig()
	default:
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

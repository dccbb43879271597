package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/realHakeen/binance-liquidity-monitor/internal/config"
	applog "github.com/realHakeen/binance-liquidity-monitor/internal/log"
	"github.com/realHakeen/binance-liquidity-monitor/internal/orchestrator"
)

const version = "v0.1.0"

// Execute builds the liquiditymon command tree and runs it against ctx.
func Execute(ctx context.Context) error {
	root := &cobra.Command{
		Use:     "liquiditymon",
		Short:   "Binance order-book replica and liquidity monitor",
		Version: version,
	}

	var configPath string
	root.PersistentFlags().StringVar(&configPath, "config", "config/liquiditymon.yaml", "path to the YAML configuration file")

	root.AddCommand(serveCmd(ctx, &configPath))
	root.AddCommand(statusCmd(&configPath))
	root.AddCommand(versionCmd())

	return root.ExecuteContext(ctx)
}

func serveCmd(ctx context.Context, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Boot the replication engine and block until shutdown",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			applog.Setup(cfg.LogLevel, cfg.LogFormat)

			orch := orchestrator.New(cfg)

			srv := &http.Server{Addr: cfg.MetricsAddr, Handler: orch.Obs.Handler()}
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Error().Err(err).Msg("liquiditymon: metrics server failed")
				}
			}()

			runErr := orch.Run(cmd.Context())

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warn().Err(err).Msg("liquiditymon: metrics server shutdown")
			}

			return runErr
		},
	}
}

// statusCmd reports on the local configuration only; the live subscription
// and liquidity status surfaces are served over HTTP by a running `serve`
// process, which is an external collaborator this CLI does not reach into.
func statusCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Validate and print the resolved configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			fmt.Printf("config: %s\n", *configPath)
			fmt.Printf("  update interval:   %s\n", cfg.UpdateInterval)
			fmt.Printf("  pairs:             %v\n", cfg.Pairs)
			fmt.Printf("  metrics addr:      %s\n", cfg.MetricsAddr)
			fmt.Printf("  redis addr:        %s\n", cfg.RedisAddr)
			fmt.Printf("  core save cadence: %s\n", cfg.CoreSaveInterval())
			fmt.Printf("  adv save cadence:  %s\n", cfg.AdvancedSaveInterval())
			return nil
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the liquiditymon version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(os.Stdout, version)
		},
	}
}

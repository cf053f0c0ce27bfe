// optchaind serves option-chain documents over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/seenimoa/optchain/api"
	"github.com/seenimoa/optchain/internal/config"
	"github.com/seenimoa/optchain/internal/datasource"
	"github.com/seenimoa/optchain/internal/infra"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "optchaind",
		Short:        "Serve option chains over HTTP",
		Version:      fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE:         serve,
	}
	cmd.Flags().String("config", "", "config file path (default: ./config/config.yaml)")
	cmd.Flags().Int("port", 0, "listen port (overrides api.port)")
	return cmd
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configFile, _ := cmd.Flags().GetString("config")
	var (
		cfg *config.Config
		err error
	)
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.API.Port = port
	}
	return cfg, nil
}

func serve(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log := infra.NewLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	src, err := datasource.NewYFinance(cfg.Yahoo, log)
	if err != nil {
		return fmt.Errorf("market data client: %w", err)
	}

	api.Version = version
	srv, err := api.NewServer(cfg, src, log)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	return srv.ListenAndServe(cmd.Context(), addr)
}

// optchain exports a ticker's complete option chain as one JSON document.
//
//	optchain AAPL > aapl.json
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/seenimoa/optchain/internal/config"
	"github.com/seenimoa/optchain/internal/datasource"
	"github.com/seenimoa/optchain/internal/exporter"
	"github.com/seenimoa/optchain/internal/infra"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// sourceFactory opens the market data provider once config is known.
type sourceFactory func(cfg *config.Config, log logrus.FieldLogger) (datasource.OptionSource, error)

func yahooSource(cfg *config.Config, log logrus.FieldLogger) (datasource.OptionSource, error) {
	src, err := datasource.NewYFinance(cfg.Yahoo, log)
	if err != nil {
		return nil, err
	}
	return src, nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, yahooSource)
	stop()
	os.Exit(code)
}

// run executes the command and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, newSource sourceFactory) int {
	a := &app{
		stderr:    stderr,
		newSource: newSource,
		log:       infra.NewLogger(stderr, "info", "text"),
	}
	cmd := a.command()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		if exporter.KindOf(err) == exporter.KindArgument {
			fmt.Fprint(stderr, cmd.UsageString())
		}
		a.log.WithError(err).Error("optchain failed")
	}
	return exporter.ExitCode(err)
}

type app struct {
	stderr    io.Writer
	newSource sourceFactory
	log       *logrus.Logger
}

func (a *app) command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "optchain <ticker>",
		Short: "Export a ticker's full option chain as JSON",
		Long: `optchain fetches every listed expiration date for a ticker, then the
calls and puts for each date, and prints one JSON object keyed by date:

  {"2024-01-19":{"calls":[...],"puts":[...]}, ...}

Nothing is printed unless the whole chain was fetched. Settings are read from
./config/config.yaml, OPTCHAIN_CONFIG, .env and OPTCHAIN_* variables.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		Args:          tickerArg,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          a.export,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return exporter.ArgumentError("%v", err)
	})
	return cmd
}

func tickerArg(_ *cobra.Command, args []string) error {
	if len(args) != 1 {
		return exporter.ArgumentError("requires exactly 1 ticker argument, received %d", len(args))
	}
	return nil
}

func (a *app) export(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	a.log = infra.NewLogger(a.stderr, cfg.Logging.Level, cfg.Logging.Format)

	policy, err := cfg.NonFinitePolicy()
	if err != nil {
		return err
	}
	src, err := a.newSource(cfg, a.log)
	if err != nil {
		return fmt.Errorf("market data client: %w", err)
	}

	ticker := args[0]
	a.log.WithFields(logrus.Fields{
		"ticker":      ticker,
		"source":      src.Name(),
		"concurrency": cfg.Fetch.Concurrency,
	}).Debug("exporting option chain")

	exp := exporter.New(src,
		exporter.WithLogger(a.log),
		exporter.WithConcurrency(cfg.Fetch.Concurrency),
		exporter.WithNonFinite(policy),
	)
	return exp.Export(cmd.Context(), ticker, cmd.OutOrStdout())
}

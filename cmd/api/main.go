package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/ayo6706/wallet-settlement/internal/app"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "application error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "settlement",
		Short:         "Wallet settlement engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCommand(), migrateCommand(), sweepCommand(), auditCommand())
	return root
}

// withApp builds the application for one command and closes it afterwards.
func withApp(run func(ctx context.Context, a *app.App) error) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		a, err := app.New(ctx)
		if err != nil {
			return err
		}
		defer a.Close()
		return run(ctx, a)
	}
}

func serveCommand() *cobra.Command {
	var opts app.ServeOptions
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, background workers and notification consumer",
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			return a.Serve(ctx, opts)
		}),
	}
	cmd.Flags().BoolVar(&opts.Migrate, "migrate", false, "apply migrations before serving")
	cmd.Flags().BoolVar(&opts.WithWorkers, "workers", true, "run the sweep and audit workers in-process")
	return cmd
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			n, err := a.Migrate(ctx)
			if err != nil {
				return err
			}
			a.Logger().Info("migrations up to date", zap.Int("applied", n))
			return nil
		}),
	}
}

func sweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Resolve stuck gateway requests once and exit",
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			report, err := a.Jobs().Sweep(ctx)
			if err != nil {
				return err
			}
			a.Logger().Info("sweep finished", zap.Int("checked", report.Checked), zap.Int("flagged", report.Flagged))
			return printJSON(report)
		}),
	}
}

func auditCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "audit",
		Short: "Recompute wallet balances from the journal once and exit",
		RunE: withApp(func(ctx context.Context, a *app.App) error {
			report, err := a.Jobs().Audit(ctx)
			if err != nil {
				return err
			}
			return printJSON(report)
		}),
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

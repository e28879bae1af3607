// Package main provides the ranktree command line tool.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ricesearch/rank-tree/internal/config"
	"github.com/ricesearch/rank-tree/internal/pkg/logger"
	"github.com/ricesearch/rank-tree/internal/ranktree"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ranktree",
		Short: "Ranking trees - recursive partitioning of Plackett-Luce models",
		Long: `ranktree grows trees whose leaves are Plackett-Luce ranking models,
splitting groups of rankings on their covariates.

Examples:
  ranktree fit --data train.json --formula "rankings ~ age + region" --name prefs
  ranktree coef --name prefs --scale log --ref B
  ranktree predict --name prefs --data new.json --type rank
  ranktree aic --name prefs --data holdout.json`,
		SilenceUsage: true,
	}

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().String("format", "text", "output format (text, json)")

	rootCmd.AddCommand(
		fitCmd(),
		coefCmd(),
		predictCmd(),
		aicCmd(),
		agreementCmd(),
		listCmd(),
		deleteCmd(),
		eventsCmd(),
		metricsCmd(),
		versionCmd(),
	)
	return rootCmd
}

// openService loads configuration and opens the service the command runs
// against.
func openService(cmd *cobra.Command) (*ranktree.Service, *printer, error) {
	configPath, _ := cmd.Flags().GetString("config")
	verbose, _ := cmd.Flags().GetBool("verbose")
	format, _ := cmd.Flags().GetString("format")

	p, err := newPrinter(cmd.OutOrStdout(), format)
	if err != nil {
		return nil, nil, err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Log.Level
	if verbose {
		level = "debug"
	}
	log := logger.NewWithWriter(cmd.ErrOrStderr(), level, cfg.Log.Format)

	svc, err := ranktree.Open(cfg, log)
	if err != nil {
		return nil, nil, err
	}
	return svc, p, nil
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ranktree %s\n", version)
			fmt.Fprintf(out, "  commit: %s\n", commit)
			fmt.Fprintf(out, "  built:  %s\n", date)
		},
	}
}

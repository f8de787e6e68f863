package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"refwatch/internal/app"
	logx "refwatch/pkg/logx"
)

const programName = "refwatch"

var globalFlags = struct {
	configFile string
	envFile    string
	debug      bool
}{}

func newApp(cmd *cobra.Command, dryRun bool) (*app.App, error) {
	return app.New(app.Options{
		ConfigPath:      globalFlags.configFile,
		EnvFile:         globalFlags.envFile,
		EnvFileExplicit: cmd.Flags().Changed("env-file"),
		Debug:           globalFlags.debug,
		DryRun:          dryRun,
	})
}

func runCommand() *cobra.Command {
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Announce confirming referenda once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, dryRun)
			if err != nil {
				return err
			}
			defer a.Close()

			rep, err := a.RunOnce(cmd.Context())
			if err != nil {
				a.Logger().Error("run failed", logx.Err(err))
				return err
			}
			if dryRun {
				for _, an := range rep.Announced {
					fmt.Fprintf(cmd.OutOrStdout(), "--- #%d\n%s\n", an.ID, an.Text)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compose and log messages without publishing or saving the cache")
	return cmd
}

func scheduleCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schedule",
		Short: "Run announcement passes on the configured cron schedule",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Schedule(cmd.Context())
		},
	}
}

func estimateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "estimate <block>",
		Short: "Estimate the time left until a block height",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid block %q: %w", args[0], err)
			}
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Estimate(cmd.Context(), target)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func showCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <referendum>",
		Short: "Decode one referendum from chain state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid referendum id %q: %w", args[0], err)
			}
			a, err := newApp(cmd, false)
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.Show(cmd.Context(), uint32(id))
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	run := runCommand()
	rootCmd := &cobra.Command{
		Use:           programName,
		Short:         "Announce referenda that are about to finish confirming",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		// Without a subcommand, behave like "run".
		RunE: run.RunE,
	}
	rootCmd.Flags().AddFlagSet(run.Flags())

	rootCmd.PersistentFlags().StringVar(&globalFlags.configFile, "config", "", "path to a YAML or JSON config file")
	rootCmd.PersistentFlags().StringVar(&globalFlags.envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.debug, "debug", "D", false, "enable debug logging")

	rootCmd.AddCommand(run, scheduleCommand(), estimateCommand(), showCommand())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		cancel()
		os.Exit(1)
	}
}

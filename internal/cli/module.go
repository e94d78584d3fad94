package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/atomik-trading/broker-link/internal/registry"
	"github.com/atomik-trading/broker-link/internal/storage"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// defaultSymbolsKey stores the last explicitly requested symbol list, so a
// bare `run` resubscribes to the same market data as the previous session.
const defaultSymbolsKey = "cli.default_symbols"

// Version is stamped by the build.
var Version = "dev"

// Module provides the CLI commands
var Module = fx.Module("cli",
	fx.Provide(
		NewRunCmd,
	),
	fx.Invoke(RunCLI),
)

// NewRunCmd creates the run command
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Connect a broker account and stream its data",
	}

	cmd.Flags().StringP("broker", "b", "tradovate", "Broker to connect to")
	cmd.Flags().StringP("account", "a", "", "Broker account id")
	cmd.Flags().StringP("environment", "e", "demo", "Broker environment (demo, live)")
	cmd.Flags().StringSliceP("symbols", "s", nil, "Symbols to subscribe to market data for (defaults to the previous run's list)")
	cmd.MarkFlagRequired("account")

	return cmd
}

// RunCLI executes the cobra CLI with fx dependencies
func RunCLI(runCmd *cobra.Command, manager *registry.Manager, store *storage.Store, shutdowner fx.Shutdowner, logger *zap.Logger) {
	rootCmd := &cobra.Command{
		Use:   "broker-link",
		Short: "Atomik broker connectivity daemon",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			shutdowner.Shutdown()
		},
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(Version)
			shutdowner.Shutdown()
		},
	}

	rootCmd.AddCommand(runCmd, versionCmd)

	runCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return connectAccount(cmd, manager, store, logger)
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// connectAccount establishes the broker connection and initial subscriptions.
// The fx lifecycle keeps the process alive afterwards; data flows until the
// process receives a signal.
func connectAccount(cmd *cobra.Command, manager *registry.Manager, store *storage.Store, logger *zap.Logger) error {
	broker, _ := cmd.Flags().GetString("broker")
	account, _ := cmd.Flags().GetString("account")
	environment, _ := cmd.Flags().GetString("environment")
	flagSymbols, _ := cmd.Flags().GetStringSlice("symbols")
	symbols := resolveSymbols(cmd.Context(), store, flagSymbols, logger)

	if err := manager.EnsureConnection(cmd.Context(), broker, account, environment); err != nil {
		return fmt.Errorf("failed to connect account: %w", err)
	}

	for _, symbol := range symbols {
		if err := manager.Subscribe(broker, account, symbol, "quotes"); err != nil {
			logger.Warn("failed to subscribe",
				zap.String("symbol", symbol),
				zap.Error(err))
		}
	}

	logger.Info("account connected",
		zap.String("broker", broker),
		zap.String("account_id", account),
		zap.Int("subscriptions", len(symbols)))
	return nil
}

// resolveSymbols returns the symbol list to subscribe to. An explicit flag
// value wins and is persisted for the next run; without one the previously
// persisted list is used.
func resolveSymbols(ctx context.Context, store *storage.Store, flagSymbols []string, logger *zap.Logger) []string {
	if len(flagSymbols) > 0 {
		if err := store.PutSetting(ctx, defaultSymbolsKey, flagSymbols); err != nil {
			logger.Warn("failed to persist default symbols", zap.Error(err))
		}
		return flagSymbols
	}

	var saved []string
	err := store.GetSetting(ctx, defaultSymbolsKey, &saved)
	if errors.Is(err, storage.ErrSettingNotFound) {
		return nil
	}
	if err != nil {
		logger.Warn("failed to load default symbols", zap.Error(err))
		return nil
	}
	return saved
}

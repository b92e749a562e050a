package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/statemade/diffreview/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the record of posted reviews",
}

// openLedgerStrict opens the configured ledger and reports errors instead of
// degrading to a disabled store.
func openLedgerStrict(cmd *cobra.Command) (ledger.Store, error) {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return nil, err
	}
	logger, err := newLogger(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}
	store, err := ledger.Open(ledgerConfig(cfg.Ledger), logger)
	if err != nil {
		return nil, fmt.Errorf("opening ledger: %w", err)
	}
	return store, nil
}

var ledgerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Forget all posted reviews",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLedgerStrict(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Clear(cmd.Context())
		if err != nil {
			return fmt.Errorf("clearing ledger: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Ledger cleared (%d entries removed).\n", n)
		return nil
	},
}

var ledgerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openLedgerStrict(cmd)
		if err != nil {
			return err
		}
		defer store.Close()

		if _, ok := store.(ledger.Disabled); ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Ledger is disabled.")
			return nil
		}
		stats, err := store.Stats(cmd.Context())
		if err != nil {
			return fmt.Errorf("reading ledger stats: %w", err)
		}
		data, err := json.MarshalIndent(stats, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(data))
		return nil
	},
}

func init() {
	ledgerCmd.AddCommand(ledgerClearCmd)
	ledgerCmd.AddCommand(ledgerStatsCmd)
}

package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/emailfixer/creditd/internal/app/reconcile"
	"github.com/emailfixer/creditd/internal/domain"
	"github.com/emailfixer/creditd/internal/infra/logging"
)

func init() {
	rootCmd.AddCommand(transactionsCmd)
	rootCmd.AddCommand(alertsCmd)
	rootCmd.AddCommand(sweepCmd)

	alertsCmd.Flags().Int("limit", 20, "Maximum alerts to show")
	sweepCmd.Flags().Duration("max-age", 0, "Override sweeper.max_age")
}

// ─── transactions ───────────────────────────────────────────────────────────

var transactionsCmd = &cobra.Command{
	Use:   "transactions USER_ID",
	Short: "List a user's ledger, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runTransactions,
}

func runTransactions(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid user id %q", args[0])
	}
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := commandContext(cmd)
	if _, err := store.GetUser(ctx, id); err != nil {
		return err
	}
	txs, err := store.ListTransactions(ctx, id)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No transactions.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tTYPE\tSTATUS\tCREDITS\tAMOUNT\tEXTERNAL ID")
	for _, t := range txs {
		ext := t.ExternalID()
		if ext == "" {
			ext = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%+d\t%s\t%s\n",
			t.CreatedAt.Local().Format(time.DateTime), t.Type, t.Status, t.CreditsChange,
			t.Amount.StringFixed(domain.AmountScale), ext)
	}
	return tw.Flush()
}

// ─── alerts ─────────────────────────────────────────────────────────────────

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "List payments that need manual reconciliation",
	RunE:  runAlerts,
}

func runAlerts(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	store, _, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	alerts, err := store.ListAlerts(commandContext(cmd), limit)
	if err != nil {
		return err
	}
	if len(alerts) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No reconciliation alerts.")
		return nil
	}

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CREATED\tKIND\tEXTERNAL ID\tDETAIL")
	for _, a := range alerts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			a.CreatedAt.Local().Format(time.DateTime), a.Kind, a.ExternalTransactionID, a.Detail)
	}
	return tw.Flush()
}

// ─── sweep ──────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Fail abandoned checkouts that never reached the payment provider",
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	store, cfg, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	sc := cfg.SweeperSettings()
	if override, _ := cmd.Flags().GetDuration("max-age"); override > 0 {
		sc.MaxAge = override
	}

	s := reconcile.NewSweeper(sc, store, logging.New(cfg.Log))
	n, err := s.RunOnce(commandContext(cmd))
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Expired %d pending transaction(s).\n", n)
	return nil
}

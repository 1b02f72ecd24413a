package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/safar/storefront/internal/checkout"
)

var (
	reconcileOrphanAfter   time.Duration
	reconcileSessionExpiry time.Duration
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Remove unpaid orders that can no longer be paid",
	Long: `Run one reconciliation sweep and exit.

Deletes unpaid orders that never received a checkout session and are older
than --orphan-after. Unpaid orders whose session is older than
--session-expiry are checked with Stripe: expired sessions are deleted,
completed ones are fulfilled and open ones are kept. --session-expiry must be
at least 24h. Flags default to RECONCILE_ORPHAN_AFTER and
RECONCILE_SESSION_EXPIRY.`,
	Args:    cobra.NoArgs,
	PreRunE: validateReconcileFlags,
	RunE:    runReconcile,
}

func init() {
	reconcileCmd.Flags().DurationVar(&reconcileOrphanAfter, "orphan-after", 0, "age after which sessionless unpaid orders are removed")
	reconcileCmd.Flags().DurationVar(&reconcileSessionExpiry, "session-expiry", 0, "age after which unpaid sessions are checked with Stripe (min 24h)")
}

func validateReconcileFlags(cmd *cobra.Command, args []string) error {
	if reconcileOrphanAfter < 0 {
		return fmt.Errorf("--orphan-after must not be negative, got %s", reconcileOrphanAfter)
	}
	if cmd.Flags().Changed("session-expiry") {
		if err := checkout.ValidateSessionExpiry(reconcileSessionExpiry); err != nil {
			return fmt.Errorf("--session-expiry: %w", err)
		}
	}
	return nil
}

func runReconcile(cmd *cobra.Command, args []string) error {
	cfg, st, logger, err := openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.DB().Close()

	if cmd.Flags().Changed("session-expiry") {
		cfg.Reconcile.SessionExpiry = reconcileSessionExpiry
	}
	if reconcileOrphanAfter > 0 {
		cfg.Reconcile.OrphanAfter = reconcileOrphanAfter
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	publisher, closePublisher := newPublisher(cfg, logger)
	defer closePublisher()

	gateway := newStripe(cfg, logger)
	service := newService(cfg, st, gateway, publisher, nil, logger)

	result, err := checkout.NewReconciler(st, gateway, service, cfg.Reconcile.OrphanAfter, cfg.Reconcile.SessionExpiry, logger).RunOnce(cmd.Context())
	if err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "removed %d stale unpaid orders (%d without session, %d expired), recovered %d paid, %d pending\n",
		result.Removed(), result.Orphans, result.Expired, result.Recovered, result.Pending)
	return nil
}

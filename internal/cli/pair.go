package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tgcollect/tgcollect/internal/network"
	"github.com/tgcollect/tgcollect/internal/store"
)

var pairCmd = &cobra.Command{
	Use:   "pair <tenant-id>",
	Short: "Pair a tenant's device via QR code",
	Args:  cobra.ExactArgs(1),
	RunE:  runPair,
}

func runPair(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	st, cfg, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	printHeader("📲 Device Pairing")

	tenant, err := st.GetTenant(ctx, id)
	if err != nil {
		return err
	}
	if err := network.Pair(ctx, cfg.Paths.DataDir, tenant); err != nil {
		return err
	}

	if tenant.Status == store.TenantPendingAuth {
		if err := st.SetTenantStatus(ctx, id, store.TenantActive); err != nil {
			return err
		}
		fmt.Printf("Tenant %d activated.\n", id)
	}
	return nil
}

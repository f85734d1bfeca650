package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/tgcollect/tgcollect/internal/config"
	"github.com/tgcollect/tgcollect/internal/store"
)

var (
	tenantPhone string
	tenantCred  string
)

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
}

var tenantAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Register a new tenant (starts in pending-auth)",
	RunE:  runTenantAdd,
}

var tenantListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tenants",
	RunE:  runTenantList,
}

var tenantActivateCmd = &cobra.Command{
	Use:   "activate <tenant-id>",
	Short: "Mark a tenant active so the collector starts its worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantActivate,
}

var tenantDeactivateCmd = &cobra.Command{
	Use:   "deactivate <tenant-id>",
	Short: "Pause a tenant's collection",
	Args:  cobra.ExactArgs(1),
	RunE:  runTenantDeactivate,
}

var tenantKeywordsCmd = &cobra.Command{
	Use:   "keywords <tenant-id> [keyword,keyword,...]",
	Short: "Show or replace a tenant's alert keywords",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runTenantKeywords,
}

func init() {
	tenantAddCmd.Flags().StringVar(&tenantPhone, "phone", "", "Tenant phone number")
	tenantAddCmd.Flags().StringVar(&tenantCred, "credential", "", "Credential reference (defaults to tenant-<id>)")
	tenantAddCmd.MarkFlagRequired("phone")

	tenantCmd.AddCommand(tenantAddCmd)
	tenantCmd.AddCommand(tenantListCmd)
	tenantCmd.AddCommand(tenantActivateCmd)
	tenantCmd.AddCommand(tenantDeactivateCmd)
	tenantCmd.AddCommand(tenantKeywordsCmd)
}

// openStore loads config and opens the shared database for one-shot commands.
func openStore() (*store.Store, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(cfg.Paths.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, cfg, nil
}

func parseTenantID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid tenant id %q", arg)
	}
	return id, nil
}

func runTenantAdd(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	id, err := st.AddTenant(ctx, tenantPhone, tenantCred)
	if err != nil {
		return err
	}
	fmt.Printf("Tenant %d registered (%s).\n", id, tenantPhone)
	fmt.Printf("Next: tgcollect pair %d, then tgcollect tenant activate %d\n", id, id)
	return nil
}

func runTenantList(cmd *cobra.Command, args []string) error {
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	tenants, err := st.ListTenants(context.Background(), false)
	if err != nil {
		return err
	}
	if len(tenants) == 0 {
		fmt.Println("No tenants. Run 'tgcollect tenant add --phone ...' first.")
		return nil
	}

	fmt.Printf("%-6s %-18s %-14s %s\n", "ID", "PHONE", "STATUS", "SINCE")
	for _, t := range tenants {
		fmt.Printf("%-6d %-18s %-14s %s\n", t.ID, t.Phone, colorStatus(t.Status), t.CreatedAt.Format("2006-01-02"))
	}
	return nil
}

func colorStatus(status string) string {
	switch status {
	case store.TenantActive:
		return color.GreenString(status)
	case store.TenantFailed, store.TenantRevoked:
		return color.RedString(status)
	case store.TenantPaused:
		return color.YellowString(status)
	default:
		return status
	}
}

func runTenantActivate(cmd *cobra.Command, args []string) error {
	return setTenantStatus(args[0], store.TenantActive)
}

func runTenantDeactivate(cmd *cobra.Command, args []string) error {
	return setTenantStatus(args[0], store.TenantPaused)
}

// setTenantStatus writes the new status; the running collector picks the
// change up on its next reconcile tick.
func setTenantStatus(arg, status string) error {
	id, err := parseTenantID(arg)
	if err != nil {
		return err
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetTenantStatus(context.Background(), id, status); err != nil {
		return err
	}
	fmt.Printf("Tenant %d is now %s.\n", id, status)
	return nil
}

func runTenantKeywords(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	ctx := context.Background()

	if len(args) == 2 {
		var keywords []string
		for _, kw := range strings.Split(args[1], ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, kw)
			}
		}
		if err := st.SetAlertKeywords(ctx, id, keywords); err != nil {
			return err
		}
		fmt.Printf("Tenant %d alert keywords set: %s\n", id, strings.Join(keywords, ", "))
		return nil
	}

	keywords, err := st.AlertKeywords(ctx, id)
	if err != nil {
		return err
	}
	if len(keywords) == 0 {
		fmt.Println("No alert keywords configured.")
		return nil
	}
	fmt.Println(strings.Join(keywords, "\n"))
	return nil
}

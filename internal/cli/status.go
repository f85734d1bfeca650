package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tgcollect/tgcollect/internal/config"
	"github.com/tgcollect/tgcollect/internal/store"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ tgcollect Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show collector status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 tgcollect Status")
		fmt.Printf("Version: %s\n", version)

		path, err := config.ConfigPath()
		if err == nil {
			if _, statErr := os.Stat(path); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + path + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (defaults in effect)")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Printf("Config error: %v\n", err)
			return
		}
		if _, err := os.Stat(cfg.Paths.DBPath); err != nil {
			fmt.Println("Store:   ✗ Not found (run 'tgcollect run' to create it)")
			return
		}
		fmt.Println("Store:   ✓ " + cfg.Paths.DBPath)

		st, err := store.Open(cfg.Paths.DBPath)
		if err != nil {
			fmt.Printf("Store error: %v\n", err)
			return
		}
		defer st.Close()

		ctx := context.Background()
		tenants, err := st.ListTenants(ctx, false)
		if err != nil {
			fmt.Printf("Store error: %v\n", err)
			return
		}
		fmt.Printf("Tenants: %d\n", len(tenants))
		for _, t := range tenants {
			count, _ := st.MessageCount(ctx, t.ID, 0)
			fmt.Printf("  %-6d %-18s %-14s %d messages\n", t.ID, t.Phone, colorStatus(t.Status), count)
		}
	},
}

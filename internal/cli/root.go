// Package cli implements the tgcollect command tree.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/tgcollect/tgcollect/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"  _              _ _           _\n" +
		" | |_ __ _  ___ | | | ___  ___| |_\n" +
		" | __/ _` |/ __/ _ \\ |/ _ \\/ __| __|\n" +
		" | || (_| | (_| (_) | |  __/ (__| |_\n" +
		"  \\__\\__, |\\___\\___/|_|\\___|\\___|\\__|\n" +
		"     |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "tgcollect",
	Short: "tgcollect - multi-tenant group message collector",
	Long:  color.CyanString(logo) + "\nCollects group messages for many tenants into one local store,\nwith gap recovery, link aggregation, and keyword alerts.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(pairCmd)
	rootCmd.AddCommand(groupsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(linksCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}

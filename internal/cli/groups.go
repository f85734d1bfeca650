package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var groupsCmd = &cobra.Command{
	Use:   "groups <tenant-id>",
	Short: "List a tenant's monitored groups",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsList,
}

var groupsEnableCmd = &cobra.Command{
	Use:   "enable <tenant-id> <group-id>",
	Short: "Enable collection for a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupEnabled(args, true)
	},
}

var groupsDisableCmd = &cobra.Command{
	Use:   "disable <tenant-id> <group-id>",
	Short: "Disable collection for a group",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setGroupEnabled(args, false)
	},
}

var groupsStatsCmd = &cobra.Command{
	Use:   "stats <tenant-id>",
	Short: "Per-group message counts and active senders",
	Args:  cobra.ExactArgs(1),
	RunE:  runGroupsStats,
}

func init() {
	groupsCmd.AddCommand(groupsEnableCmd)
	groupsCmd.AddCommand(groupsDisableCmd)
	groupsCmd.AddCommand(groupsStatsCmd)
}

func runGroupsList(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	groups, err := st.ListGroups(context.Background(), id, false)
	if err != nil {
		return err
	}
	if len(groups) == 0 {
		fmt.Println("No groups yet. Groups appear after the tenant's worker first connects.")
		return nil
	}

	fmt.Printf("%-20s %-10s %s\n", "GROUP ID", "ENABLED", "TITLE")
	for _, g := range groups {
		enabled := color.GreenString("yes")
		if !g.Enabled {
			enabled = color.YellowString("no")
		}
		fmt.Printf("%-20d %-10s %s\n", g.GroupID, enabled, g.Title)
	}
	return nil
}

func setGroupEnabled(args []string, enabled bool) error {
	tenantID, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	groupID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid group id %q", args[1])
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetGroupEnabled(context.Background(), tenantID, groupID, enabled); err != nil {
		return err
	}
	verb := "enabled"
	if !enabled {
		verb = "disabled"
	}
	fmt.Printf("Group %d %s for tenant %d.\n", groupID, verb, tenantID)
	return nil
}

func runGroupsStats(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	stats, err := st.GroupStats(context.Background(), id)
	if err != nil {
		return err
	}
	if len(stats) == 0 {
		fmt.Println("No messages collected yet.")
		return nil
	}

	fmt.Printf("%-28s %-10s %-8s %s\n", "GROUP", "MESSAGES", "SENDERS", "LAST ACTIVITY")
	for _, s := range stats {
		title := s.Title
		if title == "" {
			title = strconv.FormatInt(s.GroupID, 10)
		}
		if len(title) > 26 {
			title = title[:26] + "…"
		}
		fmt.Printf("%-28s %-10d %-8d %s\n", title, s.MessageCount, s.ActiveUsers, s.LastMsg.Format("2006-01-02 15:04"))
	}
	return nil
}

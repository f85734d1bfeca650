package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	messagesGroup int64
	messagesLimit int
)

var messagesCmd = &cobra.Command{
	Use:   "messages <tenant-id>",
	Short: "Show recently collected messages",
	Args:  cobra.ExactArgs(1),
	RunE:  runMessages,
}

func init() {
	messagesCmd.Flags().Int64Var(&messagesGroup, "group", 0, "Filter to one group id")
	messagesCmd.Flags().IntVar(&messagesLimit, "limit", 50, "Maximum messages to show")
}

func runMessages(cmd *cobra.Command, args []string) error {
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

	msgs, err := st.RecentMessages(ctx, id, messagesGroup, messagesLimit)
	if err != nil {
		return err
	}
	if len(msgs) == 0 {
		fmt.Println("No messages.")
		return nil
	}

	for _, m := range msgs {
		sender := m.SenderName
		if sender == "" {
			sender = fmt.Sprintf("%d", m.SenderID)
		}
		text := m.Text
		if text == "" && m.MediaType != "" {
			text = "[" + m.MediaType + "]"
		}
		group := st.GroupTitle(ctx, id, m.GroupID)
		fmt.Printf("%s  %-20s %-16s %s\n",
			m.Timestamp.Format("2006-01-02 15:04"), group, sender, text)
	}
	return nil
}

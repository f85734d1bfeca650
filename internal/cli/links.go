package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var linksLimit int

var linksCmd = &cobra.Command{
	Use:   "links <tenant-id>",
	Short: "Show a tenant's most-shared links",
	Args:  cobra.ExactArgs(1),
	RunE:  runLinks,
}

var linksTagCmd = &cobra.Command{
	Use:   "tag <tenant-id> <hash> <tag>",
	Short: "Tag a link aggregate",
	Args:  cobra.ExactArgs(3),
	RunE:  runLinksTag,
}

func init() {
	linksCmd.Flags().IntVar(&linksLimit, "limit", 20, "Maximum links to show")
	linksCmd.AddCommand(linksTagCmd)
}

func runLinks(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	links, err := st.TopLinks(context.Background(), id, linksLimit)
	if err != nil {
		return err
	}
	if len(links) == 0 {
		fmt.Println("No links collected yet.")
		return nil
	}

	for _, l := range links {
		fmt.Printf("%4d×  %s\n", l.Count, l.URL)
		var meta []string
		if l.Title != "" {
			meta = append(meta, l.Title)
		}
		if l.Tag != "" {
			meta = append(meta, "#"+l.Tag)
		}
		if len(l.GroupTitles) > 0 {
			meta = append(meta, "in "+strings.Join(l.GroupTitles, ", "))
		}
		if len(meta) > 0 {
			fmt.Printf("       %s\n", strings.Join(meta, " · "))
		}
		fmt.Printf("       hash %s, first %s, last %s\n",
			l.Hash[:12], l.FirstSeen.Format("2006-01-02"), l.LastSeen.Format("2006-01-02"))
	}
	return nil
}

func runLinksTag(cmd *cobra.Command, args []string) error {
	id, err := parseTenantID(args[0])
	if err != nil {
		return err
	}
	st, _, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.TagLink(context.Background(), id, args[1], args[2]); err != nil {
		return err
	}
	fmt.Printf("Link %s tagged %q.\n", args[1], args[2])
	return nil
}

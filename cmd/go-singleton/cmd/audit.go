package cmd

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/spf13/cobra"
)

var (
	auditCategory string
	auditAction   string
	auditNode     string
	auditSince    time.Duration
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent coordination audit entries",
	Long: `Query the group's audit stream for recorded coordination events
such as ownership changes, failovers, and conflict resolutions.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

func init() {
	auditCmd.Flags().StringVar(&auditCategory, "category", "", "filter by category")
	auditCmd.Flags().StringVar(&auditAction, "action", "", "filter by action")
	auditCmd.Flags().StringVar(&auditNode, "node", "", "filter by node ID")
	auditCmd.Flags().DurationVar(&auditSince, "since", time.Hour, "how far back to look")
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	g, err := connectGroup()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer g.Close()

	a := g.Audit()
	if a == nil {
		return fmt.Errorf("audit stream unavailable for group %q", g.Name())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	entries, err := a.Query(ctx, singleton.AuditFilter{
		Since:    time.Now().Add(-auditSince),
		Category: auditCategory,
		Action:   auditAction,
		NodeID:   auditNode,
	})
	if err != nil {
		return fmt.Errorf("failed to query audit stream: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No audit entries found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tNODE\tCATEGORY\tACTION\tDATA")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%v\n",
			e.Timestamp.Local().Format(time.RFC3339), e.NodeID, e.Category, e.Action, e.Data)
	}
	return w.Flush()
}

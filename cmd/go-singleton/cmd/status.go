package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status <key> [key...]",
	Short: "Show the current owner of one or more singletons",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runStatus,
}

var terminateCmd = &cobra.Command{
	Use:   "terminate <key>",
	Short: "Ask the current owner of a singleton to shut down",
	Args:  cobra.ExactArgs(1),
	RunE:  runTerminate,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(terminateCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	g, err := connectGroup()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer g.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	fmt.Printf("Group: %s\n", g.Name())
	fmt.Printf("NATS:  %s\n", g.NATS().ConnectedUrl())
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tOWNER\tINCARNATION\tRUNNING FOR")
	for _, key := range args {
		owner, err := g.Lookup(ctx, key)
		switch {
		case errors.Is(err, singleton.ErrNotFound):
			fmt.Fprintf(w, "%s\t(none)\t\t\n", key)
		case err != nil:
			fmt.Fprintf(w, "%s\t(error: %v)\t\t\n", key, err)
		default:
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				key, owner.NodeID, owner.Incarnation,
				time.Since(owner.StartedAt).Round(time.Second))
		}
	}
	return w.Flush()
}

func runTerminate(cmd *cobra.Command, args []string) error {
	g, err := connectGroup()
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer g.Close()

	key := args[0]
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := g.RequestTermination(ctx, key); err != nil {
		if errors.Is(err, singleton.ErrNotFound) {
			return fmt.Errorf("no owner found for %q", key)
		}
		return fmt.Errorf("failed to terminate %q: %w", key, err)
	}

	fmt.Printf("Singleton %q terminated.\n", key)
	return nil
}

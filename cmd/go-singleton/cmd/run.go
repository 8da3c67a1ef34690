package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var runCmd = &cobra.Command{
	Use:   "run <key> -- <command> [args...]",
	Short: "Run a command as a cluster-wide singleton",
	Long: `Start a node that races for ownership of <key> and, while it owns
it, runs <command> as a child process.

The node will:
- Connect to NATS and claim the key, or follow the current owner
- Run the command while it owns the key, forwarding stdout/stderr
- Send SIGTERM to the command on shutdown or ownership loss
- Take over automatically if the current owner dies

Example:
  go-singleton run billing-cron --group myapp -- /usr/local/bin/billing
  go-singleton run indexer --config /etc/go-singleton/config.yaml -- ./indexer -v`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSingleton,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().String("metrics-addr", "", "Prometheus metrics HTTP address")
	runCmd.Flags().String("restart", "transient", "Restart policy: transient, permanent, or temporary")
	runCmd.Flags().Duration("grace", singleton.DefaultShutdownGrace, "Shutdown grace period for the command")

	viper.BindPFlag("metrics_addr", runCmd.Flags().Lookup("metrics-addr"))
	viper.BindPFlag("restart", runCmd.Flags().Lookup("restart"))
	viper.BindPFlag("grace", runCmd.Flags().Lookup("grace"))
}

func runSingleton(cmd *cobra.Command, args []string) error {
	dash := cmd.ArgsLenAtDash()
	if dash < 1 || dash >= len(args) {
		return fmt.Errorf("usage: go-singleton run <key> -- <command> [args...]")
	}
	key := args[0]
	argv := args[dash:]

	policy, err := parseRestartPolicy(viper.GetString("restart"))
	if err != nil {
		return err
	}
	grace := viper.GetDuration("grace")

	opts := []singleton.Option{}
	if addr := viper.GetString("metrics_addr"); addr != "" {
		opts = append(opts, singleton.MetricsAddr(addr))
	}
	if creds := viper.GetString("nats_creds"); creds != "" {
		opts = append(opts, singleton.NATSCreds(creds))
	}

	g, err := connectGroup(opts...)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer g.Close()

	spec := singleton.CoordinatorSpec{
		Key: key,
		Child: singleton.ChildSpec{
			ID:       key,
			Start:    execChild(argv, grace),
			Shutdown: grace,
		},
		Restart: policy,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(os.Stderr, "Received signal %v, shutting down...\n", sig)
		cancel()
	}()

	fmt.Printf("Racing for singleton %q in group %q (node %s)\n", key, g.Name(), g.NodeID())

	sup := singleton.NewSupervisor(g, spec, nil)
	return sup.Run(ctx)
}

// execChild runs argv as a child process, terminating it when the
// ownership context is cancelled.
func execChild(argv []string, grace time.Duration) singleton.StartFunc {
	return func(ctx context.Context) error {
		c := exec.Command(argv[0], argv[1:]...)
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Start(); err != nil {
			return fmt.Errorf("failed to start %s: %w", argv[0], err)
		}

		waitCh := make(chan error, 1)
		go func() { waitCh <- c.Wait() }()

		select {
		case err := <-waitCh:
			return err
		case <-ctx.Done():
		}

		_ = c.Process.Signal(syscall.SIGTERM)
		select {
		case <-waitCh:
		case <-time.After(grace):
			_ = c.Process.Kill()
			<-waitCh
		}
		return nil
	}
}

func parseRestartPolicy(s string) (singleton.RestartPolicy, error) {
	switch s {
	case "transient":
		return singleton.RestartTransient, nil
	case "permanent":
		return singleton.RestartPermanent, nil
	case "temporary":
		return singleton.RestartTemporary, nil
	default:
		return 0, fmt.Errorf("unknown restart policy %q (want transient, permanent, or temporary)", s)
	}
}

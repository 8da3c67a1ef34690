package cmd

import (
	"fmt"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/spf13/cobra"
)

var initConfigCmd = &cobra.Command{
	Use:   "init-config <path>",
	Short: "Write a starter JSON config file",
	Long: `Write a JSON config file seeded from the current flags and
environment. Point any command at it with --config:

  go-singleton init-config /etc/go-singleton/config.json --group myapp
  go-singleton run billing-cron --config /etc/go-singleton/config.json -- /usr/local/bin/billing`,
	Args: cobra.ExactArgs(1),
	RunE: runInitConfig,
}

func init() {
	rootCmd.AddCommand(initConfigCmd)
}

func runInitConfig(cmd *cobra.Command, args []string) error {
	cfg := &singleton.FileConfig{
		Group:  getGroup(),
		NodeID: getNodeID(),
		NATS: singleton.NATSFileConfig{
			Servers: []string{getNATSURL()},
		},
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := singleton.WriteConfigToFile(cfg, args[0]); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\n", args[0])
	return nil
}

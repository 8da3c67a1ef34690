// Package cmd provides the CLI commands for go-singleton.
package cmd

import (
	"fmt"
	"os"
	"strings"

	singleton "github.com/ozanturksever/go-singleton"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile   string
	natsURL   string
	nodeID    string
	groupName string
	verbose   bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "go-singleton",
	Short: "Run and inspect cluster-wide singleton processes",
	Long: `go-singleton coordinates a set of nodes so that exactly one of them
runs a given worker at a time:
  - Atomic ownership claims via NATS JetStream KV
  - Heartbeat presence with automatic failover
  - Deterministic conflict resolution after partitions
  - Supervised restarts with backoff

Use go-singleton to run a command as a singleton, or to inspect and
terminate running singletons from the outside.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $HOME/.go-singleton.yaml)")
	rootCmd.PersistentFlags().StringVarP(&natsURL, "nats", "n", "nats://localhost:4222", "NATS server URL")
	rootCmd.PersistentFlags().StringVar(&nodeID, "node", "", "Node ID (default: hostname)")
	rootCmd.PersistentFlags().StringVarP(&groupName, "group", "g", "", "Group name")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")

	// Bind flags to viper
	viper.BindPFlag("nats_url", rootCmd.PersistentFlags().Lookup("nats"))
	viper.BindPFlag("node_id", rootCmd.PersistentFlags().Lookup("node"))
	viper.BindPFlag("group", rootCmd.PersistentFlags().Lookup("group"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Environment variable bindings
	viper.BindEnv("nats_url", "NATS_URL")
	viper.BindEnv("node_id", "NODE_ID")
	viper.BindEnv("group", "SINGLETON_GROUP", "GROUP")
}

// connectGroup opens the group connection. A --config pointing at a
// .json file goes through the library's FileConfig loader; everything
// else resolves through flags, environment, and the viper config.
func connectGroup(extra ...singleton.Option) (*singleton.Group, error) {
	if strings.HasSuffix(cfgFile, ".json") {
		cfg, err := singleton.LoadConfigFromFile(cfgFile)
		if err != nil {
			return nil, err
		}
		return singleton.ConnectFromConfig(cfg, extra...)
	}

	group := getGroup()
	if group == "" {
		return nil, fmt.Errorf("group name is required (use --group or set SINGLETON_GROUP env)")
	}
	return singleton.Connect(group, getNodeID(), getNATSURL(), extra...)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintln(os.Stderr, "Warning: could not find home directory:", err)
		} else {
			viper.AddConfigPath(home)
		}
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/go-singleton")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".go-singleton")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		if verbose {
			fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		}
	}
}

// getNATSURL returns the NATS URL from config or flag.
func getNATSURL() string {
	if natsURL != "" {
		return natsURL
	}
	return viper.GetString("nats_url")
}

// getNodeID returns the node ID from config, flag, or hostname.
func getNodeID() string {
	if nodeID != "" {
		return nodeID
	}
	if id := viper.GetString("node_id"); id != "" {
		return id
	}
	hostname, _ := os.Hostname()
	return hostname
}

// getGroup returns the group name from config or flag.
func getGroup() string {
	if groupName != "" {
		return groupName
	}
	return viper.GetString("group")
}

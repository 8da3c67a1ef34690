package cmd

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
)

var (
	// Version is set at build time via -ldflags
	Version = "dev"
	// Commit is set at build time via -ldflags
	Commit = "unknown"
	// BuildDate is set at build time via -ldflags
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Print(versionString())
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}

// versionString prefers the ldflags-injected values and falls back to
// the module build info stamped by the Go toolchain when none were
// injected, so plain `go install` builds still report their revision.
func versionString() string {
	version, commit, date := Version, Commit, BuildDate
	if info, ok := debug.ReadBuildInfo(); ok {
		if version == "dev" && info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "unknown" {
					commit = s.Value
					if len(commit) > 12 {
						commit = commit[:12]
					}
				}
			case "vcs.time":
				if date == "unknown" {
					date = s.Value
				}
			}
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "go-singleton %s\n", version)
	fmt.Fprintf(&b, "  commit: %s\n", commit)
	fmt.Fprintf(&b, "  built:  %s\n", date)
	fmt.Fprintf(&b, "  go:     %s\n", runtime.Version())
	return b.String()
}

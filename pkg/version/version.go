package version

import (
	"fmt"
	"runtime"
	"runtime/debug"

	"github.com/spf13/cobra"
)

const Name = "buildhook"

// Set at build time via -ldflags "-X github.com/heathcliff26/buildhook/pkg/version.version=..."
var version = "devel"

// Create a new version subcommand
func NewCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information and exit",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Print(Version())
		},
	}
}

// Return the version string of the binary, including commit and go version
func Version() string {
	commit := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				commit = setting.Value
				break
			}
		}
	}

	return fmt.Sprintf("%s:\n    Version: %s\n    Commit: %s\n    Go: %s\n", Name, version, commit, runtime.Version())
}

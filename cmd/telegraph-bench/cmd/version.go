// =============================================================================
// VERSION COMMAND - SHOW VERSION INFORMATION
// =============================================================================
//
// USAGE:
//   telegraph-bench version [--server URL]
//
// OUTPUT:
//   Client Version: v0.1.0
//   Server Version: v0.1.0 (if a server is given and reachable)
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/AliceSzzze/libgdx-ai-msg/internal/api"
	"github.com/AliceSzzze/libgdx-ai-msg/internal/cli"
)

var versionServer string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Show client and server version information.

Examples:
  telegraph-bench version
  telegraph-bench version --server http://lab:8080 -o json`,
	RunE: runVersion,
}

func init() {
	versionCmd.Flags().StringVarP(&versionServer, "server", "s", "",
		"Server URL (env: "+cli.EnvServer+")")
}

func runVersion(cmd *cobra.Command, args []string) error {
	info := &cli.VersionInfo{
		ClientVersion: api.Version,
	}

	if server := cli.ResolveServer(versionServer); server != "" {
		clientConfig := cli.DefaultClientConfig()
		clientConfig.ServerURL = server
		client := cli.NewClient(clientConfig)

		ctx, cancel := getContext()
		version, err := client.ServerVersion(ctx)
		cancel()
		if err != nil {
			logger.Warn("server unreachable", "server", server, "error", err)
		} else {
			info.ServerVersion = version
		}
	}

	return formatter.FormatVersion(info)
}

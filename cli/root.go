// Package cli implements the visioncraft-mcp command line.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

const longHelp = `VisionCraft MCP Server - Computer Vision Knowledge Base for Claude

This MCP server connects Claude and other AI assistants to the
VisionCraft computer vision knowledge base, providing up-to-date
information about computer vision technologies, algorithms, and frameworks.

The server speaks the Model Context Protocol over stdin/stdout and logs
to stderr. Use 'use visioncraft' in your Claude prompts to access this
knowledge.

Configuration is read from flags, VISIONCRAFT_* environment variables
(VISIONCRAFT_API_KEY, VISIONCRAFT_ENDPOINT, VISIONCRAFT_TOP_K), then
./visioncraft.yaml or ~/.visioncraft/config.yaml.`

// NewRootCmd creates the visioncraft-mcp command. version is reported
// by --version and announced to MCP clients.
func NewRootCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "visioncraft-mcp",
		Short: "VisionCraft knowledge base MCP server",
		Long:  longHelp,
		Args:  cobra.NoArgs,
		// SilenceUsage prevents printing usage on every error
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, version)
		},
	}

	cmd.Flags().String("api-key", "", "VisionCraft API key sent as X-VC-API-Key")
	cmd.Flags().String("config", "", "Path to a visioncraft.yaml config file")
	cmd.Flags().Bool("verbose", false, "Enable verbose/debug logging")
	cmd.Flags().Bool("quiet", false, "Suppress all log output except errors")

	cmd.Version = version
	cmd.SetVersionTemplate(fmt.Sprintf("visioncraft-mcp version %s\n", version))
	return cmd
}

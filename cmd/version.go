package cmd

import (
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/agentbrowser/bap/protocol"
	"github.com/agentbrowser/bap/server"
)

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the server and protocol versions",
		Run: func(cmd *cobra.Command, _ []string) {
			name := color.New(color.FgCyan, color.Bold)
			name.Fprint(cmd.OutOrStdout(), "bap")
			cmd.Printf(" v%s (protocol %s)\n", server.Version, protocol.ProtocolVersion)
		},
	}
}

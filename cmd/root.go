// Package cmd implements the bap command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/agentbrowser/bap/log"
)

type rootCommand struct {
	cmd    *cobra.Command
	logger *log.Logger

	configFile  string
	verbose     bool
	logCategory string
}

func newRootCommand() *rootCommand {
	c := &rootCommand{
		logger: log.New(logrus.StandardLogger(), nil),
	}
	c.cmd = &cobra.Command{
		Use:           "bap",
		Short:         "Browser Agent Protocol server",
		Long:          "bap exposes a browser to AI agents as a JSON-RPC 2.0 service over WebSocket.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return c.setup()
		},
	}
	flags := c.cmd.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "path to the YAML config file")
	flags.BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")
	flags.StringVar(&c.logCategory, "log-category", "", "regexp filtering debug log categories")

	c.cmd.AddCommand(newServeCommand(c))
	c.cmd.AddCommand(newVersionCommand())
	return c
}

func (c *rootCommand) setup() error {
	if c.verbose {
		if err := c.logger.SetLevel("debug"); err != nil {
			return err
		}
	}
	if err := c.logger.SetCategoryFilter(c.logCategory); err != nil {
		return err
	}
	return nil
}

// Execute runs the CLI and exits non-zero on error.
func Execute() {
	root := newRootCommand()
	if err := root.cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

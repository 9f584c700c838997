package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	chromedpengine "github.com/agentbrowser/bap/engine/chromedp"
	"github.com/agentbrowser/bap/env"
	"github.com/agentbrowser/bap/server"
)

type serveFlags struct {
	host    string
	port    int
	token   string
	profile string
}

func (f *serveFlags) register(flags *pflag.FlagSet) {
	flags.StringVar(&f.host, "host", "127.0.0.1", "listen host")
	flags.IntVar(&f.port, "port", 9322, "listen port")
	flags.StringVar(&f.token, "token", "", "auth token clients must present")
	flags.StringVar(&f.profile, "scope-profile", "standard", "scope profile granted at initialize (readonly, standard, full, privileged)")
}

func newServeCommand(root *rootCommand) *cobra.Command {
	var f serveFlags
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the BAP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := env.NewConfig()
			if err := cfg.ReadFile(root.configFile); err != nil {
				return err
			}
			if err := cfg.ReadEnv(nil); err != nil {
				return err
			}
			// CLI flags win over the file and the environment.
			if cmd.Flags().Changed("host") {
				cfg.Host = f.host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = f.port
			}
			if cmd.Flags().Changed("token") {
				cfg.AuthToken = f.token
			}
			if cmd.Flags().Changed("scope-profile") {
				cfg.ScopeProfile = f.profile
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if cfg.Debug {
				if err := root.logger.SetLevel("debug"); err != nil {
					return err
				}
			}

			srv := server.New(cfg, chromedpengine.New(root.logger), root.logger)
			defer srv.Close() //nolint:errcheck
			return srv.ListenAndServe()
		},
	}
	f.register(cmd.Flags())
	return cmd
}

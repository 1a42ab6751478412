package main

import (
	"github.com/spf13/cobra"

	"github.com/becomeliminal/convmem/config"
)

// cli carries the global flags and the app opened for the running command.
type cli struct {
	cfgFile string
	userID  string
	verbose bool

	app *app
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "convmem",
		Short: "Conversational memory for agents",
		Long: `convmem stores conversation history and learned user facts in an embedded
vector database and lets you search, inspect and prune them.

Configuration is read from convmem.yaml ($HOME/.convmem or the working
directory), .env and CONVMEM_* environment variables.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(c.cfgFile)
			if err != nil {
				return err
			}
			c.app, err = newApp(cmd.Context(), cfg, c.verbose)
			return err
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.close()
		},
	}

	rootCmd.PersistentFlags().StringVar(&c.cfgFile, "config", "", "config file (default: $HOME/.convmem/convmem.yaml)")
	rootCmd.PersistentFlags().StringVarP(&c.userID, "user", "u", "", "user id")
	rootCmd.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging")
	_ = rootCmd.MarkPersistentFlagRequired("user")

	rootCmd.AddCommand(
		c.statsCmd(),
		c.historyCmd(),
		c.recentCmd(),
		c.searchCmd(),
		c.factsCmd(),
		c.rememberCmd(),
		c.recordCmd(),
		c.contextCmd(),
		c.pruneCmd(),
	)
	return rootCmd
}

// Package cmd assembles the pantry-offline command line.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ajspantry/pantry-offline/cmd/buckets"
	"github.com/ajspantry/pantry-offline/cmd/precache"
	"github.com/ajspantry/pantry-offline/cmd/queue"
	"github.com/ajspantry/pantry-offline/cmd/serve"
	"github.com/ajspantry/pantry-offline/internal/conf"
)

// RootCommand builds the root command. Settings are loaded once, before any
// subcommand runs, and shared through the settings pointer.
func RootCommand(version string) *cobra.Command {
	v := conf.NewViper()
	settings := &conf.Settings{}
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "pantry-offline",
		Short:         "Offline cache edge for the AJS Pantry web application",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := conf.Load(v, configFile)
			if err != nil {
				return err
			}
			*settings = *loaded
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default: search ., ~/.config/pantry-offline, /etc/pantry-offline)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().String("cache-version", conf.DefaultCacheVersion, "name of the current cache bucket")
	rootCmd.PersistentFlags().String("origin", "", "public origin of the application, e.g. https://pantry.example.com")
	_ = v.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = v.BindPFlag("cache.version", rootCmd.PersistentFlags().Lookup("cache-version"))
	_ = v.BindPFlag("server.origin", rootCmd.PersistentFlags().Lookup("origin"))

	rootCmd.AddCommand(
		serve.Command(v, settings, version),
		precache.Command(settings),
		buckets.Command(settings),
		queue.Command(settings),
	)
	return rootCmd
}

// Package precache installs the current cache version without serving.
package precache

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajspantry/pantry-offline/internal/app"
	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/logger"
)

// Command creates the precache command.
func Command(settings *conf.Settings) *cobra.Command {
	var activate bool

	cmd := &cobra.Command{
		Use:   "precache",
		Short: "Fetch the static asset list into the current cache bucket",
		Long: `Precache fetches every static asset into the bucket named by the cache
version. It needs a persistent cache backend to be useful across runs.
With --activate, stale cache versions are deleted afterwards.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			log := app.NewLogger(settings)
			if settings.Cache.Backend == conf.BackendMemory {
				log.Warn("memory cache backend selected, precached assets are discarded on exit")
			}

			a, err := app.New(settings, log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			if err := a.Manager.Install(ctx); err != nil {
				return err
			}
			if activate {
				if err := a.Manager.Activate(ctx); err != nil {
					return err
				}
			}
			log.Info("precache finished",
				logger.String("version", a.Manager.Version()),
				logger.String("phase", a.Manager.Phase().String()))
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d assets cached\n",
				a.Manager.Version(), len(settings.Cache.StaticAssets))
			return err
		},
	}

	cmd.Flags().BoolVar(&activate, "activate", false, "delete stale cache versions after installing")
	return cmd
}

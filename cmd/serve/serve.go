// Package serve runs the offline edge proxy.
package serve

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/ajspantry/pantry-offline/internal/api"
	"github.com/ajspantry/pantry-offline/internal/app"
	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/logger"
	"github.com/ajspantry/pantry-offline/internal/offline"
	"github.com/ajspantry/pantry-offline/internal/telemetry"
)

const (
	registerInitialBackoff = 2 * time.Second
	registerMaxBackoff     = 5 * time.Minute
)

// Command creates the serve command.
func Command(v *viper.Viper, settings *conf.Settings, version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the offline edge proxy",
		Long: `Serve proxies the application through the offline cache. On start it
precaches the static asset list, activates the cache version and takes
control of traffic. Until then requests pass straight through.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), settings, version)
		},
	}

	cmd.Flags().String("listen", ":8080", "address to listen on")
	cmd.Flags().String("upstream", "", "application server to forward to (default: the origin)")
	cmd.Flags().String("admin-listen", "", "separate address for /_sw endpoints and metrics")
	_ = v.BindPFlag("server.listen", cmd.Flags().Lookup("listen"))
	_ = v.BindPFlag("server.upstream", cmd.Flags().Lookup("upstream"))
	_ = v.BindPFlag("server.admin_listen", cmd.Flags().Lookup("admin-listen"))
	return cmd
}

func run(ctx context.Context, settings *conf.Settings, version string) error {
	log := app.NewLogger(settings)
	logger.SetGlobal(log)

	reporter, err := telemetry.Init(settings.Sentry, "pantry-offline@"+version, log.Module("telemetry"))
	if err != nil {
		return err
	}
	defer reporter.Close(2 * time.Second)

	a, err := app.New(settings, log)
	if err != nil {
		return err
	}
	defer a.Close()

	srv, err := api.NewServer(api.Config{
		Manager:       a.Manager,
		Queue:         a.Queue,
		Notifier:      a.Notifier,
		Gatherer:      gatherer(a),
		MetricsPath:   settings.Metrics.Path,
		SeparateAdmin: settings.Server.AdminListen != "",
		Logger:        log.Module("api"),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Start(settings.Server.Listen)
	})
	if srv.SeparateAdmin() {
		g.Go(func() error {
			return srv.StartAdmin(settings.Server.AdminListen)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), app.ShutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error {
		registerWithRetry(gctx, a.Manager, log)
		return nil
	})

	err = g.Wait()
	log.Info("offline edge stopped")
	return err
}

// gatherer returns the metrics registry, or nil when metrics are disabled.
func gatherer(a *app.App) prometheus.Gatherer {
	if a.Registry == nil {
		return nil
	}
	return a.Registry
}

// registerWithRetry installs and activates the cache version, retrying with
// exponential backoff while the application is unreachable.
func registerWithRetry(ctx context.Context, m *offline.Manager, log logger.Logger) {
	backoff := registerInitialBackoff
	for attempt := 1; ; attempt++ {
		err := m.Register(ctx)
		if err == nil {
			log.Info("offline cache active",
				logger.String("version", m.Version()),
				logger.Int("attempts", attempt))
			return
		}
		if ctx.Err() != nil {
			return
		}
		log.Warn("offline cache registration failed, retrying",
			logger.String("version", m.Version()),
			logger.Int("attempt", attempt),
			logger.Duration("retry_in", backoff),
			logger.Error(err))

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		backoff = min(backoff*2, registerMaxBackoff)
	}
}

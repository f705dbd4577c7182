package conf

import (
	"time"

	"github.com/spf13/viper"
)

// DefaultCacheVersion names the current bucket. Bumping it is the only way to
// invalidate everything previously cached.
const DefaultCacheVersion = "ajs-pantry-v1"

// DefaultStaticAssets is precached on install. Relative entries resolve
// against server.origin.
var DefaultStaticAssets = []string{
	"/",
	"/static/style.css",
	"/static/theme-dark.css",
	"/static/script.js",
	"/offline",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/css/bootstrap.min.css",
	"https://cdnjs.cloudflare.com/ajax/libs/font-awesome/6.4.0/css/all.min.css",
	"https://cdn.jsdelivr.net/npm/bootstrap@5.3.0/dist/js/bootstrap.bundle.min.js",
}

// DefaultNeverCache lists path prefixes that always go to the network.
var DefaultNeverCache = []string{
	"/login",
	"/staff-login",
	"/logout",
	"/change-password",
	"/api/",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", ":8080")
	v.SetDefault("server.origin", "http://localhost:5000")
	v.SetDefault("server.upstream", "")
	v.SetDefault("server.admin_listen", "")

	v.SetDefault("cache.version", DefaultCacheVersion)
	v.SetDefault("cache.backend", BackendMemory)
	v.SetDefault("cache.static_prefix", "/static/")
	v.SetDefault("cache.offline_path", "/offline")
	v.SetDefault("cache.static_assets", DefaultStaticAssets)
	v.SetDefault("cache.never_cache", DefaultNeverCache)
	v.SetDefault("cache.install_timeout", "60s")
	v.SetDefault("cache.install_rate", 0)
	v.SetDefault("cache.install_concurrency", 4)
	v.SetDefault("cache.write_timeout", "30s")

	v.SetDefault("database.sqlite_path", "pantry-offline.db")
	v.SetDefault("database.mysql_dsn", "")

	v.SetDefault("network.timeout", (30 * time.Second).String())
	v.SetDefault("network.user_agent", "pantry-offline/1.0")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.json", false)
	v.SetDefault("logging.timezone", "")

	v.SetDefault("notification.urls", []string{})
	v.SetDefault("notification.timeout", "30s")
	v.SetDefault("notification.mqtt.enabled", false)
	v.SetDefault("notification.mqtt.topic", "pantry-offline/lifecycle")
	v.SetDefault("notification.mqtt.client_id", "pantry-offline")

	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("syncqueue.enabled", true)
}

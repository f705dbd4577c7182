// Package conf loads pantry-offline settings from file, environment and flags.
package conf

import (
	"net/url"
	"strings"
	"time"

	"github.com/ajspantry/pantry-offline/internal/errors"
)

// Settings is the complete runtime configuration.
type Settings struct {
	Server       ServerSettings       `mapstructure:"server" yaml:"server" json:"server"`
	Cache        CacheSettings        `mapstructure:"cache" yaml:"cache" json:"cache"`
	Database     DatabaseSettings     `mapstructure:"database" yaml:"database" json:"database"`
	Network      NetworkSettings      `mapstructure:"network" yaml:"network" json:"network"`
	Logging      LoggingSettings      `mapstructure:"logging" yaml:"logging" json:"logging"`
	Notification NotificationSettings `mapstructure:"notification" yaml:"notification" json:"notification"`
	Sentry       SentrySettings       `mapstructure:"sentry" yaml:"sentry" json:"sentry"`
	Metrics      MetricsSettings      `mapstructure:"metrics" yaml:"metrics" json:"metrics"`
	SyncQueue    SyncQueueSettings    `mapstructure:"syncqueue" yaml:"syncqueue" json:"syncqueue"`
}

// ServerSettings configures the HTTP listener and the proxied application.
type ServerSettings struct {
	Listen string `mapstructure:"listen" yaml:"listen" json:"listen"`
	// Origin is the public origin pages are served from. Requests to any
	// other origin are treated as third-party assets.
	Origin string `mapstructure:"origin" yaml:"origin" json:"origin"`
	// Upstream is where origin-form requests are forwarded. Defaults to Origin.
	Upstream string `mapstructure:"upstream" yaml:"upstream" json:"upstream"`
	// AdminListen moves the /_sw endpoints and metrics to their own
	// address. Empty serves them on Listen.
	AdminListen string `mapstructure:"admin_listen" yaml:"admin_listen" json:"admin_listen"`
}

// CacheSettings configures the offline cache policy.
type CacheSettings struct {
	Version      string   `mapstructure:"version" yaml:"version" json:"version"`
	Backend      string   `mapstructure:"backend" yaml:"backend" json:"backend"` // memory, sqlite, mysql
	StaticPrefix string   `mapstructure:"static_prefix" yaml:"static_prefix" json:"static_prefix"`
	OfflinePath  string   `mapstructure:"offline_path" yaml:"offline_path" json:"offline_path"`
	StaticAssets []string `mapstructure:"static_assets" yaml:"static_assets" json:"static_assets"`
	NeverCache   []string `mapstructure:"never_cache" yaml:"never_cache" json:"never_cache"`
	// InstallTimeout bounds the whole precache step.
	InstallTimeout Duration `mapstructure:"install_timeout" yaml:"install_timeout" json:"install_timeout"`
	// InstallRate limits precache fetches per second; 0 means unlimited.
	InstallRate float64 `mapstructure:"install_rate" yaml:"install_rate" json:"install_rate"`
	// InstallConcurrency bounds parallel precache fetches.
	InstallConcurrency int `mapstructure:"install_concurrency" yaml:"install_concurrency" json:"install_concurrency"`
	// WriteTimeout bounds each background cache write.
	WriteTimeout Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
}

// DatabaseSettings configures the persistent cache and queue store.
type DatabaseSettings struct {
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path" json:"sqlite_path"`
	MySQLDSN   string `mapstructure:"mysql_dsn" yaml:"mysql_dsn" json:"-"`
}

// NetworkSettings configures outbound fetches.
type NetworkSettings struct {
	Timeout   Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	UserAgent string   `mapstructure:"user_agent" yaml:"user_agent" json:"user_agent"`
}

// LoggingSettings configures the process logger.
type LoggingSettings struct {
	Level    string `mapstructure:"level" yaml:"level" json:"level"`
	JSON     bool   `mapstructure:"json" yaml:"json" json:"json"`
	Timezone string `mapstructure:"timezone" yaml:"timezone" json:"timezone"`
}

// NotificationSettings configures operator notifications.
type NotificationSettings struct {
	URLs    []string     `mapstructure:"urls" yaml:"urls" json:"-"`
	Timeout Duration     `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
	MQTT    MQTTSettings `mapstructure:"mqtt" yaml:"mqtt" json:"mqtt"`
}

// MQTTSettings configures lifecycle event publishing over MQTT.
type MQTTSettings struct {
	Enabled  bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Broker   string `mapstructure:"broker" yaml:"broker" json:"broker"`
	Topic    string `mapstructure:"topic" yaml:"topic" json:"topic"`
	ClientID string `mapstructure:"client_id" yaml:"client_id" json:"client_id"`
	Username string `mapstructure:"username" yaml:"username" json:"username"`
	Password string `mapstructure:"password" yaml:"password" json:"-"`
}

// SentrySettings configures error reporting.
type SentrySettings struct {
	DSN         string `mapstructure:"dsn" yaml:"dsn" json:"-"`
	Environment string `mapstructure:"environment" yaml:"environment" json:"environment"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
	Path    string `mapstructure:"path" yaml:"path" json:"path"`
}

// SyncQueueSettings configures the offline change queue.
type SyncQueueSettings struct {
	Enabled bool `mapstructure:"enabled" yaml:"enabled" json:"enabled"`
}

// Cache backends.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendMySQL  = "mysql"
)

// Validate checks that the settings describe a usable configuration.
func (s *Settings) Validate() error {
	if s.Cache.Version == "" {
		return validationError("cache.version", "must not be empty")
	}
	if _, err := s.OriginURL(); err != nil {
		return err
	}
	if s.Server.Upstream != "" {
		if _, err := parseAbsoluteURL("server.upstream", s.Server.Upstream); err != nil {
			return err
		}
	}
	if s.Server.AdminListen != "" && s.Server.AdminListen == s.Server.Listen {
		return validationError("server.admin_listen", "must differ from server.listen")
	}
	if !strings.HasPrefix(s.Cache.OfflinePath, "/") {
		return validationError("cache.offline_path", "must be an absolute path")
	}
	if !strings.HasPrefix(s.Cache.StaticPrefix, "/") {
		return validationError("cache.static_prefix", "must be an absolute path")
	}
	for _, route := range s.Cache.NeverCache {
		if !strings.HasPrefix(route, "/") {
			return validationError("cache.never_cache", "route "+route+" must start with /")
		}
	}
	switch s.Cache.Backend {
	case BackendMemory:
	case BackendSQLite:
		if s.Database.SQLitePath == "" {
			return validationError("database.sqlite_path", "required for the sqlite backend")
		}
	case BackendMySQL:
		if s.Database.MySQLDSN == "" {
			return validationError("database.mysql_dsn", "required for the mysql backend")
		}
	default:
		return validationError("cache.backend", "unknown backend "+s.Cache.Backend)
	}
	if s.Cache.InstallRate < 0 {
		return validationError("cache.install_rate", "must not be negative")
	}
	if s.Notification.MQTT.Enabled && s.Notification.MQTT.Broker == "" {
		return validationError("notification.mqtt.broker", "required when MQTT is enabled")
	}
	return nil
}

// OriginURL parses server.origin.
func (s *Settings) OriginURL() (*url.URL, error) {
	return parseAbsoluteURL("server.origin", s.Server.Origin)
}

// UpstreamURL parses server.upstream, falling back to the origin.
func (s *Settings) UpstreamURL() (*url.URL, error) {
	if s.Server.Upstream == "" {
		return s.OriginURL()
	}
	return parseAbsoluteURL("server.upstream", s.Server.Upstream)
}

// Location returns the configured logging timezone, or local time.
func (s *Settings) Location() *time.Location {
	if s.Logging.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Logging.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

func parseAbsoluteURL(key, raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.New(err).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Context("key", key).
			Build()
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, validationError(key, "must be an absolute URL with scheme and host")
	}
	return u, nil
}

func validationError(key, reason string) error {
	return errors.Newf("invalid setting %s: %s", key, reason).
		Component("conf").
		Category(errors.CategoryConfiguration).
		Context("key", key).
		Build()
}

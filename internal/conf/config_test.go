package conf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "server:\n  origin: http://pantry.local\n")

	s, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, DefaultCacheVersion, s.Cache.Version)
	assert.Equal(t, BackendMemory, s.Cache.Backend)
	assert.Equal(t, "/static/", s.Cache.StaticPrefix)
	assert.Equal(t, "/offline", s.Cache.OfflinePath)
	assert.Equal(t, DefaultStaticAssets, s.Cache.StaticAssets)
	assert.Equal(t, DefaultNeverCache, s.Cache.NeverCache)
	assert.Equal(t, 30*time.Second, s.Network.Timeout.Std())
	assert.Equal(t, time.Minute, s.Cache.InstallTimeout.Std())
	assert.Equal(t, 4, s.Cache.InstallConcurrency)
	assert.Equal(t, 30*time.Second, s.Cache.WriteTimeout.Std())
}

func TestLoad_FileOverrides(t *testing.T) {
	path := writeConfig(t, `
server:
  origin: https://pantry.example.com
  upstream: http://10.0.0.5:5000
cache:
  version: ajs-pantry-v2
  install_timeout: 15
  install_rate: 4
  never_cache: ["/login", "/api/"]
network:
  timeout: 5s
`)

	s, err := Load(NewViper(), path)
	require.NoError(t, err)

	assert.Equal(t, "ajs-pantry-v2", s.Cache.Version)
	assert.Equal(t, 15*time.Second, s.Cache.InstallTimeout.Std())
	assert.InDelta(t, 4.0, s.Cache.InstallRate, 0)
	assert.Equal(t, []string{"/login", "/api/"}, s.Cache.NeverCache)
	assert.Equal(t, 5*time.Second, s.Network.Timeout.Std())

	up, err := s.UpstreamURL()
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5:5000", up.Host)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("PANTRY_CACHE_VERSION", "ajs-pantry-env")
	path := writeConfig(t, "server:\n  origin: http://pantry.local\n")

	s, err := Load(NewViper(), path)
	require.NoError(t, err)
	assert.Equal(t, "ajs-pantry-env", s.Cache.Version)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	_, err := Load(NewViper(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func validSettings() Settings {
	return Settings{
		Server: ServerSettings{Origin: "http://pantry.local"},
		Cache: CacheSettings{
			Version:      DefaultCacheVersion,
			Backend:      BackendMemory,
			StaticPrefix: "/static/",
			OfflinePath:  "/offline",
			NeverCache:   DefaultNeverCache,
		},
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(s *Settings)
		wantErr bool
	}{
		{"valid", func(_ *Settings) {}, false},
		{"empty version", func(s *Settings) { s.Cache.Version = "" }, true},
		{"relative origin", func(s *Settings) { s.Server.Origin = "pantry.local" }, true},
		{"bad upstream", func(s *Settings) { s.Server.Upstream = "/only/path" }, true},
		{"admin on public address", func(s *Settings) {
			s.Server.Listen = ":8080"
			s.Server.AdminListen = ":8080"
		}, true},
		{"admin on own address", func(s *Settings) {
			s.Server.Listen = ":8080"
			s.Server.AdminListen = "127.0.0.1:8081"
		}, false},
		{"relative offline path", func(s *Settings) { s.Cache.OfflinePath = "offline" }, true},
		{"never-cache without slash", func(s *Settings) { s.Cache.NeverCache = []string{"login"} }, true},
		{"unknown backend", func(s *Settings) { s.Cache.Backend = "redis" }, true},
		{"sqlite needs path", func(s *Settings) { s.Cache.Backend = BackendSQLite }, true},
		{"sqlite with path", func(s *Settings) {
			s.Cache.Backend = BackendSQLite
			s.Database.SQLitePath = "cache.db"
		}, false},
		{"mysql needs dsn", func(s *Settings) { s.Cache.Backend = BackendMySQL }, true},
		{"negative rate", func(s *Settings) { s.Cache.InstallRate = -1 }, true},
		{"mqtt needs broker", func(s *Settings) { s.Notification.MQTT.Enabled = true }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings()
			tt.mutate(&s)
			err := s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLocation(t *testing.T) {
	t.Parallel()

	s := validSettings()
	assert.Equal(t, time.Local, s.Location())

	s.Logging.Timezone = "UTC"
	assert.Equal(t, time.UTC, s.Location())

	s.Logging.Timezone = "Not/AZone"
	assert.Equal(t, time.Local, s.Location())
}

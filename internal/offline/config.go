package offline

import (
	"net/url"
	"time"

	"github.com/ajspantry/pantry-offline/internal/cachestore"
	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/errors"
)

// Config is the caching policy of one cache version.
type Config struct {
	// Version names the current bucket.
	Version string
	// Origin is the application's own origin; other origins are third-party.
	Origin *url.URL
	// StaticPrefix marks same-origin paths served cache-first.
	StaticPrefix string
	// OfflinePath is the fallback page served when nothing else is available.
	OfflinePath string
	// StaticAssets are precached on install. Relative entries resolve
	// against Origin.
	StaticAssets []string
	// NeverCache holds path prefixes that always bypass the bucket.
	NeverCache []string
	// InstallTimeout bounds Install; zero means no bound beyond the caller's.
	InstallTimeout time.Duration
}

// ConfigFromSettings builds a Config from loaded settings.
func ConfigFromSettings(s *conf.Settings) (Config, error) {
	origin, err := s.OriginURL()
	if err != nil {
		return Config{}, err
	}
	return Config{
		Version:        s.Cache.Version,
		Origin:         origin,
		StaticPrefix:   s.Cache.StaticPrefix,
		OfflinePath:    s.Cache.OfflinePath,
		StaticAssets:   append([]string(nil), s.Cache.StaticAssets...),
		NeverCache:     append([]string(nil), s.Cache.NeverCache...),
		InstallTimeout: s.Cache.InstallTimeout.Std(),
	}, nil
}

func (c *Config) validate() error {
	switch {
	case c.Version == "":
		return configError("version is required")
	case c.Origin == nil || c.Origin.Scheme == "" || c.Origin.Host == "":
		return configError("origin must be an absolute URL")
	case c.OfflinePath == "":
		return configError("offline path is required")
	}
	return nil
}

// resolve turns a configured asset or path into an absolute URL.
func (c *Config) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, err
	}
	return c.Origin.ResolveReference(u), nil
}

// keyFor is the bucket key of a configured asset or path.
func (c *Config) keyFor(ref string) (cachestore.RequestKey, error) {
	u, err := c.resolve(ref)
	if err != nil {
		return cachestore.RequestKey{}, err
	}
	return cachestore.KeyForURL(u.String())
}

func configError(reason string) error {
	return errors.Newf("invalid offline cache config: %s", reason).
		Component("offline").
		Category(errors.CategoryConfiguration).
		Build()
}

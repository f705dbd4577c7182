package notification

import (
	"context"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ajspantry/pantry-offline/internal/conf"
	"github.com/ajspantry/pantry-offline/internal/errors"
	"github.com/ajspantry/pantry-offline/internal/logger"
)

const (
	defaultSendTimeout = 30 * time.Second
	// duplicateWindow suppresses identical notifications sent in quick
	// succession, for example repeated install failures during an outage.
	defaultDuplicateWindow = 5 * time.Minute
)

// ServiceConfig configures the notification service.
type ServiceConfig struct {
	SendTimeout     time.Duration
	DuplicateWindow time.Duration
	Logger          logger.Logger
}

// DefaultServiceConfig returns the defaults.
func DefaultServiceConfig() *ServiceConfig {
	return &ServiceConfig{
		SendTimeout:     defaultSendTimeout,
		DuplicateWindow: defaultDuplicateWindow,
	}
}

// Service fans notifications out to providers.
type Service struct {
	config *ServiceConfig
	log    logger.Logger

	mu        sync.RWMutex
	providers []Provider

	recent *cache.Cache
}

// NewService creates a service with no providers.
func NewService(config *ServiceConfig) *Service {
	if config == nil {
		config = DefaultServiceConfig()
	}
	if config.SendTimeout <= 0 {
		config.SendTimeout = defaultSendTimeout
	}
	log := config.Logger
	if log == nil {
		log = logger.Global().Module("notification")
	}
	var recent *cache.Cache
	if config.DuplicateWindow > 0 {
		recent = cache.New(config.DuplicateWindow, 2*config.DuplicateWindow)
	}
	return &Service{config: config, log: log, recent: recent}
}

// NewServiceFromSettings builds a service with the providers enabled in s.
func NewServiceFromSettings(s *conf.NotificationSettings, log logger.Logger) (*Service, error) {
	svc := NewService(&ServiceConfig{
		SendTimeout:     s.Timeout.Std(),
		DuplicateWindow: defaultDuplicateWindow,
		Logger:          log,
	})
	if len(s.URLs) > 0 {
		if err := svc.AddProvider(NewShoutrrrProvider("shoutrrr", true, s.URLs, nil, s.Timeout.Std())); err != nil {
			return nil, err
		}
	}
	if s.MQTT.Enabled {
		if err := svc.AddProvider(NewMQTTProvider(s.MQTT, s.Timeout.Std())); err != nil {
			return nil, err
		}
	}
	return svc, nil
}

// AddProvider validates and registers p. Disabled providers are ignored.
func (s *Service) AddProvider(p Provider) error {
	if !p.IsEnabled() {
		return nil
	}
	if err := p.ValidateConfig(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers = append(s.providers, p)
	return nil
}

// Providers returns the registered providers.
func (s *Service) Providers() []Provider {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Provider(nil), s.providers...)
}

// Broadcast sends n to every provider that accepts its type. Provider
// failures are logged and returned joined; one failing provider does not
// stop the others.
func (s *Service) Broadcast(ctx context.Context, n *Notification) error {
	if s.isDuplicate(n) {
		s.log.Debug("suppressing duplicate notification", logger.String("title", n.Title))
		return nil
	}

	var errs []error
	for _, p := range s.Providers() {
		if !p.SupportsType(n.Type) {
			continue
		}
		sendCtx, cancel := context.WithTimeout(ctx, s.config.SendTimeout)
		err := p.Send(sendCtx, n)
		cancel()
		if err != nil {
			s.log.Warn("notification delivery failed",
				logger.String("provider", p.GetName()),
				logger.String("notification_id", n.ID),
				logger.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CreateAndBroadcast sends an informational notification. It satisfies the
// offline cache's notification sink.
func (s *Service) CreateAndBroadcast(title, message string) error {
	n := NewNotification(TypeInfo, PriorityMedium, title, message).WithComponent("offline")
	return s.Broadcast(context.Background(), n)
}

// Close releases provider resources.
func (s *Service) Close() {
	for _, p := range s.Providers() {
		if c, ok := p.(interface{ Close() }); ok {
			c.Close()
		}
	}
}

func (s *Service) isDuplicate(n *Notification) bool {
	if s.recent == nil {
		return false
	}
	key := string(n.Type) + "\x00" + n.Title + "\x00" + n.Message
	if err := s.recent.Add(key, struct{}{}, cache.DefaultExpiration); err != nil {
		return true
	}
	return false
}

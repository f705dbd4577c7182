package notification

import (
	"context"
	"fmt"
	"time"

	"github.com/nicholas-fedor/shoutrrr"
	"github.com/nicholas-fedor/shoutrrr/pkg/types"

	"github.com/ajspantry/pantry-offline/internal/errors"
)

// ShoutrrrProvider sends notifications to shoutrrr service URLs (ntfy,
// Telegram, Discord, SMTP, ...).
type ShoutrrrProvider struct {
	typeFilter
	name    string
	enabled bool
	urls    []string
	timeout time.Duration
}

// NewShoutrrrProvider creates a provider. allowed restricts which notification
// types are sent; nil sends everything.
func NewShoutrrrProvider(name string, enabled bool, urls []string, allowed []Type, timeout time.Duration) *ShoutrrrProvider {
	return &ShoutrrrProvider{
		typeFilter: allowed,
		name:       name,
		enabled:    enabled,
		urls:       append([]string(nil), urls...),
		timeout:    timeout,
	}
}

func (p *ShoutrrrProvider) GetName() string { return p.name }

func (p *ShoutrrrProvider) IsEnabled() bool { return p.enabled }

// ValidateConfig checks that every URL names a known shoutrrr service.
func (p *ShoutrrrProvider) ValidateConfig() error {
	if !p.enabled {
		return nil
	}
	if len(p.urls) == 0 {
		return providerError(p.name, fmt.Errorf("no service URLs configured"))
	}
	if _, err := shoutrrr.CreateSender(p.urls...); err != nil {
		return providerError(p.name, err)
	}
	return nil
}

// Send delivers n to every configured URL. The send runs in its own goroutine
// so a stuck service cannot outlive ctx or the provider timeout.
func (p *ShoutrrrProvider) Send(ctx context.Context, n *Notification) error {
	sender, err := shoutrrr.CreateSender(p.urls...)
	if err != nil {
		return providerError(p.name, err)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	params := types.Params{}
	if n.Title != "" {
		params.SetTitle(n.Title)
	}

	done := make(chan []error, 1)
	go func() {
		done <- sender.Send(n.Message, &params)
	}()

	select {
	case errs := <-done:
		var failures []error
		for _, e := range errs {
			if e != nil {
				failures = append(failures, e)
			}
		}
		if len(failures) > 0 {
			return providerError(p.name, errors.Join(failures...))
		}
		return nil
	case <-ctx.Done():
		return providerError(p.name, ctx.Err())
	}
}

func providerError(name string, err error) error {
	return errors.New(err).
		Component("notification").
		Category(errors.CategoryNetwork).
		Context("provider", name).
		Build()
}

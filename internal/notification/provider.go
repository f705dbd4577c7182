package notification

import (
	"context"
	"slices"
)

// Provider delivers notifications to one external service.
type Provider interface {
	GetName() string
	IsEnabled() bool
	ValidateConfig() error
	// SupportsType reports whether the provider wants notifications of t.
	SupportsType(t Type) bool
	Send(ctx context.Context, n *Notification) error
}

// typeFilter implements SupportsType for providers configured with an
// optional type allow-list. An empty list accepts every type.
type typeFilter []Type

func (f typeFilter) SupportsType(t Type) bool {
	return len(f) == 0 || slices.Contains(f, t)
}

// Package errors provides enhanced errors carrying a component, a category and
// free-form context, built fluently:
//
//	return errors.Newf("asset fetch returned status %d", status).
//		Component("offline").
//		Category(errors.CategoryNetwork).
//		Context("url", assetURL).
//		Build()
//
// The standard library helpers (Is, As, Join, Unwrap) are re-exported so
// callers only import this package.
package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
	"sync"
)

// Category classifies an error for logging and reporting.
type Category string

const (
	CategoryGeneric       Category = "generic"
	CategoryNetwork       Category = "network"
	CategoryStorage       Category = "storage"
	CategoryDatabase      Category = "database"
	CategoryConfiguration Category = "configuration"
	CategoryValidation    Category = "validation"
	CategoryNotFound      Category = "not-found"
	CategoryLifecycle     Category = "lifecycle"
)

// EnhancedError wraps an underlying error with component, category and context.
type EnhancedError struct {
	Err       error
	component string
	category  Category
	context   map[string]any
}

// Error returns the message of the wrapped error.
func (e *EnhancedError) Error() string {
	return e.Err.Error()
}

// Unwrap exposes the wrapped error to Is and As.
func (e *EnhancedError) Unwrap() error {
	return e.Err
}

// GetComponent returns the component that produced the error.
func (e *EnhancedError) GetComponent() string { return e.component }

// GetCategory returns the error category.
func (e *EnhancedError) GetCategory() Category { return e.category }

// GetContext returns a copy of the error context.
func (e *EnhancedError) GetContext() map[string]any {
	return maps.Clone(e.context)
}

// ErrorBuilder assembles an EnhancedError.
type ErrorBuilder struct {
	err *EnhancedError
}

// New starts building an enhanced error around err.
func New(err error) *ErrorBuilder {
	if err == nil {
		err = stderrors.New("unknown error")
	}
	return &ErrorBuilder{err: &EnhancedError{
		Err:      err,
		category: CategoryGeneric,
		context:  make(map[string]any),
	}}
}

// Newf starts building an enhanced error from a format string.
func Newf(format string, args ...any) *ErrorBuilder {
	return New(fmt.Errorf(format, args...))
}

// Component sets the originating component.
func (b *ErrorBuilder) Component(name string) *ErrorBuilder {
	b.err.component = name
	return b
}

// Category sets the error category.
func (b *ErrorBuilder) Category(c Category) *ErrorBuilder {
	b.err.category = c
	return b
}

// Context attaches a key/value pair.
func (b *ErrorBuilder) Context(key string, value any) *ErrorBuilder {
	b.err.context[key] = value
	return b
}

// Build finalizes the error and hands it to the installed reporter, if any.
func (b *ErrorBuilder) Build() *EnhancedError {
	reportError(b.err)
	return b.err
}

// Reporter receives every built error. Installed by the telemetry package.
type Reporter func(*EnhancedError)

var (
	reporterMu sync.RWMutex
	reporter   Reporter
)

// SetReporter installs (or clears, with nil) the error reporter.
func SetReporter(r Reporter) {
	reporterMu.Lock()
	defer reporterMu.Unlock()
	reporter = r
}

func reportError(e *EnhancedError) {
	reporterMu.RLock()
	r := reporter
	reporterMu.RUnlock()
	if r != nil {
		r(e)
	}
}

// Is reports whether any error in err's tree matches target.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As finds the first error in err's tree that matches target.
func As(err error, target any) bool { return stderrors.As(err, target) }

// Join returns an error that wraps the given errors.
func Join(errs ...error) error { return stderrors.Join(errs...) }

// Unwrap returns the result of calling Unwrap on err.
func Unwrap(err error) error { return stderrors.Unwrap(err) }

// NewStd creates a plain error, for package-level sentinels.
func NewStd(text string) error { return stderrors.New(text) }

package offline

import (
	"fmt"
	"strings"

	"github.com/ajspantry/pantry-offline/internal/logger"
)

// NotificationCreator abstracts the notification service for testability.
type NotificationCreator interface {
	CreateAndBroadcast(title, message string) error
}

// NoticeTemplate is the title and message rendered for one notice name.
type NoticeTemplate struct {
	Title   string
	Message string
}

// DefaultNoticeTemplates covers the notices operators usually care about.
// Fallback notices are frequent while offline and are not forwarded by
// default.
var DefaultNoticeTemplates = map[string]NoticeTemplate{
	NoticeInstalled: {
		Title:   "Offline cache {{version}} installed",
		Message: "Precached {{assets}} assets into {{bucket}}.",
	},
	NoticeInstallFailed: {
		Title:   "Offline cache {{version}} install failed",
		Message: "{{error}}",
	},
	NoticeActivated: {
		Title:   "Offline cache {{version}} active",
		Message: "Removed {{deleted}} old cache version(s).",
	},
}

// NoticeDispatcher forwards notices to the notification service.
type NoticeDispatcher struct {
	notifCreator NotificationCreator
	templates    map[string]NoticeTemplate
	log          logger.Logger
}

// NewNoticeDispatcher creates a dispatcher. A nil templates map uses
// DefaultNoticeTemplates.
func NewNoticeDispatcher(notifCreator NotificationCreator, templates map[string]NoticeTemplate, log logger.Logger) *NoticeDispatcher {
	if templates == nil {
		templates = DefaultNoticeTemplates
	}
	return &NoticeDispatcher{
		notifCreator: notifCreator,
		templates:    templates,
		log:          log,
	}
}

// Handle implements NoticeHandler. Notices without a template are ignored.
func (d *NoticeDispatcher) Handle(n *Notice) {
	tmpl, ok := d.templates[n.Name]
	if !ok || d.notifCreator == nil {
		return
	}
	title := renderTemplate(tmpl.Title, n)
	message := renderTemplate(tmpl.Message, n)
	if err := d.notifCreator.CreateAndBroadcast(title, message); err != nil {
		d.log.Error("failed to send cache notification",
			logger.String("notice", n.Name),
			logger.Error(err))
	}
}

// renderTemplate substitutes {{version}} and notice properties.
func renderTemplate(tmpl string, n *Notice) string {
	if tmpl == "" {
		return fmt.Sprintf("Offline cache %s: %s", n.Version, n.Name)
	}
	pairs := []string{"{{version}}", n.Version}
	for k, v := range n.Properties {
		pairs = append(pairs, fmt.Sprintf("{{%s}}", k), fmt.Sprintf("%v", v))
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

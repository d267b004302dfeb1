// Package apps bundles the integrations that ship with flowhook.
package apps

import (
	"github.com/awantoch/flowhook/app"
	"github.com/awantoch/flowhook/apps/dropbox"
	"github.com/awantoch/flowhook/apps/filter"
	"github.com/awantoch/flowhook/apps/fireflyiii"
	"github.com/awantoch/flowhook/apps/formatter"
	"github.com/awantoch/flowhook/apps/httprequest"
	"github.com/awantoch/flowhook/apps/scheduler"
	"github.com/awantoch/flowhook/apps/slack"
	"github.com/awantoch/flowhook/apps/webhook"
)

// Default returns fresh instances of the bundled apps.
func Default() []*app.App {
	return []*app.App{
		webhook.App(),
		scheduler.App(),
		filter.App(),
		formatter.App(),
		httprequest.App(),
		dropbox.App(),
		fireflyiii.App(),
		slack.App(),
	}
}

// NewRegistry registers the bundled apps plus any extra ones.
func NewRegistry(extra ...*app.App) (*app.Registry, error) {
	return app.NewRegistry(append(Default(), extra...)...)
}

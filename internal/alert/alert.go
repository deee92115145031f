// Package alert reports system-level faults to Sentry. Business rejections never go through here.
package alert

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"
)

// Init configures the Sentry client. An empty DSN leaves reporting disabled.
func Init(dsn, environment string) (flush func(), err error) {
	if dsn == "" {
		return func() {}, nil
	}
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		EnableTracing:    false,
		AttachStacktrace: true,
	}); err != nil {
		return func() {}, err
	}
	return func() { sentry.Flush(2 * time.Second) }, nil
}

// Capture logs err at error level and forwards it to Sentry with the given tags.
func Capture(err error, tags map[string]string) {
	if err == nil {
		return
	}
	event := log.Error().Err(err)
	for k, v := range tags {
		event = event.Str(k, v)
	}
	event.Msg("system fault")

	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		sentry.CaptureException(err)
	})
}

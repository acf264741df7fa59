package sentry

import (
	"context"
	"time"

	"github.com/getsentry/sentry-go"

	"coursecast/pkg/errors"
)

var _ errors.Tracker = (*Tracker)(nil)

// defaultFlushTimeout is used when Flush is called without a deadline
const defaultFlushTimeout = 2 * time.Second

// Config holds Sentry client settings
type Config struct {
	DSN         string
	Environment string
	Release     string
	ServerName  string

	// BeforeSend can inspect or drop events; used by tests
	BeforeSend func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event
}

// Tracker implements error tracking via Sentry
type Tracker struct {
	hub *sentry.Hub
}

// New creates a Sentry tracker with its own hub
func New(cfg Config) (*Tracker, error) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		Release:     cfg.Release,
		ServerName:  cfg.ServerName,
		BeforeSend:  cfg.BeforeSend,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init sentry client")
	}

	return &Tracker{
		hub: sentry.NewHub(client, sentry.NewScope()),
	}, nil
}

// CaptureError sends an error to Sentry with tags scoped to this event only
func (t *Tracker) CaptureError(ctx context.Context, err error, tags map[string]string) error {
	if err == nil {
		return nil
	}

	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		if owner, ok := tags["owner_id"]; ok {
			scope.SetUser(sentry.User{ID: owner})
		}
	})

	hub.CaptureException(err)
	return nil
}

// CaptureMessage sends a message to Sentry
func (t *Tracker) CaptureMessage(ctx context.Context, message string, level errors.Level, tags map[string]string) error {
	hub := t.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
		scope.SetLevel(convertLevel(level))
	})

	hub.CaptureMessage(message)
	return nil
}

// AddBreadcrumb records a step that is attached to later events
func (t *Tracker) AddBreadcrumb(ctx context.Context, message string, category string, level errors.Level, data map[string]interface{}) {
	t.hub.AddBreadcrumb(&sentry.Breadcrumb{
		Message:  message,
		Category: category,
		Level:    convertLevel(level),
		Data:     data,
	}, nil)
}

// Flush waits for pending events until ctx's deadline, or defaultFlushTimeout
func (t *Tracker) Flush(ctx context.Context) error {
	timeout := defaultFlushTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if !t.hub.Flush(timeout) {
		return errors.Wrap(errors.ErrTimeout, "sentry flush")
	}
	return nil
}

func convertLevel(level errors.Level) sentry.Level {
	switch level {
	case errors.LevelDebug:
		return sentry.LevelDebug
	case errors.LevelInfo:
		return sentry.LevelInfo
	case errors.LevelWarning:
		return sentry.LevelWarning
	case errors.LevelError:
		return sentry.LevelError
	case errors.LevelFatal:
		return sentry.LevelFatal
	default:
		return sentry.LevelInfo
	}
}

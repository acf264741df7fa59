package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"coursecast/pkg/errors"
)

type recordingTracker struct {
	errs []error
	tags []map[string]string
}

func (r *recordingTracker) CaptureError(_ context.Context, err error, tags map[string]string) error {
	r.errs = append(r.errs, err)
	r.tags = append(r.tags, tags)
	return nil
}

func (r *recordingTracker) CaptureMessage(context.Context, string, errors.Level, map[string]string) error {
	return nil
}

func (r *recordingTracker) AddBreadcrumb(context.Context, string, string, errors.Level, map[string]interface{}) {
}

func (r *recordingTracker) Flush(context.Context) error { return nil }

func TestErrorw_ForwardsCauseAndTags(t *testing.T) {
	tracker := &recordingTracker{}
	log := &Logger{SugaredLogger: zap.NewNop().Sugar(), errorTracker: tracker}

	log.Component("cache").Errorw("cache get failed", "key", "video:1", "error", errors.ErrUnavailable)

	if assert.Len(t, tracker.errs, 1) {
		assert.True(t, errors.Is(tracker.errs[0], errors.ErrUnavailable))
		assert.Equal(t, "video:1", tracker.tags[0]["key"])
	}
}

func TestNewNop_DoesNotTrack(t *testing.T) {
	log := NewNop()
	log.Errorw("ignored", "error", errors.ErrInternal)
	log.Errorf("ignored %d", 1)
}

package cache

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"coursecast/internal/domain/cache"
	"coursecast/internal/domain/cachekey"
	"coursecast/internal/metrics"
	"coursecast/pkg/errors"
	"coursecast/pkg/logger"
)

// bulkConcurrency bounds the goroutines used by InvalidateBulk
const bulkConcurrency = 8

// Invalidator clears every cached view derived from a mutated entity.
// Calls are best-effort and synchronous: they run inline after the write
// and never fail the caller.
type Invalidator struct {
	cache *Service
	log   *logger.Logger
}

// NewInvalidator creates a new invalidator over the cache service
func NewInvalidator(svc *Service, log *logger.Logger) *Invalidator {
	return &Invalidator{
		cache: svc,
		log:   log.Component("cache_invalidator"),
	}
}

func (i *Invalidator) record(kind cache.Kind, id string, deleted int64) {
	metrics.CacheInvalidations.WithLabelValues(string(kind)).Inc()
	i.log.Debugw("Cache invalidated", "kind", kind, "id", id, "pattern_keys", deleted)
}

// InvalidateVideo clears the video, everything under it and the creator's video list pages
func (i *Invalidator) InvalidateVideo(ctx context.Context, videoID, creatorID string) {
	i.cache.Delete(ctx, cachekey.Video(videoID))
	n := i.cache.DeletePattern(ctx, cachekey.VideoPattern(videoID))
	if creatorID != "" {
		n += i.cache.DeletePattern(ctx, cachekey.CreatorVideosPattern(creatorID))
	}
	i.record(cache.KindVideo, videoID, n)
}

// InvalidateTranscript clears a video's cached transcript
func (i *Invalidator) InvalidateTranscript(ctx context.Context, videoID string) {
	i.cache.Delete(ctx, cachekey.VideoTranscript(videoID))
	i.record(cache.KindTranscript, videoID, 0)
}

// InvalidateCreator clears the creator profile, its derived keys and analytics
func (i *Invalidator) InvalidateCreator(ctx context.Context, creatorID string) {
	i.cache.Delete(ctx, cachekey.Creator(creatorID))
	n := i.cache.DeletePattern(ctx, cachekey.CreatorPattern(creatorID))
	n += i.cache.DeletePattern(ctx, cachekey.AnalyticsPattern(creatorID))
	i.record(cache.KindCreator, creatorID, n)
}

// InvalidateStudent clears the student profile, its derived keys and feature access
func (i *Invalidator) InvalidateStudent(ctx context.Context, studentID string) {
	i.cache.Delete(ctx, cachekey.Student(studentID))
	n := i.cache.DeletePattern(ctx, cachekey.StudentPattern(studentID))
	n += i.cache.DeletePattern(ctx, cachekey.FeatureAccessPattern(studentID))
	i.record(cache.KindStudent, studentID, n)
}

// InvalidateMembership clears both sides of a student/creator membership
func (i *Invalidator) InvalidateMembership(ctx context.Context, studentID, creatorID string) {
	i.cache.Delete(ctx,
		cachekey.Membership(studentID, creatorID),
		cachekey.StudentMemberships(studentID),
		cachekey.CreatorMembers(creatorID),
	)
	n := i.cache.DeletePattern(ctx, cachekey.FeatureAccessPattern(studentID))
	i.record(cache.KindMembership, studentID+":"+creatorID, n)
}

// InvalidateChatSession clears a session, its messages and the student's session list
func (i *Invalidator) InvalidateChatSession(ctx context.Context, sessionID, studentID string) {
	i.cache.Delete(ctx, cachekey.ChatSession(sessionID))
	n := i.cache.DeletePattern(ctx, cachekey.ChatSessionPattern(sessionID))
	if studentID != "" {
		i.cache.Delete(ctx, cachekey.StudentChatSessions(studentID))
	}
	i.record(cache.KindChatSession, sessionID, n)
}

// InvalidateQuiz clears a quiz and the quiz list of its video
func (i *Invalidator) InvalidateQuiz(ctx context.Context, quizID, videoID string) {
	i.cache.Delete(ctx, cachekey.Quiz(quizID))
	n := i.cache.DeletePattern(ctx, cachekey.QuizPattern(quizID))
	if videoID != "" {
		i.cache.Delete(ctx, cachekey.VideoQuizzes(videoID))
	}
	i.record(cache.KindQuiz, quizID, n)
}

// InvalidateFeatureAccess clears every cached feature decision of a user
func (i *Invalidator) InvalidateFeatureAccess(ctx context.Context, userID string) {
	n := i.cache.DeletePattern(ctx, cachekey.FeatureAccessPattern(userID))
	i.record(cache.KindFeatureAccess, userID, n)
}

// InvalidateAnalytics clears every cached metric of a creator
func (i *Invalidator) InvalidateAnalytics(ctx context.Context, creatorID string) {
	n := i.cache.DeletePattern(ctx, cachekey.AnalyticsPattern(creatorID))
	i.record(cache.KindAnalytics, creatorID, n)
}

// InvalidateUsage clears cached usage summaries, daily series, breakdowns and stats of an owner
func (i *Invalidator) InvalidateUsage(ctx context.Context, ownerID string) {
	n := i.cache.DeletePattern(ctx, cachekey.UsagePattern(ownerID))
	i.record(cache.KindUsage, ownerID, n)
}

// InvalidateCostLimit clears an owner's cached limit and alert list
func (i *Invalidator) InvalidateCostLimit(ctx context.Context, ownerID string) {
	i.cache.Delete(ctx, cachekey.CostLimit(ownerID), cachekey.CostAlerts(ownerID))
	i.record(cache.KindCostLimit, ownerID, 0)
}

// Handle dispatches an event to the matching Invalidate method.
// It returns an error only for events that cannot be dispatched.
func (i *Invalidator) Handle(ctx context.Context, ev cache.Event) error {
	if ev.EntityID == "" {
		return errors.Wrapf(errors.ErrInvalidInput, "%s invalidation without entity id", ev.Kind)
	}

	switch ev.Kind {
	case cache.KindVideo:
		i.InvalidateVideo(ctx, ev.EntityID, ev.Related(cache.RelatedCreator))
	case cache.KindTranscript:
		i.InvalidateTranscript(ctx, ev.EntityID)
	case cache.KindCreator:
		i.InvalidateCreator(ctx, ev.EntityID)
	case cache.KindStudent:
		i.InvalidateStudent(ctx, ev.EntityID)
	case cache.KindMembership:
		creatorID := ev.Related(cache.RelatedCreator)
		if creatorID == "" {
			return errors.Wrapf(errors.ErrInvalidInput, "membership invalidation for %s without %s", ev.EntityID, cache.RelatedCreator)
		}
		i.InvalidateMembership(ctx, ev.EntityID, creatorID)
	case cache.KindChatSession:
		i.InvalidateChatSession(ctx, ev.EntityID, ev.Related(cache.RelatedStudent))
	case cache.KindQuiz:
		i.InvalidateQuiz(ctx, ev.EntityID, ev.Related(cache.RelatedVideo))
	case cache.KindFeatureAccess:
		i.InvalidateFeatureAccess(ctx, ev.EntityID)
	case cache.KindAnalytics:
		i.InvalidateAnalytics(ctx, ev.EntityID)
	case cache.KindUsage:
		i.InvalidateUsage(ctx, ev.EntityID)
	case cache.KindCostLimit:
		i.InvalidateCostLimit(ctx, ev.EntityID)
	default:
		return errors.Wrapf(errors.ErrUnknownInvalidation, "%q", ev.Kind)
	}
	return nil
}

// InvalidateBulk runs every operation independently and waits for all of them.
// A failing or panicking operation is logged and does not stop the others.
func (i *Invalidator) InvalidateBulk(ctx context.Context, ops []cache.Operation) {
	if len(ops) == 0 {
		return
	}

	var (
		mu   sync.Mutex
		errs errors.MultiError
	)
	collect := func(err error) {
		mu.Lock()
		errs.Add(err)
		mu.Unlock()
	}

	var g errgroup.Group
	g.SetLimit(bulkConcurrency)

	for _, op := range ops {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					collect(fmt.Errorf("invalidate %s/%s panicked: %v", op.Type, op.ID, r))
				}
			}()
			if err := i.Handle(ctx, op.Event()); err != nil {
				i.log.Warnw("Skipping invalidation", "type", op.Type, "id", op.ID, "error", err)
				collect(err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if errs.HasErrors() {
		i.log.Errorw("Bulk invalidation finished with failures",
			"operations", len(ops),
			"failed", len(errs.Errors),
			"error", errs.ToError(),
		)
		return
	}
	i.log.Debugw("Bulk invalidation finished", "operations", len(ops))
}

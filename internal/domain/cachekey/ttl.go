package cachekey

import (
	"time"

	"coursecast/internal/domain/cache"
)

// Class is one of the closed set of TTL classes
type Class string

const (
	ClassShort     Class = "short"
	ClassMedium    Class = "medium"
	ClassLong      Class = "long"
	ClassDay       Class = "day"
	ClassPermanent Class = "permanent"
)

// Permanent is the sentinel TTL meaning "store without expiry"
const Permanent time.Duration = -1

// Policy maps TTL classes to durations
type Policy struct {
	Short  time.Duration
	Medium time.Duration
	Long   time.Duration
	Day    time.Duration
}

// DefaultPolicy returns the canonical 60s / 5m / 1h / 24h classes
func DefaultPolicy() Policy {
	return Policy{
		Short:  60 * time.Second,
		Medium: 300 * time.Second,
		Long:   3600 * time.Second,
		Day:    86400 * time.Second,
	}
}

var kindClasses = map[cache.Kind]Class{
	cache.KindVideo:         ClassLong,
	cache.KindCreator:       ClassLong,
	cache.KindStudent:       ClassMedium,
	cache.KindMembership:    ClassMedium,
	cache.KindChatSession:   ClassShort,
	cache.KindQuiz:          ClassLong,
	cache.KindTranscript:    ClassDay,
	cache.KindFeatureAccess: ClassMedium,
	cache.KindAnalytics:     ClassMedium,
	cache.KindUsage:         ClassMedium,
	cache.KindCostLimit:     ClassMedium,
	cache.KindEmbedding:     ClassPermanent,
	cache.KindRateLimit:     ClassShort,
}

// ClassOf returns the TTL class of an entity kind; unknown kinds are Short
func ClassOf(kind cache.Kind) Class {
	if c, ok := kindClasses[kind]; ok {
		return c
	}
	return ClassShort
}

// Duration resolves a class to a TTL
func (p Policy) Duration(c Class) time.Duration {
	switch c {
	case ClassShort:
		return p.Short
	case ClassMedium:
		return p.Medium
	case ClassLong:
		return p.Long
	case ClassDay:
		return p.Day
	case ClassPermanent:
		return Permanent
	default:
		return p.Short
	}
}

// For returns the TTL for an entity kind
func (p Policy) For(kind cache.Kind) time.Duration {
	return p.Duration(ClassOf(kind))
}

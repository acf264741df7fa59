// Package cachekey is the single registry of cache key formats and TTL classes.
// Every reader and every invalidator builds keys through these functions, so a
// semantic identifier always maps to the same string.
package cachekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escape protects identifiers that end up inside SCAN MATCH patterns
func escape(id string) string {
	return globEscaper.Replace(id)
}

func join(parts ...string) string {
	return strings.Join(parts, ":")
}

// Videos

// Video is the cached video record
func Video(videoID string) string { return join("video", videoID) }

// VideoPattern matches every key derived from a video (transcript, quizzes, ...)
func VideoPattern(videoID string) string { return join("video", escape(videoID), "*") }

// VideoTranscript is the cached transcript of a video
func VideoTranscript(videoID string) string { return join("video", videoID, "transcript") }

// VideoQuizzes is the list of quizzes generated for a video
func VideoQuizzes(videoID string) string { return join("video", videoID, "quizzes") }

// Creators

// Creator is the cached creator profile
func Creator(creatorID string) string { return join("creator", creatorID) }

// CreatorPattern matches every key derived from a creator
func CreatorPattern(creatorID string) string { return join("creator", escape(creatorID), "*") }

// CreatorVideos is one page of a creator's video list
func CreatorVideos(creatorID string, page int) string {
	return join("creator", creatorID, "videos", "page", strconv.Itoa(page))
}

// CreatorVideosPattern matches every cached page of a creator's video list
func CreatorVideosPattern(creatorID string) string {
	return join("creator", escape(creatorID), "videos", "*")
}

// CreatorMembers is the member list of a creator
func CreatorMembers(creatorID string) string { return join("creator", creatorID, "members") }

// Students and memberships

// Student is the cached student profile
func Student(studentID string) string { return join("student", studentID) }

// StudentPattern matches every key derived from a student
func StudentPattern(studentID string) string { return join("student", escape(studentID), "*") }

// StudentMemberships lists the creators a student belongs to
func StudentMemberships(studentID string) string { return join("student", studentID, "memberships") }

// StudentChatSessions lists a student's chat sessions
func StudentChatSessions(studentID string) string { return join("student", studentID, "chat_sessions") }

// Membership is the membership of a student with one creator
func Membership(studentID, creatorID string) string { return join("membership", studentID, creatorID) }

// Chat

// ChatSession is the cached chat session record
func ChatSession(sessionID string) string { return join("chat", "session", sessionID) }

// ChatSessionPattern matches every key derived from a chat session
func ChatSessionPattern(sessionID string) string {
	return join("chat", "session", escape(sessionID), "*")
}

// ChatSessionMessages is the message history of a chat session
func ChatSessionMessages(sessionID string) string {
	return join("chat", "session", sessionID, "messages")
}

// Quizzes

// Quiz is the cached quiz record
func Quiz(quizID string) string { return join("quiz", quizID) }

// QuizPattern matches every key derived from a quiz
func QuizPattern(quizID string) string { return join("quiz", escape(quizID), "*") }

// Feature access

// FeatureAccess is the access decision for one user and feature
func FeatureAccess(userID, feature string) string { return join("feature", userID, feature) }

// FeatureAccessPattern matches every feature decision of a user
func FeatureAccessPattern(userID string) string { return join("feature", escape(userID), "*") }

// Analytics

// Analytics is one computed metric of a creator
func Analytics(creatorID, metric string) string { return join("analytics", creatorID, metric) }

// AnalyticsPattern matches every cached metric of a creator
func AnalyticsPattern(creatorID string) string { return join("analytics", escape(creatorID), "*") }

// Rate limiting

// RateLimit is the request counter of an actor on an endpoint
func RateLimit(endpoint, actorID string) string { return join("ratelimit", endpoint, actorID) }

// Embedding is the cached vector of text under model. The text is hashed
// with SHA-256 so keys never contain it.
func Embedding(model, text string) string {
	sum := sha256.Sum256([]byte(text))
	return join("embedding", model, hex.EncodeToString(sum[:]))
}

// Usage and cost

// UsageSummary is an owner's totals for the period starting at periodStart
func UsageSummary(ownerID, periodType string, periodStart time.Time) string {
	return join("usage", ownerID, "summary", periodType, stamp(periodStart))
}

// UsageDaily is an owner's series of days points ending on through
func UsageDaily(ownerID string, days int, through time.Time) string {
	return join("usage", ownerID, "daily", strconv.Itoa(days), through.UTC().Format(time.DateOnly))
}

// UsageBreakdown is an owner's cost split over [from, to)
func UsageBreakdown(ownerID string, from, to time.Time) string {
	return join("usage", ownerID, "breakdown", stamp(from), stamp(to))
}

// UsageStats is an owner's dashboard bundle for one day
func UsageStats(ownerID string, day time.Time) string {
	return join("usage", ownerID, "stats", day.UTC().Format(time.DateOnly))
}

// UsagePattern matches every cached usage aggregate of an owner
func UsagePattern(ownerID string) string { return join("usage", escape(ownerID), "*") }

// CostLimit is the cost limit record of an owner
func CostLimit(ownerID string) string { return join("cost_limit", ownerID) }

// CostAlerts is the unacknowledged alert list of an owner
func CostAlerts(ownerID string) string { return join("cost_alerts", ownerID) }

// Lock is the single-flight lock guarding the computation of key
func Lock(key string) string { return join("lock", key) }

func stamp(t time.Time) string {
	return t.UTC().Format("20060102T150405Z")
}

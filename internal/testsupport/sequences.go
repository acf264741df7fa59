package testsupport

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// sequence starts from the clock so ids from consecutive runs against the
// same database do not collide
var sequence = uint64(time.Now().UnixNano() % 1_000_000)

// NextSequence returns the next process-wide sequence number
func NextSequence() uint64 {
	return atomic.AddUint64(&sequence, 1)
}

// UniqueName returns prefix with a sequence suffix, e.g. "creator_482913".
// Owners, consumer groups and other shared-store identifiers use it.
func UniqueName(prefix string) string {
	return fmt.Sprintf("%s_%d", prefix, NextSequence())
}

// UniqueRequestID returns a usage event request id that sorts by creation order
func UniqueRequestID() string {
	return fmt.Sprintf("req_%d_%s", NextSequence(), uuid.NewString()[:8])
}

// Package cache provides the content-addressable result cache. Summaries are
// keyed by a fingerprint of the exact content that was (or would be)
// summarized, so a URL submission and a raw-text submission of the same
// article share one entry.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Cache stores summaries keyed by content fingerprint. Both operations are
// best-effort from the caller's perspective: a lookup error is treated as a
// miss and a store error never fails the job that produced the summary.
type Cache interface {
	Lookup(ctx context.Context, fingerprint string) (summary string, ok bool, err error)
	Store(ctx context.Context, fingerprint, summary string, ttl time.Duration) error
}

// Fingerprint returns the hex digest used as the cache key for content.
func Fingerprint(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

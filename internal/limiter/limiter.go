// Package limiter defines interfaces and implementations for flag-submission
// rate limiting. Flaggers are anonymous, so the budget hangs off a stable
// hash of the opaque flagger token.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Limiter bounds how many flags one flagger may submit per window.
type Limiter interface {
	// Allow records one flag attempt and reports whether it fits the budget,
	// with an optional retry-after when it does not.
	Allow(ctx context.Context, flaggerHash []byte) (bool, time.Duration, error)
}

// HashToken returns a stable hash for a flagger token so raw tokens are
// never stored.
func HashToken(token string) []byte {
	h := sha256.Sum256([]byte(token))
	return h[:]
}

// Package cache provides a bounded LRU for verification outcomes. Entries are
// keyed by (content id, key-set version), so any key add or revoke naturally
// invalidates prior results without explicit eviction.
package cache

import (
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/veritasnet/trustcore/internal/model"
)

// Outcomes is a thread-safe LRU of verification outcomes.
type Outcomes struct {
	c            *lru.Cache[string, model.VerificationOutcome]
	hits, misses prometheus.Counter // optional
}

// NewOutcomes creates a cache holding up to size entries.
func NewOutcomes(size int) (*Outcomes, error) {
	c, err := lru.New[string, model.VerificationOutcome](size)
	if err != nil {
		return nil, err
	}
	return &Outcomes{c: c}, nil
}

// Instrument attaches hit/miss counters. Must be called before first use.
func (o *Outcomes) Instrument(hits, misses prometheus.Counter) {
	o.hits, o.misses = hits, misses
}

// Get returns the cached outcome for the content under the given key-set version.
func (o *Outcomes) Get(contentID string, keySetVersion uint64) (model.VerificationOutcome, bool) {
	out, ok := o.c.Get(key(contentID, keySetVersion))
	if ok && o.hits != nil {
		o.hits.Inc()
	}
	if !ok && o.misses != nil {
		o.misses.Inc()
	}
	return out, ok
}

// Put records an outcome for the content under the given key-set version.
func (o *Outcomes) Put(contentID string, keySetVersion uint64, out model.VerificationOutcome) {
	o.c.Add(key(contentID, keySetVersion), out)
}

func key(contentID string, version uint64) string {
	return fmt.Sprintf("%s@%d", contentID, version)
}

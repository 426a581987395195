// Package patterns tracks historical error-pattern frequency, resolution
// success rate, and known-good fixes. The store is what lets the resolver
// bypass the full pipeline for patterns that have been fixed reliably before.
package patterns

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/miradorstack/mirador-ir/internal/models"
)

const (
	// DefaultCapacity bounds the number of tracked pattern keys.
	DefaultCapacity = 4096
	// DefaultTTL evicts patterns not seen for this long.
	DefaultTTL = 30 * 24 * time.Hour

	keyPrefixLen = 48
)

// Store is a bounded, concurrency-safe error-pattern store. Entries are
// evicted least-recently-seen first once capacity is reached, or after the
// TTL elapses without a new occurrence.
type Store struct {
	mu     sync.Mutex
	lru    *expirable.LRU[string, *models.ErrorPattern]
	logger *slog.Logger
	now    func() time.Time
}

// NewStore constructs a Store with the given bounds. Non-positive values
// fall back to the defaults.
func NewStore(logger *slog.Logger, capacity int, ttl time.Duration) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{
		lru:    expirable.NewLRU[string, *models.ErrorPattern](capacity, nil, ttl),
		logger: logger,
		now:    time.Now,
	}
}

// KeyFor normalizes an incident title into its pattern key: lowercased,
// digit runs collapsed to '#' so ids and hostnames group together, prefix
// capped.
func KeyFor(title string) string {
	var b strings.Builder
	lastDigit := false
	for _, r := range strings.ToLower(strings.TrimSpace(title)) {
		if unicode.IsDigit(r) {
			if !lastDigit {
				b.WriteByte('#')
			}
			lastDigit = true
			continue
		}
		lastDigit = false
		b.WriteRune(r)
	}
	key := b.String()
	if len(key) > keyPrefixLen {
		key = key[:keyPrefixLen]
	}
	return key
}

// Observe records one occurrence of the pattern behind title, creating the
// pattern on first sight. Re-adding the entry refreshes its eviction TTL.
func (s *Store) Observe(title string) *models.ErrorPattern {
	key := KeyFor(title)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, ok := s.lru.Get(key)
	if !ok {
		pattern = &models.ErrorPattern{Key: key}
	}
	pattern.OccurrenceCount++
	pattern.LastSeenAt = s.now()
	s.lru.Add(key, pattern)
	return pattern.Clone()
}

// RecordOutcome folds one closure outcome into the pattern's running success
// rate: rate = (rate*(count-1) + outcome) / count. Successful closures also
// contribute their remediation actions to knownFixes, de-duplicated in
// application order.
func (s *Store) RecordOutcome(title string, success bool, actions []string) {
	key := KeyFor(title)
	if key == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, ok := s.lru.Get(key)
	if !ok {
		// Closure for a pattern evicted mid-flight; recreate so learning
		// is not lost.
		pattern = &models.ErrorPattern{Key: key, OccurrenceCount: 1, LastSeenAt: s.now()}
	}

	count := pattern.OccurrenceCount
	if count < 1 {
		count = 1
	}
	outcome := 0.0
	if success {
		outcome = 1.0
	}
	pattern.ResolutionSuccessRate = (pattern.ResolutionSuccessRate*float64(count-1) + outcome) / float64(count)

	if success {
		for _, action := range actions {
			if action == "" || containsString(pattern.KnownFixes, action) {
				continue
			}
			pattern.KnownFixes = append(pattern.KnownFixes, action)
		}
	}
	s.lru.Add(key, pattern)
}

// Lookup returns a copy of the pattern for title, if tracked.
func (s *Store) Lookup(title string) (*models.ErrorPattern, bool) {
	key := KeyFor(title)

	s.mu.Lock()
	defer s.mu.Unlock()

	pattern, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	return pattern.Clone(), true
}

// Len returns the number of tracked patterns.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lru.Len()
}

func containsString(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

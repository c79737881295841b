package database

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/dgraph-io/ristretto/v2"
)

// likeCache caches compiled LIKE patterns so repeated predicates don't
// recompile their regexp on every row batch.
type likeCache struct {
	cache *ristretto.Cache[string, *regexp.Regexp]
}

// newLikeCache constructs the compiled-pattern cache.
func newLikeCache() (*likeCache, error) {
	cache, err := ristretto.NewCache(&ristretto.Config[string, *regexp.Regexp]{
		NumCounters: 1 << 12,
		MaxCost:     1 << 8,
		BufferItems: 64,
	})
	if err != nil {
		return nil, err
	}
	return &likeCache{cache: cache}, nil
}

// Compile returns the compiled regexp for a LIKE pattern, translating and
// caching it on first use.
func (lc *likeCache) Compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := lc.cache.Get(pattern); ok {
		return re, nil
	}
	re, err := regexp.Compile(likePatternToRegex(pattern))
	if err != nil {
		return nil, fmt.Errorf("bad LIKE pattern %q: %w", pattern, err)
	}
	lc.cache.Set(pattern, re, 1)
	return re, nil
}

// Close releases the cache's internal resources.
func (lc *likeCache) Close() {
	lc.cache.Close()
}

// likePatternToRegex translates a LIKE pattern into an anchored regexp:
// % matches any run of characters, _ matches exactly one.
func likePatternToRegex(pattern string) string {
	var sb strings.Builder
	sb.WriteByte('^')
	for _, ch := range pattern {
		switch ch {
		case '%':
			sb.WriteString(".*")
		case '_':
			sb.WriteByte('.')
		default:
			sb.WriteString(regexp.QuoteMeta(string(ch)))
		}
	}
	sb.WriteByte('$')
	return sb.String()
}

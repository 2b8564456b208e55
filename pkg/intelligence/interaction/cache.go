package interaction

import (
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/yairfalse/threatforge/pkg/domain"
)

// cacheKey identifies a scored pair by type and quantized properties.
// Sides are ordered by (type, fingerprint) so both directions share a key.
type cacheKey struct {
	typeA, fpA string
	typeB, fpB string
}

// cacheEntry holds the property-independent score for a pair, oriented
// to its cacheKey. Conditions are stored unevaluated: a quantized
// fingerprint cannot tell which side of a threshold a value sits on.
type cacheEntry struct {
	strength   float64
	kind       domain.InteractionKind
	consumer   int // 0 none, 1 first side, 2 second side
	conditions []declaredCondition
}

// declaredCondition is a rule condition with the side that declared it,
// 1 for the first side of the cache key and 2 for the second.
type declaredCondition struct {
	cond     domain.Condition
	declarer int
}

// scoreCache is a bounded FIFO cache.
type scoreCache struct {
	capacity int
	entries  map[cacheKey]cacheEntry
	order    []cacheKey
	head     int
}

func newScoreCache(capacity int) *scoreCache {
	if capacity < 1 {
		capacity = 1
	}
	return &scoreCache{
		capacity: capacity,
		entries:  make(map[cacheKey]cacheEntry, capacity),
		order:    make([]cacheKey, 0, capacity),
	}
}

func (c *scoreCache) get(k cacheKey) (cacheEntry, bool) {
	e, ok := c.entries[k]
	return e, ok
}

func (c *scoreCache) put(k cacheKey, e cacheEntry) {
	if _, exists := c.entries[k]; exists {
		c.entries[k] = e
		return
	}
	if len(c.order) < c.capacity {
		c.order = append(c.order, k)
	} else {
		delete(c.entries, c.order[c.head])
		c.order[c.head] = k
		c.head = (c.head + 1) % c.capacity
	}
	c.entries[k] = e
}

func (c *scoreCache) len() int { return len(c.entries) }

// fingerprint quantizes the effective values of keys by tolerance. Values
// within the same tolerance bucket produce the same fingerprint.
func fingerprint(c *domain.ThreatComponent, keys []string, tolerance float64) string {
	if len(keys) == 0 {
		return ""
	}
	sorted := append([]string(nil), keys...)
	sort.Strings(sorted)

	var b strings.Builder
	prev := ""
	for _, k := range sorted {
		if k == prev {
			continue
		}
		prev = k
		v, ok := c.Value(k)
		b.WriteString(k)
		b.WriteByte('=')
		if !ok {
			b.WriteByte('-')
		} else if tolerance > 0 {
			b.WriteString(strconv.FormatInt(int64(math.Round(v/tolerance)), 10))
		} else {
			b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		}
		b.WriteByte(';')
	}
	return b.String()
}

package cdrleg

import (
	"sort"
	"strings"
	"sync"
)

// Cache is the associative store keyed by thread-id or GID that groups
// legs awaiting finalization. Operations are coarse-grained-locked so one
// Cache may be safely shared if a host multiplexes independent runs, though
// a single Engine instance only ever touches it serially (spec.md §5).
type Cache struct {
	mu   sync.Mutex
	legs map[string][]*Leg

	// gidHexToThreadID and gidHexToFullGid reconcile HG fragments that
	// arrive keyed by GID against a FullCdr keyed by thread-id; both
	// maps are first-seen-wins.
	gidHexToThreadID map[string]string
	gidHexToFullGid  map[string]string
}

// NewCache constructs an empty leg cache.
func NewCache() *Cache {
	return &Cache{
		legs:             make(map[string][]*Leg),
		gidHexToThreadID: make(map[string]string),
		gidHexToFullGid:  make(map[string]string),
	}
}

// GidHex returns the substring after the final ':' of a GID, which stays
// stable across HG/FullCdr siblings even when the timestamp prefix drifts.
func GidHex(gid string) string {
	idx := strings.LastIndex(gid, ":")
	if idx < 0 {
		return gid
	}
	return gid[idx+1:]
}

// Store appends a leg under key, preserving insertion order.
func (c *Cache) Store(key string, leg *Leg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.legs[key] = append(c.legs[key], leg)
}

// Get returns the legs stored under key, sorted by
// (InLegConnectTime ascending, SourceLine ascending).
func (c *Cache) Get(key string) []*Leg {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedCopyLocked(key)
}

func (c *Cache) sortedCopyLocked(key string) []*Leg {
	src := c.legs[key]
	out := make([]*Leg, len(src))
	copy(out, src)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].InLegConnectTime != out[j].InLegConnectTime {
			return out[i].InLegConnectTime < out[j].InLegConnectTime
		}
		return out[i].SourceLine < out[j].SourceLine
	})
	return out
}

// RemoveOne deletes legs matching the given InLegConnectTime under key;
// drops the key entirely if it becomes empty.
func (c *Cache) RemoveOne(key, inLegConnectTime string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src := c.legs[key]
	kept := src[:0:0]
	for _, l := range src {
		if l.InLegConnectTime != inLegConnectTime {
			kept = append(kept, l)
		}
	}
	if len(kept) == 0 {
		delete(c.legs, key)
	} else {
		c.legs[key] = kept
	}
}

// RemoveGroup drops every leg stored under key.
func (c *Cache) RemoveGroup(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.legs, key)
}

// Keys returns a snapshot of all group keys currently cached.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.legs))
	for k := range c.legs {
		out = append(out, k)
	}
	return out
}

// Count returns the total number of legs across all keys.
func (c *Cache) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, v := range c.legs {
		n += len(v)
	}
	return n
}

// EarliestGroup returns the group key whose earliest leg has the smallest
// InLegConnectTime, for bounded-cache eviction (spec.md §4.11). Returns
// ("", false) if the cache is empty. Legs with an empty InLegConnectTime
// sort first (empty string is the minimum), matching Get's ordering.
func (c *Cache) EarliestGroup() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.legs) == 0 {
		return "", false
	}
	var bestKey string
	var bestTime string
	first := true
	for key, legs := range c.legs {
		earliest := earliestConnectTimeLocked(legs)
		if first || earliest < bestTime || (earliest == bestTime && key < bestKey) {
			bestKey, bestTime, first = key, earliest, false
		}
	}
	return bestKey, true
}

func earliestConnectTimeLocked(legs []*Leg) string {
	best := ""
	first := true
	for _, l := range legs {
		if first || l.InLegConnectTime < best {
			best, first = l.InLegConnectTime, false
		}
	}
	return best
}

// LookupGidHexThreadID returns the thread-id previously registered for a
// GID-hex suffix, if any.
func (c *Cache) LookupGidHexThreadID(gidHex string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.gidHexToThreadID[gidHex]
	return v, ok
}

// RegisterGidHexThreadID records the thread-id for a GID-hex suffix,
// first-seen wins.
func (c *Cache) RegisterGidHexThreadID(gidHex, threadID string) {
	if gidHex == "" || threadID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.gidHexToThreadID[gidHex]; !exists {
		c.gidHexToThreadID[gidHex] = threadID
	}
}

// LookupGidHexFullGid returns the full GID previously registered for a
// GID-hex suffix, if any.
func (c *Cache) LookupGidHexFullGid(gidHex string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.gidHexToFullGid[gidHex]
	return v, ok
}

// RegisterGidHexFullGid records the full GID for a GID-hex suffix,
// first-seen wins.
func (c *Cache) RegisterGidHexFullGid(gidHex, fullGid string) {
	if gidHex == "" || fullGid == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.gidHexToFullGid[gidHex]; !exists {
		c.gidHexToFullGid[gidHex] = fullGid
	}
}

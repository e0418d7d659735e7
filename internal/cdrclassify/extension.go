package cdrclassify

import (
	"strconv"
	"strings"
)

// extRange is an inclusive integer range parsed from a "LOW-HIGH" entry.
type extRange struct {
	low, high int
}

// ExtensionClassifier decides whether a dialed/calling number is an
// internal extension, from a configured set of exact numbers and ranges.
type ExtensionClassifier struct {
	exact  map[string]bool
	ranges []extRange
}

// NewExtensionClassifier parses a list of entries, each either an exact
// number or a hyphenated inclusive range "LOW-HIGH".
func NewExtensionClassifier(entries []string) *ExtensionClassifier {
	c := &ExtensionClassifier{exact: make(map[string]bool)}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if lo, hi, ok := parseRange(e); ok {
			c.ranges = append(c.ranges, extRange{lo, hi})
			continue
		}
		c.exact[e] = true
	}
	return c
}

func parseRange(s string) (low, high int, ok bool) {
	idx := strings.Index(s, "-")
	if idx <= 0 || idx == len(s)-1 {
		return 0, 0, false
	}
	lowStr, highStr := s[:idx], s[idx+1:]
	lo, err1 := strconv.Atoi(strings.TrimSpace(lowStr))
	hi, err2 := strconv.Atoi(strings.TrimSpace(highStr))
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return lo, hi, true
}

// IsEmpty reports whether no ranges or exact numbers are configured. An
// empty classifier puts the direction resolver into SipEndpoint-strategy
// "discovery mode".
func (c *ExtensionClassifier) IsEmpty() bool {
	return len(c.exact) == 0 && len(c.ranges) == 0
}

// IsExtension implements the five-step decision in spec.md §4.3.
func (c *ExtensionClassifier) IsExtension(n string) bool {
	return c.isExtension(n, true)
}

func (c *ExtensionClassifier) isExtension(n string, allowRetry bool) bool {
	if n == "" {
		return false
	}
	if c.exact[n] {
		return true
	}
	if v, err := strconv.Atoi(n); err == nil {
		for _, r := range c.ranges {
			if v >= r.low && v <= r.high {
				return true
			}
		}
	}
	if !allowRetry {
		return false
	}
	if !strings.HasPrefix(n, "1") && len(n) >= 10 {
		if c.isExtension("1"+n, false) {
			return true
		}
	} else if strings.HasPrefix(n, "1") && len(n) >= 11 {
		if c.isExtension(n[1:], false) {
			return true
		}
	}
	return false
}

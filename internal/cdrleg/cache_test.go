package cdrleg

import "testing"

func TestCacheStoreGetSortsByConnectTimeThenLine(t *testing.T) {
	c := NewCache()
	c.Store("g1", &Leg{InLegConnectTime: "t2", SourceLine: 5})
	c.Store("g1", &Leg{InLegConnectTime: "t1", SourceLine: 9})
	c.Store("g1", &Leg{InLegConnectTime: "t1", SourceLine: 2})

	legs := c.Get("g1")
	if len(legs) != 3 {
		t.Fatalf("got %d legs, want 3", len(legs))
	}
	if legs[0].SourceLine != 2 || legs[1].SourceLine != 9 || legs[2].SourceLine != 5 {
		t.Errorf("order = [%d %d %d], want [2 9 5]", legs[0].SourceLine, legs[1].SourceLine, legs[2].SourceLine)
	}
}

func TestCacheGetReturnsCopyNotSharedSlice(t *testing.T) {
	c := NewCache()
	c.Store("g1", &Leg{SourceLine: 1})

	a := c.Get("g1")
	a[0] = &Leg{SourceLine: 99}

	b := c.Get("g1")
	if b[0].SourceLine != 1 {
		t.Errorf("mutating Get's result slice leaked into the cache: SourceLine = %d, want 1", b[0].SourceLine)
	}
}

func TestCacheRemoveOneDropsEmptyKey(t *testing.T) {
	c := NewCache()
	c.Store("g1", &Leg{InLegConnectTime: "t1"})

	c.RemoveOne("g1", "t1")
	if c.Count() != 0 {
		t.Errorf("Count() = %d, want 0 after removing the only leg", c.Count())
	}
	if keys := c.Keys(); len(keys) != 0 {
		t.Errorf("Keys() = %v, want empty (key should be dropped once its legs are gone)", keys)
	}
}

func TestCacheRemoveOneLeavesOtherLegs(t *testing.T) {
	c := NewCache()
	c.Store("g1", &Leg{InLegConnectTime: "t1"})
	c.Store("g1", &Leg{InLegConnectTime: "t2"})

	c.RemoveOne("g1", "t1")

	legs := c.Get("g1")
	if len(legs) != 1 || legs[0].InLegConnectTime != "t2" {
		t.Errorf("Get(g1) = %v, want one leg with InLegConnectTime t2", legs)
	}
}

func TestCacheRemoveGroup(t *testing.T) {
	c := NewCache()
	c.Store("g1", &Leg{})
	c.Store("g2", &Leg{})

	c.RemoveGroup("g1")

	if c.Count() != 1 {
		t.Errorf("Count() = %d, want 1", c.Count())
	}
	if len(c.Get("g1")) != 0 {
		t.Error("g1 should be empty after RemoveGroup")
	}
}

func TestCacheEarliestGroupPicksSmallestConnectTime(t *testing.T) {
	c := NewCache()
	c.Store("later", &Leg{InLegConnectTime: "2026-07-31T10:05:00Z"})
	c.Store("earlier", &Leg{InLegConnectTime: "2026-07-31T10:00:00Z"})

	key, ok := c.EarliestGroup()
	if !ok {
		t.Fatal("EarliestGroup() ok = false, want true")
	}
	if key != "earlier" {
		t.Errorf("EarliestGroup() = %q, want earlier", key)
	}
}

func TestCacheEarliestGroupEmptyCache(t *testing.T) {
	c := NewCache()
	if _, ok := c.EarliestGroup(); ok {
		t.Error("EarliestGroup() on an empty cache should report ok = false")
	}
}

func TestGidHexSplitsOnLastColon(t *testing.T) {
	tests := []struct {
		gid  string
		want string
	}{
		{"2026-07-31T10:00:00:abc123", "abc123"},
		{"abc123", "abc123"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := GidHex(tt.gid); got != tt.want {
			t.Errorf("GidHex(%q) = %q, want %q", tt.gid, got, tt.want)
		}
	}
}

func TestGidHexThreadIDFirstSeenWins(t *testing.T) {
	c := NewCache()
	c.RegisterGidHexThreadID("hex1", "thread-a")
	c.RegisterGidHexThreadID("hex1", "thread-b")

	got, ok := c.LookupGidHexThreadID("hex1")
	if !ok || got != "thread-a" {
		t.Errorf("LookupGidHexThreadID = (%q, %v), want (thread-a, true)", got, ok)
	}
}

func TestGidHexThreadIDMissingKey(t *testing.T) {
	c := NewCache()
	if _, ok := c.LookupGidHexThreadID("nope"); ok {
		t.Error("LookupGidHexThreadID on an unregistered key should report ok = false")
	}
}

func TestGidHexFullGidFirstSeenWins(t *testing.T) {
	c := NewCache()
	c.RegisterGidHexFullGid("hex1", "gid-a")
	c.RegisterGidHexFullGid("hex1", "gid-b")

	got, ok := c.LookupGidHexFullGid("hex1")
	if !ok || got != "gid-a" {
		t.Errorf("LookupGidHexFullGid = (%q, %v), want (gid-a, true)", got, ok)
	}
}

func TestCacheRegisterIgnoresEmptyKeys(t *testing.T) {
	c := NewCache()
	c.RegisterGidHexThreadID("", "thread-a")
	c.RegisterGidHexThreadID("hex1", "")

	if _, ok := c.LookupGidHexThreadID(""); ok {
		t.Error("empty gidHex should never be registered")
	}
	if _, ok := c.LookupGidHexThreadID("hex1"); ok {
		t.Error("empty threadID should never be registered")
	}
}

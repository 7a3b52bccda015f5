package cache

import (
	"testing"
	"time"
)

func TestTTLGetSet(t *testing.T) {
	c := NewTTL(4, time.Minute)
	if _, ok := c.Get("KXFED"); ok {
		t.Fatalf("expected miss on empty cache")
	}
	c.Set("KXFED", "Economics")
	v, ok := c.Get("KXFED")
	if !ok || v != "Economics" {
		t.Fatalf("expected hit with Economics, got %q ok=%v", v, ok)
	}
}

func TestTTLExpiry(t *testing.T) {
	c := NewTTL(4, time.Minute)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("KXFED", "Economics")
	now = now.Add(61 * time.Second)
	if _, ok := c.Get("KXFED"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Fatalf("expected expired entry to be removed, len=%d", c.Len())
	}
}

func TestTTLEvictsOldestWhenFull(t *testing.T) {
	c := NewTTL(2, time.Hour)
	now := time.Unix(1000, 0)
	c.now = func() time.Time { return now }

	c.Set("a", "1")
	now = now.Add(time.Second)
	c.Set("b", "2")
	now = now.Add(time.Second)
	c.Set("c", "3")

	if c.Len() != 2 {
		t.Fatalf("expected bounded size 2, got %d", c.Len())
	}
	if _, ok := c.Get("a"); ok {
		t.Fatalf("expected oldest entry evicted")
	}
	if _, ok := c.Get("c"); !ok {
		t.Fatalf("expected newest entry present")
	}
}

func TestTTLUpdateExistingDoesNotEvict(t *testing.T) {
	c := NewTTL(2, time.Hour)
	c.Set("a", "1")
	c.Set("b", "2")
	c.Set("a", "9")
	if c.Len() != 2 {
		t.Fatalf("expected len 2 after update, got %d", c.Len())
	}
	if v, _ := c.Get("a"); v != "9" {
		t.Fatalf("expected updated value, got %q", v)
	}
}

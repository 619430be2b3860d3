package cache

import (
	"fmt"
	"testing"
)

// TestCacheLCTOrdering follows spec §8 scenario 1: a Delete at a lower LCT
// than a live Update is a no-op, but a later Delete supersedes it.
func TestCacheLCTOrdering(t *testing.T) {
	c := New(4)

	c.UpdateScalar("a", []byte("1"), 10)
	c.Delete("a", 5) // lower lct: no-op

	got := c.Get([]string{"a"})
	if string(got["a"]) != "1" {
		t.Fatalf("expected value '1' to survive stale delete, got %q (present=%v)", got["a"], func() bool { _, ok := got["a"]; return ok }())
	}

	c.Delete("a", 20)
	got = c.Get([]string{"a"})
	if _, ok := got["a"]; ok {
		t.Fatalf("expected key 'a' to be gone after delete at higher lct, got %q", got["a"])
	}
}

func TestCacheUpdateScalarNoOpOnStaleLCT(t *testing.T) {
	c := New(1)
	c.UpdateScalar("k", []byte("v2"), 100)
	c.UpdateScalar("k", []byte("v1"), 50) // stale, ignored

	got := c.Get([]string{"k"})
	if string(got["k"]) != "v2" {
		t.Fatalf("expected 'v2', got %q", got["k"])
	}
}

func TestCacheUpdateScalarEqualLCTIsNoOp(t *testing.T) {
	c := New(1)
	c.UpdateScalar("k", []byte("first"), 10)
	c.UpdateScalar("k", []byte("second"), 10)

	got := c.Get([]string{"k"})
	if string(got["k"]) != "first" {
		t.Fatalf("expected 'first' (equal lct is a no-op), got %q", got["k"])
	}
}

func TestCacheSetValues(t *testing.T) {
	c := New(4)
	c.UpdateSet("s", []string{"x", "y"}, 1)

	sets := c.GetSets([]string{"s"})
	if len(sets["s"]) != 2 {
		t.Fatalf("expected 2 elements, got %v", sets["s"])
	}

	// I3: element deletion is expressed as an Update with the new set.
	c.UpdateSet("s", []string{"x"}, 2)
	sets = c.GetSets([]string{"s"})
	if len(sets["s"]) != 1 {
		t.Fatalf("expected 1 element after replace, got %v", sets["s"])
	}
	if _, ok := sets["s"]["x"]; !ok {
		t.Fatalf("expected 'x' to remain, got %v", sets["s"])
	}
}

func TestCacheSetDeleteRemovesEntireSet(t *testing.T) {
	c := New(1)
	c.UpdateSet("s", []string{"x", "y", "z"}, 1)
	c.Delete("s", 2)

	sets := c.GetSets([]string{"s"})
	if _, ok := sets["s"]; ok {
		t.Fatalf("expected set to be gone after delete, got %v", sets["s"])
	}
}

func TestCacheGetOmitsAbsentAndTombstoned(t *testing.T) {
	c := New(4)
	c.UpdateScalar("present", []byte("v"), 1)
	c.Delete("gone", 1) // tombstone with no prior value

	got := c.Get([]string{"present", "gone", "never-seen"})
	if len(got) != 1 {
		t.Fatalf("expected only 'present' in result, got %v", got)
	}
	if _, ok := got["present"]; !ok {
		t.Fatalf("expected 'present' in result")
	}
}

func TestCacheRemoveTombstonesBelow(t *testing.T) {
	c := New(1)
	c.Delete("old", 5)
	c.Delete("new", 50)

	removed := c.RemoveTombstonesBelow(10)
	if removed != 1 {
		t.Fatalf("expected 1 tombstone removed, got %d", removed)
	}

	// A late Update below the retained tombstone's lct must still be a no-op.
	c.UpdateScalar("new", []byte("late"), 10)
	got := c.Get([]string{"new"})
	if _, ok := got["new"]; ok {
		t.Fatalf("expected tombstone at lct 50 to still shadow update at lct 10, got %q", got["new"])
	}

	// The GC'd tombstone at "old" no longer exists, so a fresh Update succeeds
	// even at a low lct — this is the documented tradeoff of GC'ing past
	// the retention cutoff (spec §3 "Ownership & lifecycle").
	c.UpdateScalar("old", []byte("resurrected"), 6)
	got = c.Get([]string{"old"})
	if string(got["old"]) != "resurrected" {
		t.Fatalf("expected 'resurrected', got %q", got["old"])
	}
}

func TestCacheConcurrentAccess(t *testing.T) {
	c := New(16)
	done := make(chan struct{})
	for i := 0; i < 8; i++ {
		go func(i int) {
			for j := 0; j < 200; j++ {
				key := fmt.Sprintf("k%d", i)
				c.UpdateScalar(key, []byte{byte(j)}, int64(j+1))
				c.Get([]string{key})
			}
			done <- struct{}{}
		}(i)
	}
	for i := 0; i < 8; i++ {
		<-done
	}
}

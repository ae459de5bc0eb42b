package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestMemoryStore_SaveLoadDelete(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()

	if _, err := m.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s := New("s1", "A", t0)
	s.SetField("X__c", "1")
	if err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.SetField("Y__c", "2")

	got, err := m.Load(ctx, "s1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.Has("Y__c") {
		t.Error("store must keep a copy, not the caller's pointer")
	}
	got.SetField("Z__c", "3")
	again, _ := m.Load(ctx, "s1")
	if again.Has("Z__c") {
		t.Error("Load must return a copy")
	}

	if err := m.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := m.Load(ctx, "s1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
	if err := m.Delete(ctx, "s1"); err != nil {
		t.Errorf("deleting a missing session must not fail: %v", err)
	}
}

func TestMemoryStore_Save_RequiresID(t *testing.T) {
	m := NewMemoryStore()
	if err := m.Save(context.Background(), &Session{}); err == nil {
		t.Error("expected error for empty ID")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: t0}
	m := NewMemoryStore(WithTTL(time.Hour), WithClock(clock.Now))

	m.Save(ctx, New("s1", "A", t0))
	m.Save(ctx, New("s2", "A", t0))

	clock.Advance(50 * time.Minute)
	if err := m.Touch(ctx, "s1"); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	clock.Advance(20 * time.Minute)
	if _, err := m.Load(ctx, "s1"); err != nil {
		t.Errorf("touched session should survive: %v", err)
	}
	if _, err := m.Load(ctx, "s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("untouched session should expire, got %v", err)
	}
	if err := m.Touch(ctx, "s2"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Touch on expired session: got %v", err)
	}
}

func TestMemoryStore_Sweep(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{now: t0}
	m := NewMemoryStore(WithTTL(time.Minute), WithClock(clock.Now))
	m.Save(ctx, New("s1", "A", t0))
	m.Save(ctx, New("s2", "A", t0))
	clock.Advance(30 * time.Second)
	m.Save(ctx, New("s3", "A", t0))
	clock.Advance(45 * time.Second)

	if n := m.Sweep(); n != 2 {
		t.Errorf("Sweep removed %d, want 2", n)
	}
	if m.Len() != 1 {
		t.Errorf("Len: got %d, want 1", m.Len())
	}
}

func TestMemoryStore_Concurrent(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s := New("shared", "A", t0)
			s.SetField("n", string(rune('a'+i)))
			m.Save(ctx, s)
			m.Load(ctx, "shared")
			m.Touch(ctx, "shared")
		}(i)
	}
	wg.Wait()
	if _, err := m.Load(ctx, "shared"); err != nil {
		t.Errorf("Load after concurrent writes: %v", err)
	}
}

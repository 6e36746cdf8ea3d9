package store

import (
	"sync"
	"testing"
	"time"
)

func TestPutGetDelete(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put("k", "v", time.Minute)
	v, err := s.Get("k")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if v != "v" {
		t.Errorf("expected v, got %q", v)
	}
	if !s.Exists("k") {
		t.Error("expected Exists=true")
	}

	s.Delete("k")
	if _, err := s.Get("k"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestLazyExpiry(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	s.Put("k", "v", 10*time.Millisecond)
	time.Sleep(30 * time.Millisecond)
	if s.Exists("k") {
		t.Error("expired entry should not exist")
	}
	if _, err := s.Get("k"); err != ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestPutIfAbsent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	if !s.PutIfAbsent("k", "first", time.Minute) {
		t.Fatal("first claim should succeed")
	}
	if s.PutIfAbsent("k", "second", time.Minute) {
		t.Error("second claim should fail")
	}
	v, _ := s.Get("k")
	if v != "first" {
		t.Errorf("value should be untouched by failed claim, got %q", v)
	}

	// An expired entry counts as absent.
	s.Put("e", "old", time.Nanosecond)
	time.Sleep(time.Millisecond)
	if !s.PutIfAbsent("e", "new", time.Minute) {
		t.Error("claim over expired entry should succeed")
	}
}

func TestPutIfAbsentConcurrent(t *testing.T) {
	s := NewMemoryStore()
	defer s.Close()

	const claimants = 50
	var wg sync.WaitGroup
	wins := make(chan int, claimants)
	for i := 0; i < claimants; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if s.PutIfAbsent("nonce", "claimed", time.Minute) {
				wins <- n
			}
		}(i)
	}
	wg.Wait()
	close(wins)

	count := 0
	for range wins {
		count++
	}
	if count != 1 {
		t.Errorf("expected exactly one winning claimant, got %d", count)
	}
}

package cmap

import (
	"fmt"
	"sync"
	"testing"
)

func TestNewWithShards(t *testing.T) {
	tests := []struct {
		input    int
		expected int
	}{
		{0, DefaultShardCount},
		{-1, DefaultShardCount},
		{3, DefaultShardCount}, // not a power of 2
		{1, 1},
		{4, 4},
		{64, 64},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("shards=%d", tt.input), func(t *testing.T) {
			m := NewWithShards[int](tt.input)
			if len(m.shards) != tt.expected {
				t.Errorf("shard count = %d, want %d", len(m.shards), tt.expected)
			}
		})
	}
}

func TestSetGetDelete(t *testing.T) {
	m := New[int]()

	m.Set("a", 1)
	m.Set("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Errorf("Get(a) = (%d, %v), want (1, true)", v, ok)
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("Get(missing) should report absent")
	}

	if !m.Delete("a") {
		t.Error("Delete(a) should report present")
	}
	if m.Delete("a") {
		t.Error("second Delete(a) should report absent")
	}
	if m.Len() != 1 {
		t.Errorf("Len() = %d, want 1", m.Len())
	}
}

func TestSetIfAbsent(t *testing.T) {
	m := New[string]()

	got, stored := m.SetIfAbsent("k", "first")
	if !stored || got != "first" {
		t.Errorf("first SetIfAbsent = (%q, %v)", got, stored)
	}

	got, stored = m.SetIfAbsent("k", "second")
	if stored || got != "first" {
		t.Errorf("second SetIfAbsent = (%q, %v), want (first, false)", got, stored)
	}
}

func TestRangeAndKeys(t *testing.T) {
	m := New[int]()
	for i := 0; i < 100; i++ {
		m.Set(fmt.Sprintf("key%03d", i), i)
	}

	seen := 0
	m.Range(func(string, int) bool {
		seen++
		return true
	})
	if seen != 100 {
		t.Errorf("Range visited %d entries, want 100", seen)
	}

	if got := len(m.Keys()); got != 100 {
		t.Errorf("Keys() returned %d keys, want 100", got)
	}

	// Early stop.
	seen = 0
	m.Range(func(string, int) bool {
		seen++
		return seen < 10
	})
	if seen != 10 {
		t.Errorf("Range with early stop visited %d entries, want 10", seen)
	}
}

func TestClear(t *testing.T) {
	m := New[int]()
	m.Set("a", 1)
	m.Set("b", 2)
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", m.Len())
	}
}

func TestConcurrentAccess(t *testing.T) {
	m := New[int]()
	var wg sync.WaitGroup

	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("g%d-k%d", g, i)
				m.Set(key, i)
				if v, ok := m.Get(key); !ok || v != i {
					t.Errorf("Get(%s) = (%d, %v)", key, v, ok)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if m.Len() != 8*500 {
		t.Errorf("Len() = %d, want %d", m.Len(), 8*500)
	}
}

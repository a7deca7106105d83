package ballot

import "testing"

func TestAllocatorStride(t *testing.T) {
	a := NewAllocator(1, 3)
	first := a.Next()
	second := a.Next()
	if first == 0 {
		t.Fatalf("first ballot must be nonzero, got %v", first)
	}
	if !first.Less(second) {
		t.Fatalf("ballots must strictly increase: %v then %v", first, second)
	}
	if uint64(second-first) != 3 {
		t.Fatalf("expected stride of N=3, got delta %v", second-first)
	}
}

func TestAllocatorsAreUniquePerReplica(t *testing.T) {
	n := 3
	seen := make(map[Number]int)
	allocators := make([]*Allocator, n)
	for i := 0; i < n; i++ {
		allocators[i] = NewAllocator(i, n)
	}
	for round := 0; round < 5; round++ {
		for i, a := range allocators {
			b := a.Next()
			if owner, exists := seen[b]; exists {
				t.Fatalf("ballot %v issued by both replica %v and replica %v", b, owner, i)
			}
			seen[b] = i
		}
	}
}

package idgen

import (
	"sync"
	"testing"
)

func TestCounterSequence(t *testing.T) {
	var c Counter
	for want := uint32(0); want < 5; want++ {
		if got := c.Next(); got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}
	if c.Peek() != 5 {
		t.Errorf("Peek() = %d, want 5", c.Peek())
	}

	c.Reset()
	if got := c.Next(); got != 0 {
		t.Errorf("Next() after Reset = %d, want 0", got)
	}
}

func TestCounterConcurrent(t *testing.T) {
	var c Counter
	var wg sync.WaitGroup
	seen := make([]uint32, 100)

	for i := range seen {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			seen[i] = c.Next()
		}(i)
	}
	wg.Wait()

	unique := make(map[uint32]bool)
	for _, id := range seen {
		if unique[id] {
			t.Fatalf("id %d handed out twice", id)
		}
		unique[id] = true
	}
}

func TestResetGlobal(t *testing.T) {
	MeshIDs.Next()
	TraceIDs.Next()
	Reset()
	if MeshIDs.Peek() != 0 || TraceIDs.Peek() != 0 {
		t.Error("Reset did not restart global counters")
	}
}

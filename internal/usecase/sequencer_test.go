package usecase

import (
	"sort"
	"sync"
	"testing"
)

func TestSequencer_ConcurrentIDsAreUniqueAndGapFree(t *testing.T) {
	const workers = 16
	const perWorker = 500

	s := NewSequencer()
	results := make([][]uint64, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				results[w] = append(results[w], s.Next())
			}
		}(w)
	}
	wg.Wait()

	var all []uint64
	for w, ids := range results {
		for i := 1; i < len(ids); i++ {
			if ids[i] <= ids[i-1] {
				t.Fatalf("worker %d saw non-increasing ids %d then %d", w, ids[i-1], ids[i])
			}
		}
		all = append(all, ids...)
	}

	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })
	for i, id := range all {
		if id != uint64(i+1) {
			t.Fatalf("expected id %d at position %d, got %d", i+1, i, id)
		}
	}
	if s.Last() != workers*perWorker {
		t.Errorf("expected last id %d, got %d", workers*perWorker, s.Last())
	}
}

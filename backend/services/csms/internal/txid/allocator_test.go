package txid

import (
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAllocatorStartsAtOne(t *testing.T) {
	a := NewAllocator()
	assert.Equal(t, 0, a.Last())
	assert.Equal(t, 1, a.Next())
	assert.Equal(t, 2, a.Next())
	assert.Equal(t, 2, a.Last())
}

func TestAllocatorConcurrentIDsAreUnique(t *testing.T) {
	const workers = 16
	const perWorker = 500

	a := NewAllocator()
	results := make([][]int, workers)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			ids := make([]int, 0, perWorker)
			for i := 0; i < perWorker; i++ {
				ids = append(ids, a.Next())
			}
			results[w] = ids
		}(w)
	}
	wg.Wait()

	all := make([]int, 0, workers*perWorker)
	for _, ids := range results {
		for i := 1; i < len(ids); i++ {
			require.Greater(t, ids[i], ids[i-1], "ids issued to one caller must increase")
		}
		all = append(all, ids...)
	}

	sort.Ints(all)
	for i, id := range all {
		require.Equal(t, i+1, id)
	}
}

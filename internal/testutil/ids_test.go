package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSerialIDs_SequentialAndPadded(t *testing.T) {
	gen := NewSerialIDs("fact")

	assert.Equal(t, "fact-000001", gen.Generate())
	assert.Equal(t, "fact-000002", gen.Generate())
	assert.Equal(t, "fact-000003", gen.Generate())
}

func TestSerialIDs_EmptyPrefixDefault(t *testing.T) {
	gen := NewSerialIDs("")
	assert.Equal(t, "id-000001", gen.Generate())
}

func TestSerialIDs_NoDuplicatesUnderConcurrency(t *testing.T) {
	gen := NewSerialIDs("x")

	const workers = 10
	const perWorker = 100

	var wg sync.WaitGroup
	out := make([][]string, workers)
	for i := 0; i < workers; i++ {
		out[i] = make([]string, perWorker)
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				out[idx][j] = gen.Generate()
			}
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, ids := range out {
		for _, id := range ids {
			require.False(t, seen[id], "duplicate id %s", id)
			seen[id] = true
		}
	}
	assert.Len(t, seen, workers*perWorker)
}

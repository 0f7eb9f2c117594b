package id

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	const n = 200
	ids := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids[i] = New()
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool, n)
	for _, v := range ids {
		assert.Len(t, v, 26)
		assert.False(t, seen[v], "重复 ID %s", v)
		seen[v] = true
	}

	a := NewAt(time.UnixMilli(1000))
	b := NewAt(time.UnixMilli(2000))
	assert.Less(t, a, b)
}

func TestTime(t *testing.T) {
	at := time.UnixMilli(1735808401000)
	got, err := Time(NewAt(at))
	require.NoError(t, err)
	assert.True(t, at.Equal(got))

	_, err = Time("not-a-ulid")
	assert.Error(t, err)
}

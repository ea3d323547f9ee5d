package matches

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/platform/metrics"
)

func TestCache_GetPutInvalidate(t *testing.T) {
	c := NewCache(4)

	_, ok := c.Get("m1")
	assert.False(t, ok)

	c.Put("m1", &match.State{MatchID: "m1", Description: "first"})
	got, ok := c.Get("m1")
	require.True(t, ok)
	assert.Equal(t, "first", got.Description)

	c.Invalidate("m1")
	_, ok = c.Get("m1")
	assert.False(t, ok)
	assert.Zero(t, c.Len())
}

func TestCache_CopiesInAndOut(t *testing.T) {
	c := NewCache(1)
	state := &match.State{MatchID: "m1", Teams: map[string]*match.Team{"a": {TeamID: "a"}}}
	c.Put("m1", state)
	state.Teams["a"].TeamName = "mutated after put"

	got, ok := c.Get("m1")
	require.True(t, ok)
	assert.Empty(t, got.Teams["a"].TeamName)

	got.Teams["a"].TeamName = "mutated after get"
	again, _ := c.Get("m1")
	assert.Empty(t, again.Teams["a"].TeamName)
}

func TestCache_PutIfCurrent(t *testing.T) {
	c := NewCache(2)

	_, gen, ok := c.Lookup("m1")
	require.False(t, ok)
	assert.True(t, c.PutIfCurrent("m1", &match.State{MatchID: "m1"}, gen))

	_, gen, _ = c.Lookup("m1")
	c.Invalidate("m1")
	assert.False(t, c.PutIfCurrent("m1", &match.State{MatchID: "m1", Description: "stale"}, gen))
	_, ok = c.Get("m1")
	assert.False(t, ok)
}

func TestCache_ConcurrentKeys(t *testing.T) {
	c := NewCache(8)
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("m%d", i)
			for j := 0; j < 50; j++ {
				c.Put(id, &match.State{MatchID: id, Innings: j})
				if got, ok := c.Get(id); ok {
					assert.Equal(t, id, got.MatchID)
				}
				if j%10 == 0 {
					c.Invalidate(id)
				}
			}
		}(i)
	}
	wg.Wait()
	assert.LessOrEqual(t, c.Len(), 32)
}

func TestCache_SizeGauge(t *testing.T) {
	c := NewCache(4)
	reg := metrics.NewRegistry()
	reg.MustRegister(c.SizeGauge())

	c.Put("m1", &match.State{MatchID: "m1"})
	c.Put("m2", &match.State{MatchID: "m2"})
	assert.Contains(t, reg.Render(), "match_cache_entries 2\n")

	c.Invalidate("m1")
	assert.Contains(t, reg.Render(), "match_cache_entries 1\n")
}

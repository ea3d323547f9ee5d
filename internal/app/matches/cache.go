package matches

import (
	"sync"

	"github.com/cketlive/scoring/internal/match"
	"github.com/cketlive/scoring/internal/platform/metrics"
	"github.com/cketlive/scoring/internal/sharding"
)

// Cache is a process-local mirror of match documents. It has no eviction
// and no TTL, so it grows with the number of matches this process has
// read. Entries are striped by match id; operations on one id are atomic
// and ids on different stripes never contend.
//
// Every id carries a generation that Invalidate bumps. Read-through
// population goes Lookup -> load -> PutIfCurrent, and the put is dropped
// when a write invalidated the id in between.
type Cache struct {
	stripes []cacheStripe
}

type cacheStripe struct {
	mu          sync.Mutex
	entries     map[string]*match.State
	generations map[string]uint64
}

func NewCache(stripes int) *Cache {
	if stripes <= 0 {
		stripes = sharding.DefaultStripes
	}
	c := &Cache{stripes: make([]cacheStripe, stripes)}
	for i := range c.stripes {
		c.stripes[i].entries = map[string]*match.State{}
		c.stripes[i].generations = map[string]uint64{}
	}
	return c
}

func (c *Cache) stripe(id string) *cacheStripe {
	return &c.stripes[sharding.Of(id, len(c.stripes))]
}

// Get returns a private copy of the cached state.
func (c *Cache) Get(id string) (*match.State, bool) {
	state, _, ok := c.Lookup(id)
	return state, ok
}

// Lookup is Get that also returns the current generation of id, to be
// handed back to PutIfCurrent after a miss.
func (c *Cache) Lookup(id string) (*match.State, uint64, bool) {
	s := c.stripe(id)
	s.mu.Lock()
	state, ok := s.entries[id]
	gen := s.generations[id]
	s.mu.Unlock()
	if !ok {
		return nil, gen, false
	}
	// Stored states are never mutated, so the copy can be taken unlocked.
	copied, err := state.Clone()
	if err != nil {
		return nil, gen, false
	}
	return copied, gen, true
}

func (c *Cache) Put(id string, state *match.State) {
	copied, err := state.Clone()
	if err != nil || copied == nil {
		c.Invalidate(id)
		return
	}
	s := c.stripe(id)
	s.mu.Lock()
	s.entries[id] = copied
	s.mu.Unlock()
}

// PutIfCurrent stores state only when id has not been invalidated since
// gen was observed. It reports whether the entry was stored.
func (c *Cache) PutIfCurrent(id string, state *match.State, gen uint64) bool {
	copied, err := state.Clone()
	if err != nil || copied == nil {
		return false
	}
	s := c.stripe(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.generations[id] != gen {
		return false
	}
	s.entries[id] = copied
	return true
}

func (c *Cache) Invalidate(id string) {
	s := c.stripe(id)
	s.mu.Lock()
	delete(s.entries, id)
	s.generations[id]++
	s.mu.Unlock()
}

// Len reports the number of cached matches.
func (c *Cache) Len() int {
	n := 0
	for i := range c.stripes {
		s := &c.stripes[i]
		s.mu.Lock()
		n += len(s.entries)
		s.mu.Unlock()
	}
	return n
}

// SizeGauge exposes Len as match_cache_entries, evaluated on every scrape.
func (c *Cache) SizeGauge() *metrics.GaugeFunc {
	return metrics.NewGaugeFunc(metrics.Opts{
		Name: "match_cache_entries",
		Help: "Matches currently held in the process cache.",
	}, func() float64 {
		return float64(c.Len())
	})
}

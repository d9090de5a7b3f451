package imaging

import (
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// FrameCache keeps processed frames keyed by tile name. Tiles are immutable
// once written, so a name is a sufficient key.
type FrameCache struct {
	proc  *Processor
	cache *lru.Cache[string, []byte]
}

// NewFrameCache creates a cache holding up to size processed frames.
func NewFrameCache(proc *Processor, size int) (*FrameCache, error) {
	if size <= 0 {
		size = 128
	}
	c, err := lru.New[string, []byte](size)
	if err != nil {
		return nil, err
	}
	return &FrameCache{proc: proc, cache: c}, nil
}

// Get returns the processed frame for a tile, loading and processing it on a miss.
func (c *FrameCache) Get(name string, at time.Time, load func() ([]byte, error)) ([]byte, error) {
	if data, ok := c.cache.Get(name); ok {
		return data, nil
	}

	raw, err := load()
	if err != nil {
		return nil, err
	}
	data, err := c.proc.Process(raw, at)
	if err != nil {
		return nil, err
	}
	c.cache.Add(name, data)
	return data, nil
}

// Len returns the number of cached frames.
func (c *FrameCache) Len() int {
	return c.cache.Len()
}

package radar

import (
	"context"
	"errors"
	"time"
)

// ErrNotPublished is returned by a Provider when the remote has no image for
// the requested minute. Most minutes of the lookback window end this way.
var ErrNotPublished = errors.New("radar image not published")

// Provider abstracts a radar image source.
type Provider interface {
	Name() string
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Store is the contract the on-disk tile store must satisfy.
type Store interface {
	Has(name string) (bool, error)
	Save(name string, data []byte) error
	List() ([]Tile, error)
	Read(name string) ([]byte, error)
	Delete(name string) error
}

// Journal records fetch attempts. It is optional.
type Journal interface {
	Record(ctx context.Context, a Attempt) error
	Summary(ctx context.Context) (JournalSummary, error)
	Prune(ctx context.Context, before time.Time) (int64, error)
}

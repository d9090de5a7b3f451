package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/nicoakes/RainRadarrNZ/internal/radar"
)

var (
	// ErrNotFound is returned when a tile is not stored.
	ErrNotFound = errors.New("radar tile not found")
	// ErrInvalidName is returned for names outside the tile naming pattern.
	ErrInvalidName = errors.New("invalid radar tile name")
)

// DiskStore keeps radar tiles as plain files in a single directory.
// Files that do not follow the tile naming pattern are ignored.
type DiskStore struct {
	mu  sync.RWMutex
	dir string
}

// NewDiskStore creates the directory if needed.
func NewDiskStore(dir string) (*DiskStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("image directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}
	return &DiskStore{dir: dir}, nil
}

// Dir returns the directory the store writes to.
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) path(name string) (string, error) {
	if filepath.Base(name) != name || !radar.IsTileName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return filepath.Join(s.dir, name), nil
}

// Has reports whether a tile with the given name exists.
func (s *DiskStore) Has(name string) (bool, error) {
	p, err := s.path(name)
	if err != nil {
		return false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	_, err = os.Stat(p)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Save writes the tile through a temporary file and a rename, so a crash
// mid-write never leaves a partial file under the final name.
func (s *DiskStore) Save(name string, data []byte) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, ".partial-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write tile: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close tile: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("chmod tile: %w", err)
	}
	if err := os.Rename(tmpName, p); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename tile: %w", err)
	}
	return nil
}

// List returns every stored tile sorted by its embedded timestamp, oldest first.
func (s *DiskStore) List() ([]radar.Tile, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read image directory: %w", err)
	}

	tiles := make([]radar.Tile, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		at, ok := radar.ParseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Deleted between ReadDir and Info.
			continue
		}
		tiles = append(tiles, radar.Tile{
			Name: e.Name(),
			Path: filepath.Join(s.dir, e.Name()),
			At:   at,
			Size: info.Size(),
		})
	}

	sort.Slice(tiles, func(i, j int) bool {
		return tiles[i].At.Before(tiles[j].At)
	})
	return tiles, nil
}

// Read returns the bytes of a stored tile.
func (s *DiskStore) Read(name string) ([]byte, error) {
	p, err := s.path(name)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// Delete removes a stored tile. Deleting a missing tile is not an error.
func (s *DiskStore) Delete(name string) error {
	p, err := s.path(name)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

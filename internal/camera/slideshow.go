package camera

import (
	"sync"

	"github.com/nicoakes/RainRadarrNZ/internal/radar"
)

// Slideshow tracks the camera's position in the list of retained tiles.
// Every poll advances one frame and wraps around; on the last frame it can
// hold for a number of extra polls so the newest image stays up longer.
type Slideshow struct {
	mu          sync.Mutex
	limit       int
	pauseFrames int

	index int
	held  int
}

// NewSlideshow creates a Slideshow. limit caps the window to the most recent
// tiles (0 = all); pauseFrames is the number of extra polls spent on the last frame.
func NewSlideshow(limit, pauseFrames int) *Slideshow {
	if limit < 0 {
		limit = 0
	}
	if pauseFrames < 0 {
		pauseFrames = 0
	}
	return &Slideshow{limit: limit, pauseFrames: pauseFrames, index: -1}
}

// Window returns the tiles the slideshow plays: the input, which must be
// sorted oldest first, limited to the most recent entries.
func (s *Slideshow) Window(tiles []radar.Tile) []radar.Tile {
	if s.limit > 0 && len(tiles) > s.limit {
		return tiles[len(tiles)-s.limit:]
	}
	return tiles
}

// PauseFrames returns the configured hold on the last frame.
func (s *Slideshow) PauseFrames() int {
	return s.pauseFrames
}

// Next advances the slideshow over a window of n frames and returns the
// index to show, or -1 when the window is empty. The first call after a
// reset shows frame 0. If the window shrank below the current position the
// index is clamped to the last frame.
func (s *Slideshow) Next(n int) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case n <= 0:
		s.index, s.held = -1, 0
		return -1
	case s.index < 0:
		s.index, s.held = 0, 0
	case s.index >= n:
		s.index, s.held = n-1, 0
	case s.index == n-1:
		if s.held < s.pauseFrames {
			s.held++
			break
		}
		s.index, s.held = 0, 0
	default:
		s.index++
	}
	return s.index
}

// Index returns the current position without advancing.
func (s *Slideshow) Index() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index
}

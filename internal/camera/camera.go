package camera

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar"
	"github.com/nicoakes/RainRadarrNZ/internal/store"
)

// ErrNoImage is returned when no radar tile is stored yet.
var ErrNoImage = errors.New("no radar image available")

// TileSource lists and reads stored tiles.
type TileSource interface {
	Tiles() ([]radar.Tile, error)
	ReadTile(name string) ([]byte, error)
}

// Camera serves the stored tiles as a looping slideshow.
type Camera struct {
	name   string
	source TileSource
	slides *Slideshow
	frames *imaging.FrameCache
	logger *zap.Logger
}

// New creates a Camera.
func New(name string, source TileSource, slides *Slideshow, frames *imaging.FrameCache, logger *zap.Logger) *Camera {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Camera{
		name:   name,
		source: source,
		slides: slides,
		frames: frames,
		logger: logger,
	}
}

// Fork returns a camera over the same tiles and frame cache with its own
// slideshow position, so independent viewers do not advance each other.
func (c *Camera) Fork() *Camera {
	cp := *c
	cp.slides = NewSlideshow(c.slides.limit, c.slides.pauseFrames)
	return &cp
}

// Name returns the entity name.
func (c *Camera) Name() string {
	return c.name
}

// PauseFrames returns the slideshow's hold on the last frame.
func (c *Camera) PauseFrames() int {
	return c.slides.PauseFrames()
}

// Image advances the slideshow and returns the frame to show.
func (c *Camera) Image(ctx context.Context) (imaging.Frame, error) {
	if err := ctx.Err(); err != nil {
		return imaging.Frame{}, err
	}

	window, err := c.window()
	if err != nil {
		return imaging.Frame{}, err
	}

	idx := c.slides.Next(len(window))
	if idx < 0 {
		return imaging.Frame{}, ErrNoImage
	}
	f, err := c.frame(window[idx])
	if !errors.Is(err, store.ErrNotFound) {
		return f, err
	}

	// Cleanup removed the tile after it was listed; show the refreshed window.
	c.logger.Debug("Radar tile vanished, relisting", zap.String("file", window[idx].Name))
	window, err = c.window()
	if err != nil {
		return imaging.Frame{}, err
	}
	idx = c.slides.Next(len(window))
	if idx < 0 {
		return imaging.Frame{}, ErrNoImage
	}
	return c.frame(window[idx])
}

// Frames returns every frame of the current window, oldest first. Tiles that
// fail to load are skipped.
func (c *Camera) Frames(ctx context.Context) ([]imaging.Frame, error) {
	window, err := c.window()
	if err != nil {
		return nil, err
	}
	if len(window) == 0 {
		return nil, ErrNoImage
	}

	out := make([]imaging.Frame, 0, len(window))
	for _, t := range window {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		f, err := c.frame(t)
		if err != nil {
			c.logger.Warn("Skipping radar frame", zap.String("file", t.Name), zap.Error(err))
			continue
		}
		out = append(out, f)
	}
	if len(out) == 0 {
		return nil, ErrNoImage
	}
	return out, nil
}

func (c *Camera) window() ([]radar.Tile, error) {
	tiles, err := c.source.Tiles()
	if err != nil {
		return nil, fmt.Errorf("list tiles: %w", err)
	}
	return c.slides.Window(tiles), nil
}

func (c *Camera) frame(t radar.Tile) (imaging.Frame, error) {
	data, err := c.frames.Get(t.Name, t.At, func() ([]byte, error) {
		return c.source.ReadTile(t.Name)
	})
	if err != nil {
		return imaging.Frame{}, fmt.Errorf("load %s: %w", t.Name, err)
	}
	return imaging.Frame{Name: t.Name, At: t.At, Data: data}, nil
}

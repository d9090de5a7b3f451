package httpapi

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"mime/multipart"
	"net/textproto"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/nicoakes/RainRadarrNZ/internal/camera"
	"github.com/nicoakes/RainRadarrNZ/internal/imaging"
	"github.com/nicoakes/RainRadarrNZ/internal/radar"
	"github.com/nicoakes/RainRadarrNZ/internal/store"
)

var validate = validator.New()

const (
	streamBoundary  = "frame"
	streamKeepAlive = "\r\n"
	jpegQuality     = 85
	refreshTimeout  = 2 * time.Minute
)

// RadarService is the read side of the radar service.
type RadarService interface {
	Tiles() ([]radar.Tile, error)
	ReadTile(name string) ([]byte, error)
	Sensor(ctx context.Context) (radar.SensorSnapshot, error)
}

// Refresher runs a fetch pass on demand.
type Refresher interface {
	RunFetch(ctx context.Context) (radar.FetchReport, error)
}

// Deps are the handlers' collaborators.
type Deps struct {
	Radar     RadarService
	Camera    *camera.Camera
	Refresher Refresher

	// FrameInterval paces the MJPEG stream and the exported loops.
	FrameInterval time.Duration
	Logger        *zap.Logger
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	if d.FrameInterval <= 0 {
		d.FrameInterval = time.Second
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}

	v1 := app.Group("/api/v1")

	v1.Get("/camera/image", func(c *fiber.Ctx) error {
		frame, err := d.Camera.Image(c.UserContext())
		if err != nil {
			return cameraError(err)
		}
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Set("X-Radar-Image", frame.Name)
		c.Type("gif")
		return c.Send(frame.Data)
	})

	v1.Get("/camera/stream", func(c *fiber.Ctx) error {
		// Each stream gets its own slideshow so viewers do not skip frames.
		cam := d.Camera.Fork()
		interval := d.FrameInterval
		logger := d.Logger

		c.Set(fiber.HeaderContentType, "multipart/x-mixed-replace; boundary="+streamBoundary)
		c.Set(fiber.HeaderCacheControl, "no-store")
		c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
			streamFrames(w, cam, interval, logger)
		})
		return nil
	})

	v1.Get("/camera/loop.gif", func(c *fiber.Ctx) error {
		frames, err := d.Camera.Frames(c.UserContext())
		if err != nil {
			return cameraError(err)
		}
		data, err := imaging.EncodeLoopGIF(frames, d.FrameInterval, d.Camera.PauseFrames())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to encode radar loop")
		}
		c.Type("gif")
		return c.Send(data)
	})

	v1.Get("/camera/loop.avi", func(c *fiber.Ctx) error {
		frames, err := d.Camera.Frames(c.UserContext())
		if err != nil {
			return cameraError(err)
		}

		tmp, err := os.CreateTemp("", "rainradar-*.avi")
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to create video")
		}
		path := tmp.Name()
		tmp.Close()
		defer os.Remove(path)

		fps := int(time.Second / d.FrameInterval)
		if err := imaging.EncodeLoopAVI(frames, fps, d.Camera.PauseFrames(), path); err != nil {
			d.Logger.Warn("Failed to encode AVI loop", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "failed to encode radar loop")
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read video")
		}
		c.Set(fiber.HeaderContentType, "video/x-msvideo")
		return c.Send(data)
	})

	v1.Get("/sensor", func(c *fiber.Ctx) error {
		snap, err := d.Radar.Sensor(c.UserContext())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read sensor state")
		}
		return c.JSON(snap)
	})

	v1.Get("/images", func(c *fiber.Ctx) error {
		var q imagesQuery
		if err := q.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		tiles, err := d.Radar.Tiles()
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list radar images")
		}
		if q.Limit > 0 && len(tiles) > q.Limit {
			tiles = tiles[len(tiles)-q.Limit:]
		}
		if tiles == nil {
			tiles = []radar.Tile{}
		}

		return c.JSON(fiber.Map{
			"count":  len(tiles),
			"images": tiles,
		})
	})

	v1.Get("/images/:name", func(c *fiber.Ctx) error {
		// Tile names carry a literal "+" that clients usually send as %2B.
		name, err := url.PathUnescape(c.Params("name"))
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid image name")
		}
		data, err := d.Radar.ReadTile(name)
		if err != nil {
			switch {
			case errors.Is(err, store.ErrInvalidName):
				return fiber.NewError(fiber.StatusBadRequest, "invalid image name")
			case errors.Is(err, store.ErrNotFound):
				return fiber.NewError(fiber.StatusNotFound, "radar image not found")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to read radar image")
		}
		c.Type("gif")
		return c.Send(data)
	})

	v1.Post("/refresh", func(c *fiber.Ctx) error {
		if d.Refresher == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "refresh is not available")
		}
		ctx, cancel := context.WithTimeout(c.UserContext(), refreshTimeout)
		defer cancel()

		report, err := d.Refresher.RunFetch(ctx)
		if err != nil {
			d.Logger.Warn("Manual refresh failed", zap.Error(err))
			return fiber.NewError(fiber.StatusInternalServerError, "radar refresh failed")
		}
		return c.JSON(report)
	})
}

func cameraError(err error) error {
	if errors.Is(err, camera.ErrNoImage) {
		return fiber.NewError(fiber.StatusNotFound, "no radar image available")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to load radar image")
}

// streamFrames writes JPEG parts until the client goes away.
func streamFrames(w *bufio.Writer, cam *camera.Camera, interval time.Duration, logger *zap.Logger) {
	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(streamBoundary); err != nil {
		logger.Error("Invalid stream boundary", zap.Error(err))
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := writeStreamFrame(w, mw, cam); err != nil {
			logger.Debug("Camera stream closed", zap.Error(err))
			return
		}
		<-ticker.C
	}
}

func writeStreamFrame(w *bufio.Writer, mw *multipart.Writer, cam *camera.Camera) error {
	frame, err := cam.Image(context.Background())
	if errors.Is(err, camera.ErrNoImage) {
		// Nothing to show yet. The keep-alive reaches the socket, so a
		// client that went away is noticed before the first tile arrives.
		if _, err := w.WriteString(streamKeepAlive); err != nil {
			return err
		}
		return w.Flush()
	}
	if err != nil {
		return err
	}

	jpg, err := imaging.ToJPEG(frame.Data, jpegQuality)
	if err != nil {
		return err
	}

	part, err := mw.CreatePart(textproto.MIMEHeader{
		"Content-Type":   {"image/jpeg"},
		"Content-Length": {strconv.Itoa(len(jpg))},
	})
	if err != nil {
		return err
	}
	if _, err := part.Write(jpg); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush frame: %w", err)
	}
	return nil
}

// imagesQuery holds query parameters for the image listing.
type imagesQuery struct {
	Limit int `validate:"gte=0,lte=1000"`
}

func (q *imagesQuery) bind(c *fiber.Ctx) error {
	raw := c.Query("limit")
	if raw == "" {
		return nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return errors.New("limit must be an integer")
	}
	q.Limit = n
	return nil
}

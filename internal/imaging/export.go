package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"time"

	"github.com/icza/mjpeg"
)

// Frame is one processed slideshow image.
type Frame struct {
	Name string
	At   time.Time
	Data []byte // GIF
}

// ToJPEG re-encodes a GIF frame as JPEG for MJPEG consumers.
func ToJPEG(data []byte, quality int) ([]byte, error) {
	img, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}
	if quality <= 0 || quality > 100 {
		quality = 85
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode frame as JPEG: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeLoopGIF builds an animated GIF from frames. Each frame shows for
// delay; the last one shows for (hold+1)*delay, which mirrors the
// slideshow's pause on the newest image.
func EncodeLoopGIF(frames []Frame, delay time.Duration, hold int) ([]byte, error) {
	if len(frames) == 0 {
		return nil, fmt.Errorf("no frames to export")
	}

	// GIF delays are in 100ths of a second.
	step := int(delay / (10 * time.Millisecond))
	if step < 1 {
		step = 1
	}
	if hold < 0 {
		hold = 0
	}

	images := make([]*image.Paletted, 0, len(frames))
	delays := make([]int, 0, len(frames))
	var width, height int

	for i, f := range frames {
		img, err := gif.Decode(bytes.NewReader(f.Data))
		if err != nil {
			return nil, fmt.Errorf("failed to decode frame %d: %w", i, err)
		}

		pal, ok := img.(*image.Paletted)
		if !ok {
			bounds := img.Bounds()
			pal = image.NewPaletted(bounds, palette.Plan9)
			draw.FloydSteinberg.Draw(pal, bounds, img, bounds.Min)
		}

		if b := pal.Bounds(); b.Max.X > width || b.Max.Y > height {
			width, height = max(width, b.Max.X), max(height, b.Max.Y)
		}

		images = append(images, pal)
		delays = append(delays, step)
	}
	delays[len(delays)-1] = step * (hold + 1)

	var buf bytes.Buffer
	err := gif.EncodeAll(&buf, &gif.GIF{
		Image: images,
		Delay: delays,
		Config: image.Config{
			ColorModel: images[0].Palette,
			Width:      width,
			Height:     height,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("encode loop: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeLoopAVI writes frames to an MJPEG AVI file at path. The last frame
// is repeated hold times.
func EncodeLoopAVI(frames []Frame, fps int, hold int, path string) error {
	if len(frames) == 0 {
		return fmt.Errorf("no frames to export")
	}
	if fps < 1 {
		fps = 1
	}
	if fps > 30 {
		fps = 30
	}

	jpegs := make([][]byte, 0, len(frames)+hold)
	var width, height int
	for i, f := range frames {
		cfg, err := gif.DecodeConfig(bytes.NewReader(f.Data))
		if err != nil {
			return fmt.Errorf("failed to read frame %d: %w", i, err)
		}
		width, height = max(width, cfg.Width), max(height, cfg.Height)

		j, err := ToJPEG(f.Data, 90)
		if err != nil {
			return fmt.Errorf("failed to convert frame %d: %w", i, err)
		}
		jpegs = append(jpegs, j)
	}
	last := jpegs[len(jpegs)-1]
	for i := 0; i < hold; i++ {
		jpegs = append(jpegs, last)
	}

	writer, err := mjpeg.New(path, int32(width), int32(height), int32(fps))
	if err != nil {
		return fmt.Errorf("failed to create video writer: %w", err)
	}

	for i, j := range jpegs {
		if err := writer.AddFrame(j); err != nil {
			writer.Close()
			return fmt.Errorf("failed to add frame %d: %w", i, err)
		}
	}
	return writer.Close()
}

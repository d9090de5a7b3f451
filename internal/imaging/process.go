package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"os"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// ErrEmptyCrop is returned when the crop box does not overlap the image.
var ErrEmptyCrop = errors.New("crop box does not overlap image")

// CropBox is a pixel rectangle in source image coordinates. The zero value
// disables cropping.
type CropBox struct {
	Left   int `json:"left" toml:"left"`
	Top    int `json:"top" toml:"top"`
	Right  int `json:"right" toml:"right"`
	Bottom int `json:"bottom" toml:"bottom"`
}

// IsZero reports whether cropping is disabled.
func (b CropBox) IsZero() bool {
	return b == CropBox{}
}

// Rect converts the box to an image.Rectangle.
func (b CropBox) Rect() image.Rectangle {
	return image.Rect(b.Left, b.Top, b.Right, b.Bottom)
}

// Overlay configures the timestamp watermark.
type Overlay struct {
	Enabled  bool
	Format   string
	Position string // top-left, top-right, bottom-left, bottom-right
	FontPath string
	FontSize float64
	Color    color.Color
	Shadow   bool
}

// DefaultOverlayFormat is the watermark layout when none is configured.
const DefaultOverlayFormat = "2006-01-02 15:04"

// Processor applies the optional crop and timestamp overlay to radar tiles.
type Processor struct {
	crop     CropBox
	overlay  Overlay
	location *time.Location
	face     font.Face
}

// NewProcessor creates a Processor. Timestamps are drawn in loc.
func NewProcessor(crop CropBox, overlay Overlay, loc *time.Location) (*Processor, error) {
	if !crop.IsZero() && crop.Rect().Empty() {
		return nil, fmt.Errorf("invalid crop box %v", crop)
	}
	if loc == nil {
		loc = time.UTC
	}
	if overlay.Format == "" {
		overlay.Format = DefaultOverlayFormat
	}
	if overlay.Color == nil {
		overlay.Color = color.White
	}

	p := &Processor{crop: crop, overlay: overlay, location: loc}

	if overlay.Enabled {
		face, err := loadFace(overlay.FontPath, overlay.FontSize)
		if err != nil {
			return nil, err
		}
		p.face = face
	}
	return p, nil
}

// loadFace parses a TrueType/OpenType font, or falls back to the built-in
// 7x13 bitmap face when no path is given.
func loadFace(path string, size float64) (font.Face, error) {
	if path == "" {
		return basicfont.Face7x13, nil
	}
	if size <= 0 {
		size = 14
	}

	fontBytes, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read font file: %w", err)
	}
	f, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse font: %w", err)
	}
	face, err := opentype.NewFace(f, &opentype.FaceOptions{
		Size:    size,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create font face: %w", err)
	}
	return face, nil
}

// Active reports whether Process changes anything.
func (p *Processor) Active() bool {
	return !p.crop.IsZero() || p.overlay.Enabled
}

// Process decodes a GIF tile, crops it, draws the timestamp and re-encodes
// it. When no processing is configured the input is returned unchanged.
func (p *Processor) Process(data []byte, at time.Time) ([]byte, error) {
	if !p.Active() {
		return data, nil
	}

	src, err := gif.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile: %w", err)
	}

	dst, err := p.crop.apply(src)
	if err != nil {
		return nil, err
	}

	if p.overlay.Enabled && p.face != nil {
		p.drawTimestamp(dst, at)
	}

	var buf bytes.Buffer
	if err := gif.Encode(&buf, dst, nil); err != nil {
		return nil, fmt.Errorf("encode tile: %w", err)
	}
	return buf.Bytes(), nil
}

// apply copies the cropped area into a new paletted image anchored at the origin.
func (b CropBox) apply(src image.Image) (*image.Paletted, error) {
	r := src.Bounds()
	if !b.IsZero() {
		r = b.Rect().Add(src.Bounds().Min).Intersect(src.Bounds())
		if r.Empty() {
			return nil, ErrEmptyCrop
		}
	}

	out := image.Rect(0, 0, r.Dx(), r.Dy())
	if pal, ok := src.(*image.Paletted); ok {
		dst := image.NewPaletted(out, pal.Palette)
		draw.Draw(dst, out, src, r.Min, draw.Src)
		return dst, nil
	}

	dst := image.NewPaletted(out, palette.Plan9)
	draw.FloydSteinberg.Draw(dst, out, src, r.Min)
	return dst, nil
}

func (p *Processor) drawTimestamp(dst draw.Image, at time.Time) {
	text := at.In(p.location).Format(p.overlay.Format)

	drawer := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(p.overlay.Color),
		Face: p.face,
	}

	bounds, _ := drawer.BoundString(text)
	textWidth := (bounds.Max.X - bounds.Min.X).Ceil()
	textHeight := (bounds.Max.Y - bounds.Min.Y).Ceil()

	w, h := dst.Bounds().Dx(), dst.Bounds().Dy()
	padding := 4

	var x, y int
	switch p.overlay.Position {
	case "top-left":
		x, y = padding, padding+textHeight
	case "top-right":
		x, y = w-textWidth-padding, padding+textHeight
	case "bottom-right":
		x, y = w-textWidth-padding, h-padding
	default:
		x, y = padding, h-padding
	}

	if p.overlay.Shadow {
		shadow := &font.Drawer{
			Dst:  dst,
			Src:  image.NewUniform(color.Black),
			Face: p.face,
			Dot:  fixed.P(x+1, y+1),
		}
		shadow.DrawString(text)
	}

	drawer.Dot = fixed.P(x, y)
	drawer.DrawString(text)
}

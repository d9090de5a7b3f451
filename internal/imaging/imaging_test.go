package imaging

import (
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/color/palette"
	"image/gif"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solidGIF(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewPaletted(image.Rect(0, 0, w, h), palette.Plan9)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, img, nil))
	return buf.Bytes()
}

func TestProcessPassThrough(t *testing.T) {
	p, err := NewProcessor(CropBox{}, Overlay{}, nil)
	require.NoError(t, err)
	assert.False(t, p.Active())

	in := solidGIF(t, 10, 10, color.Black)
	out, err := p.Process(in, time.Now())
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestProcessCrop(t *testing.T) {
	p, err := NewProcessor(CropBox{Left: 10, Top: 5, Right: 50, Bottom: 25}, Overlay{}, nil)
	require.NoError(t, err)
	require.True(t, p.Active())

	out, err := p.Process(solidGIF(t, 100, 80, color.White), time.Now())
	require.NoError(t, err)

	cfg, err := gif.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 40, cfg.Width)
	assert.Equal(t, 20, cfg.Height)
}

func TestProcessCropClampsToImage(t *testing.T) {
	p, err := NewProcessor(CropBox{Left: 50, Top: 0, Right: 500, Bottom: 500}, Overlay{}, nil)
	require.NoError(t, err)

	out, err := p.Process(solidGIF(t, 80, 60, color.White), time.Now())
	require.NoError(t, err)

	cfg, err := gif.DecodeConfig(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 30, cfg.Width)
	assert.Equal(t, 60, cfg.Height)
}

func TestProcessCropOutsideImage(t *testing.T) {
	p, err := NewProcessor(CropBox{Left: 200, Top: 200, Right: 300, Bottom: 300}, Overlay{}, nil)
	require.NoError(t, err)

	_, err = p.Process(solidGIF(t, 80, 60, color.White), time.Now())
	assert.True(t, errors.Is(err, ErrEmptyCrop))
}

func TestNewProcessorRejectsEmptyCrop(t *testing.T) {
	_, err := NewProcessor(CropBox{Left: 10, Top: 0, Right: 10, Bottom: 10}, Overlay{}, nil)
	assert.Error(t, err)
}

func TestNewProcessorMissingFont(t *testing.T) {
	_, err := NewProcessor(CropBox{}, Overlay{Enabled: true, FontPath: filepath.Join(t.TempDir(), "none.ttf")}, nil)
	assert.Error(t, err)
}

func TestProcessDrawsTimestamp(t *testing.T) {
	loc := time.FixedZone("NZDT", 13*3600)

	p, err := NewProcessor(CropBox{}, Overlay{Enabled: true, Position: "top-left"}, loc)
	require.NoError(t, err)

	out, err := p.Process(solidGIF(t, 160, 40, color.Black), time.Date(2024, 1, 15, 10, 30, 0, 0, loc))
	require.NoError(t, err)

	img, err := gif.Decode(bytes.NewReader(out))
	require.NoError(t, err)

	lit := 0
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if r, _, _, _ := img.At(x, y).RGBA(); r > 0x8000 {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 20, "expected the timestamp to be drawn")
}

func TestFrameCacheLoadsOnce(t *testing.T) {
	p, err := NewProcessor(CropBox{}, Overlay{}, nil)
	require.NoError(t, err)
	c, err := NewFrameCache(p, 2)
	require.NoError(t, err)

	loads := 0
	load := func() ([]byte, error) {
		loads++
		return []byte("GIF89a"), nil
	}

	for i := 0; i < 3; i++ {
		data, err := c.Get("a", time.Now(), load)
		require.NoError(t, err)
		assert.Equal(t, []byte("GIF89a"), data)
	}
	assert.Equal(t, 1, loads)
	assert.Equal(t, 1, c.Len())

	_, err = c.Get("b", time.Now(), func() ([]byte, error) { return nil, errors.New("gone") })
	assert.Error(t, err)
	assert.Equal(t, 1, c.Len())
}

func TestEncodeLoopGIFHoldsLastFrame(t *testing.T) {
	frames := []Frame{
		{Name: "a", Data: solidGIF(t, 20, 20, color.Black)},
		{Name: "b", Data: solidGIF(t, 20, 20, color.White)},
		{Name: "c", Data: solidGIF(t, 20, 20, color.Black)},
	}

	data, err := EncodeLoopGIF(frames, 200*time.Millisecond, 3)
	require.NoError(t, err)

	anim, err := gif.DecodeAll(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, anim.Image, 3)
	assert.Equal(t, []int{20, 20, 80}, anim.Delay)
	assert.Equal(t, 20, anim.Config.Width)

	_, err = EncodeLoopGIF(nil, time.Second, 0)
	assert.Error(t, err)
}

func TestToJPEG(t *testing.T) {
	out, err := ToJPEG(solidGIF(t, 16, 12, color.White), 0)
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 16, 12), img.Bounds())

	_, err = ToJPEG([]byte("not a gif"), 80)
	assert.Error(t, err)
}

func TestEncodeLoopAVI(t *testing.T) {
	frames := []Frame{
		{Name: "a", Data: solidGIF(t, 16, 16, color.Black)},
		{Name: "b", Data: solidGIF(t, 16, 16, color.White)},
	}
	path := filepath.Join(t.TempDir(), "loop.avi")

	require.NoError(t, EncodeLoopAVI(frames, 2, 1, path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 12)
	assert.Equal(t, "RIFF", string(data[:4]))
	assert.Equal(t, "AVI ", string(data[8:12]))
}

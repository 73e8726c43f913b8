package images

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/nfnt/resize"
)

// Channels is the number of color channels kept per pixel (RGB).
const Channels = 3

// MaxPixels bounds width x height of a decoded image. GTSRB images are
// under 250 px on a side.
const MaxPixels = 4096 * 4096

// ErrImageTooLarge is returned for images over MaxPixels.
var ErrImageTooLarge = errors.New("image too large")

// Tensor is a square RGB pixel grid in row-major HWC order with every
// value normalized to [0,1].
type Tensor struct {
	Size int
	Pix  []float32
}

// NewTensor allocates a zeroed size x size tensor.
func NewTensor(size int) Tensor {
	return Tensor{Size: size, Pix: make([]float32, size*size*Channels)}
}

// At returns the value of channel c at column x, row y.
func (t Tensor) At(x, y, c int) float32 {
	return t.Pix[(y*t.Size+x)*Channels+c]
}

// Decode reads the image at path and normalizes it to a size x size tensor.
// Training and inference both go through this function so the
// preprocessing is identical.
func Decode(path string, size int) (Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	t, err := DecodeReader(f, size)
	if err != nil {
		return Tensor{}, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return t, nil
}

// DecodeReader decodes any registered format (ppm, png, jpeg) from r.
// Images larger than MaxPixels are rejected from their header before the
// raster is allocated.
func DecodeReader(r io.Reader, size int) (Tensor, error) {
	var header bytes.Buffer
	cfg, _, err := image.DecodeConfig(io.TeeReader(r, &header))
	if err != nil {
		return Tensor{}, err
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Tensor{}, fmt.Errorf("empty image %dx%d", cfg.Width, cfg.Height)
	}
	if int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return Tensor{}, fmt.Errorf("%w: %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height)
	}

	img, _, err := image.Decode(io.MultiReader(&header, r))
	if err != nil {
		return Tensor{}, err
	}
	return FromImage(img, size), nil
}

// FromImage resizes img to size x size and scales 8-bit channels by 1/255.
func FromImage(img image.Image, size int) Tensor {
	b := img.Bounds()
	if b.Dx() != size || b.Dy() != size {
		img = resize.Resize(uint(size), uint(size), img, resize.Bicubic)
		b = img.Bounds()
	}

	t := NewTensor(size)
	i := 0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			t.Pix[i] = float32(c.R) / 255
			t.Pix[i+1] = float32(c.G) / 255
			t.Pix[i+2] = float32(c.B) / 255
			i += Channels
		}
	}
	return t
}

// ToImage converts t back to an opaque 8-bit image.
func ToImage(t Tensor) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, t.Size, t.Size))
	for p := 0; p < t.Size*t.Size; p++ {
		img.Pix[p*4] = toByte(t.Pix[p*Channels])
		img.Pix[p*4+1] = toByte(t.Pix[p*Channels+1])
		img.Pix[p*4+2] = toByte(t.Pix[p*Channels+2])
		img.Pix[p*4+3] = 0xff
	}
	return img
}

func toByte(v float32) uint8 {
	f := math.Round(float64(v) * 255)
	if f < 0 {
		return 0
	}
	if f > 255 {
		return 255
	}
	return uint8(f)
}

// EncodePNG renders t as PNG bytes.
func EncodePNG(t Tensor) ([]byte, error) {
	if len(t.Pix) != t.Size*t.Size*Channels {
		return nil, fmt.Errorf("tensor has %d values, want %d", len(t.Pix), t.Size*t.Size*Channels)
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, ToImage(t)); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// EncodeBase64 returns the standard base64 encoding of EncodePNG(t).
func EncodeBase64(t Tensor) (string, error) {
	data, err := EncodePNG(t)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

package images

import (
	"image"
	"io"

	"github.com/spakin/netpbm"
)

// EncodePPM writes img as a binary (P6) portable pixmap with maxval 255.
// Decoding goes through image.Decode, where netpbm registers ppm, pgm and
// pam.
func EncodePPM(w io.Writer, img image.Image) error {
	return netpbm.Encode(w, img, &netpbm.EncodeOptions{
		Format:   netpbm.PPM,
		MaxValue: 255,
	})
}

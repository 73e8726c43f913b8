// Package datasettest writes small GTSRB-shaped fixtures for tests.
package datasettest

import (
	"fmt"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"strings"

	"github.com/lehigh-university-libraries/trafficsign/internal/images"
)

var (
	Red  = color.NRGBA{R: 255, A: 255}
	Blue = color.NRGBA{B: 255, A: 255}
)

// Class describes one class directory to generate.
type Class struct {
	ID     int
	Count  int
	Color  color.NRGBA
	Size   int  // edge length of the generated images, 32 when zero
	NoCSV  bool // omit the GT-xxxxx.csv table
	Offset int  // first image index used in file names
}

// Solid returns a w x h image filled with c.
func Solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

// WritePPM writes a solid-color binary PPM to path.
func WritePPM(path string, size int, c color.NRGBA) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := images.EncodePPM(f, Solid(size, size, c)); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteClass creates <root>/<%05d>/ with Count solid images named
// 00000_<n>.ppm and, unless NoCSV is set, the matching annotation table.
// It returns the image paths in lexicographic order.
func WriteClass(root string, c Class) ([]string, error) {
	size := c.Size
	if size == 0 {
		size = 32
	}

	dir := filepath.Join(root, fmt.Sprintf("%05d", c.ID))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	rows := []string{"Filename;Width;Height;Roi.X1;Roi.Y1;Roi.X2;Roi.Y2;ClassId"}
	paths := make([]string, 0, c.Count)
	for i := 0; i < c.Count; i++ {
		name := fmt.Sprintf("00000_%05d.ppm", c.Offset+i)
		path := filepath.Join(dir, name)
		if err := WritePPM(path, size, c.Color); err != nil {
			return nil, err
		}
		paths = append(paths, path)
		rows = append(rows, fmt.Sprintf("%s;%d;%d;1;1;%d;%d;%d", name, size, size, size-1, size-1, c.ID))
	}

	if !c.NoCSV {
		csvPath := filepath.Join(dir, fmt.Sprintf("GT-%05d.csv", c.ID))
		if err := os.WriteFile(csvPath, []byte(strings.Join(rows, "\n")+"\n"), 0644); err != nil {
			return nil, err
		}
	}
	return paths, nil
}

// RedBlue writes the two-class fixture: class 0 red, class 1 blue, n
// images each.
func RedBlue(root string, n int) error {
	if _, err := WriteClass(root, Class{ID: 0, Count: n, Color: Red}); err != nil {
		return err
	}
	_, err := WriteClass(root, Class{ID: 1, Count: n, Color: Blue})
	return err
}

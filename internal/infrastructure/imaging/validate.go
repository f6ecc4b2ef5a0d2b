// Package imaging checks that downloaded report images are decodable before they are sent for
// classification.
package imaging

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ErrEmpty is returned for zero-length images.
var ErrEmpty = errors.New("empty image")

// Info describes a decodable image.
type Info struct {
	Format string
	Width  int
	Height int
}

// Validate decodes only the image header and reports its format and dimensions.
func Validate(data []byte) (Info, error) {
	if len(data) == 0 {
		return Info{}, ErrEmpty
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Info{}, fmt.Errorf("image has invalid dimensions %dx%d", cfg.Width, cfg.Height)
	}

	return Info{Format: format, Width: cfg.Width, Height: cfg.Height}, nil
}

// Package iconconv converts images into multi-size ICO files.
package iconconv

import (
	"bytes"
	"image"
	_ "image/png" // PNG decoder
	"io"

	"github.com/hashicorp/go-hclog"
	"github.com/maja42/exeup/errdefs"
	"github.com/tc-hib/winres"
	"gitlab.com/tozd/go/errors"
)

// DefaultSizes are the icon sizes generated when none are configured.
var DefaultSizes = []int{256, 64, 48, 32, 16}

// Converter resizes an image into the sizes of an ICO file.
type Converter struct {
	Sizes  []int // DefaultSizes if empty
	Logger hclog.Logger
}

// Convert decodes a PNG image and returns the ICO file content.
func (c *Converter) Convert(r io.Reader) ([]byte, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrInvalidIcon, err, "decode image")
	}
	sizes := c.Sizes
	if len(sizes) == 0 {
		sizes = DefaultSizes
	}
	if c.Logger != nil {
		c.Logger.Debug("converting icon", "format", format, "bounds", img.Bounds().Size(), "sizes", sizes)
	}

	ico, err := winres.NewIconFromResizedImage(img, sizes)
	if err != nil {
		return nil, errdefs.Wrap(errdefs.ErrInvalidIcon, err, "resize image")
	}
	var buf bytes.Buffer
	if err := ico.SaveICO(&buf); err != nil {
		return nil, errors.Errorf("save ICO: %w", err)
	}
	return buf.Bytes(), nil
}

package icon

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/akavel/rsrc/ico"
)

var pngSignature = []byte("\x89PNG\r\n\x1a\n")

const icoEntrySize = 16

// Image is a single icon image.
type Image struct {
	Width      int // pixels
	Height     int // pixels
	ColorCount uint8
	Planes     uint16
	BitCount   uint16
	Data       []byte // BMP (without file header) or PNG
}

// IsPNG reports whether the image data is PNG encoded.
func (img Image) IsPNG() bool {
	return bytes.HasPrefix(img.Data, pngSignature)
}

// ReadICO reads all images of an ICO file in file order.
func ReadICO(r io.Reader) ([]Image, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	entries, err := ico.DecodeHeaders(bytes.NewReader(raw))
	if err != nil {
		return nil, invalid("reading ICO headers: %s", err)
	}
	if len(entries) == 0 {
		return nil, invalid("ICO file contains no images")
	}

	images := make([]Image, len(entries))
	for i, e := range entries {
		start, end := uint64(e.ImageOffset), uint64(e.ImageOffset)+uint64(e.BytesInRes)
		if end > uint64(len(raw)) {
			return nil, invalid("image %d exceeds ICO file (%d > %d bytes)", i, end, len(raw))
		}
		img := Image{
			Width:      pixels(e.Width),
			Height:     pixels(e.Height),
			ColorCount: e.ColorCount,
			Planes:     e.Planes,
			BitCount:   e.BitCount,
			Data:       append([]byte(nil), raw[start:end]...),
		}
		img.fillFormat()
		images[i] = img
	}
	return images, nil
}

// fillFormat derives planes and bit count from the image data where the directory leaves them 0.
func (img *Image) fillFormat() {
	switch {
	case img.IsPNG():
		// IHDR: width, height, bit depth, color type
		if len(img.Data) < 26 {
			return
		}
		if img.Planes == 0 {
			img.Planes = 1
		}
		if img.BitCount == 0 {
			depth := uint16(img.Data[24])
			img.BitCount = depth * pngChannels(img.Data[25])
		}
	case len(img.Data) >= 16 && binary.LittleEndian.Uint32(img.Data) >= 40:
		// BITMAPINFOHEADER
		if img.Planes == 0 {
			img.Planes = binary.LittleEndian.Uint16(img.Data[12:])
		}
		if img.BitCount == 0 {
			img.BitCount = binary.LittleEndian.Uint16(img.Data[14:])
		}
	}
}

func pngChannels(colorType byte) uint16 {
	switch colorType {
	case 2: // truecolor
		return 3
	case 4: // grayscale with alpha
		return 2
	case 6: // truecolor with alpha
		return 4
	default: // grayscale, palette
		return 1
	}
}

// WriteICO writes images as an ICO file.
func WriteICO(w io.Writer, images []Image) error {
	var buf bytes.Buffer
	hdr := make([]byte, 6+icoEntrySize*len(images))
	binary.LittleEndian.PutUint16(hdr[2:], typeIcon)
	binary.LittleEndian.PutUint16(hdr[4:], uint16(len(images)))
	offset := uint32(len(hdr))
	for i, img := range images {
		e := hdr[6+icoEntrySize*i:]
		e[0] = dimension(img.Width)
		e[1] = dimension(img.Height)
		e[2] = img.ColorCount
		binary.LittleEndian.PutUint16(e[4:], img.Planes)
		binary.LittleEndian.PutUint16(e[6:], img.BitCount)
		binary.LittleEndian.PutUint32(e[8:], uint32(len(img.Data)))
		binary.LittleEndian.PutUint32(e[12:], offset)
		offset += uint32(len(img.Data))
	}
	buf.Write(hdr)
	for _, img := range images {
		buf.Write(img.Data)
	}
	_, err := w.Write(buf.Bytes())
	return err
}

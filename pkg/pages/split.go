package pages

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/pkg/errors"
)

// maxAxis is the platform's maximum pixel size on either axis.
const maxAxis = 10000

// Chunk sizing per strip orientation. The target keeps single uploads
// bounded; the minimum avoids a flood of tiny chunks.
const (
	tallChunkTarget = 3000
	tallChunkMin    = 1500
	wideChunkTarget = 2500
	wideChunkMin    = 1000
)

type subImager interface {
	SubImage(r image.Rectangle) image.Image
}

// splitPage splits a page that exceeds the platform's axis bound along the
// declared strip axis (height for long-strip, width for wide-strip). Pages
// small enough to pass are returned as-is. A page whose non-strip axis
// exceeds the bound can't be split meaningfully and is dropped (nil, false).
func splitPage(p Page, widestrip bool) ([]Page, bool, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Bytes))
	if err != nil {
		return nil, false, errors.Wrapf(err, "reading dimensions of %s", p.SourceName)
	}

	if cfg.Width < maxAxis && cfg.Height < maxAxis {
		return []Page{p}, true, nil
	}

	// The axis we are not allowed to split along must fit.
	if widestrip && cfg.Height >= maxAxis {
		return nil, false, nil
	}
	if !widestrip && cfg.Width >= maxAxis {
		return nil, false, nil
	}

	img, _, err := image.Decode(bytes.NewReader(p.Bytes))
	if err != nil {
		return nil, false, errors.Wrapf(err, "decoding %s", p.SourceName)
	}
	si, ok := img.(subImager)
	if !ok {
		return nil, false, errors.Errorf("image type %T of %s doesn't support cropping", img, p.SourceName)
	}

	dimension := cfg.Height
	target, minChunk := tallChunkTarget, tallChunkMin
	if widestrip {
		dimension = cfg.Width
		target, minChunk = wideChunkTarget, wideChunkMin
	}

	chunkSize := ceilDiv(dimension, ceilDiv(dimension, target))
	if chunkSize < minChunk {
		chunkSize = minChunk
	}
	numChunks := ceilDiv(dimension, chunkSize)

	bounds := img.Bounds()
	split := make([]Page, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * chunkSize
		end := min(start+chunkSize, dimension)

		var rect image.Rectangle
		if widestrip {
			rect = image.Rect(bounds.Min.X+start, bounds.Min.Y, bounds.Min.X+end, bounds.Max.Y)
		} else {
			rect = image.Rect(bounds.Min.X, bounds.Min.Y+start, bounds.Max.X, bounds.Min.Y+end)
		}

		data, err := encodeImage(si.SubImage(rect), p.Format)
		if err != nil {
			return nil, false, errors.Wrapf(err, "encoding chunk %d of %s", i+1, p.SourceName)
		}

		split = append(split, Page{
			SourceName: fmt.Sprintf("%s_%d", p.SourceName, i+1),
			Bytes:      data,
			Format:     p.Format,
			Converted:  p.Converted,
		})
	}
	return split, true, nil
}

func encodeImage(img image.Image, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatPNG:
		err = png.Encode(&buf, img)
	case FormatGIF:
		err = gif.Encode(&buf, img, nil)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
	}
	return buf.Bytes(), errors.WithStack(err)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

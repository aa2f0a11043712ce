package pages

import (
	"bytes"
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
)

// minPageSize is the dimension at or below which a page counts as too
// small to upload on its own.
const minPageSize = 128

// combineSmallPages merges pages at or below minPageSize into the
// preceding page along the strip axis, provided both share the same size
// on the other axis. With combine disabled, undersized pages are dropped
// instead. Returns the surviving pages and the names of dropped ones.
func combineSmallPages(in []Page, widestrip, combine bool) ([]Page, []string, error) {
	if !combine || len(in) < 2 {
		kept := make([]Page, 0, len(in))
		var dropped []string
		for _, p := range in {
			big, err := isLargeEnough(p)
			if err != nil {
				return nil, nil, err
			}
			if big {
				kept = append(kept, p)
			} else {
				dropped = append(dropped, p.SourceName)
			}
		}
		return kept, dropped, nil
	}

	out := make([]Page, 0, len(in))
	var current *Page
	var currentImg image.Image

	for i := range in {
		p := in[i]
		img, _, err := image.Decode(bytes.NewReader(p.Bytes))
		if err != nil {
			return nil, nil, errors.Wrapf(err, "decoding %s", p.SourceName)
		}

		if current == nil {
			current, currentImg = &p, img
			continue
		}

		w := img.Bounds().Dx()
		h := img.Bounds().Dy()
		cw := currentImg.Bounds().Dx()
		ch := currentImg.Bounds().Dy()

		small := w <= minPageSize || h <= minPageSize
		aligned := (widestrip && h == ch) || (!widestrip && w == cw)

		if small && aligned {
			merged := appendImage(currentImg, img, widestrip)
			data, err := encodeImage(merged, current.Format)
			if err != nil {
				return nil, nil, errors.Wrapf(err, "encoding combined page %s", current.SourceName)
			}
			current.SourceName += "_and_" + p.SourceName
			current.Bytes = data
			currentImg = merged
			continue
		}

		out = append(out, *current)
		current, currentImg = &p, img
	}

	if current != nil {
		out = append(out, *current)
	}
	return out, nil, nil
}

// appendImage pastes next after base along the strip axis.
func appendImage(base, next image.Image, widestrip bool) image.Image {
	bb := base.Bounds()
	nb := next.Bounds()

	var canvas *image.RGBA
	var nextAt image.Point
	if widestrip {
		canvas = image.NewRGBA(image.Rect(0, 0, bb.Dx()+nb.Dx(), bb.Dy()))
		nextAt = image.Pt(bb.Dx(), 0)
	} else {
		canvas = image.NewRGBA(image.Rect(0, 0, bb.Dx(), bb.Dy()+nb.Dy()))
		nextAt = image.Pt(0, bb.Dy())
	}

	draw.Draw(canvas, image.Rectangle{Max: image.Pt(bb.Dx(), bb.Dy())}, base, bb.Min, draw.Src)
	draw.Draw(canvas, image.Rectangle{Min: nextAt, Max: nextAt.Add(image.Pt(nb.Dx(), nb.Dy()))}, next, nb.Min, draw.Src)
	return canvas
}

func isLargeEnough(p Page) (bool, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(p.Bytes))
	if err != nil {
		return false, errors.Wrapf(err, "reading dimensions of %s", p.SourceName)
	}
	return cfg.Width > minPageSize && cfg.Height > minPageSize, nil
}

package pages

import (
	"bytes"
	"encoding/binary"
	"image/gif"
	"image/jpeg"
	"image/png"

	"github.com/pkg/errors"
	"golang.org/x/image/webp"
)

const (
	vp8xAlphaFlag     = 0x10
	vp8xAnimationFlag = 0x02
)

// webpTraits reports whether a WEBP image is animated or carries an alpha
// channel, read from the container chunks without a full decode.
func webpTraits(data []byte) (animated, alpha bool, err error) {
	if len(data) < 12 {
		return false, false, errors.New("webp data too short")
	}

	offset := 12
	for offset+8 <= len(data) {
		fourCC := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		payload := offset + 8
		if payload+size > len(data) {
			break
		}

		switch fourCC {
		case "VP8X":
			if size >= 1 {
				flags := data[payload]
				return flags&vp8xAnimationFlag != 0, flags&vp8xAlphaFlag != 0, nil
			}
		case "VP8L":
			// Lossless bitstream: the alpha-is-used bit sits after the two
			// 14-bit dimensions.
			if size >= 5 {
				header := binary.LittleEndian.Uint32(data[payload+1 : payload+5])
				return false, header>>28&1 == 1, nil
			}
		case "VP8 ":
			return false, false, nil
		}

		// Chunks are padded to even sizes.
		offset = payload + size + size%2
	}

	return false, false, errors.New("no image chunk found in webp container")
}

// convertWEBP re-encodes a WEBP page into a format the platform accepts:
// animated images become GIF, images with alpha become PNG, everything
// else becomes JPEG.
func convertWEBP(data []byte) ([]byte, Format, error) {
	animated, alpha, err := webpTraits(data)
	if err != nil {
		return nil, FormatUnknown, err
	}

	if animated {
		data, err = firstFrameWEBP(data)
		if err != nil {
			return nil, FormatUnknown, errors.Wrap(err, "extracting first animation frame")
		}
	}

	img, err := webp.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, FormatUnknown, errors.Wrap(err, "decoding webp")
	}

	var buf bytes.Buffer
	switch {
	case animated:
		err = gif.Encode(&buf, img, nil)
		return buf.Bytes(), FormatGIF, errors.WithStack(err)
	case alpha:
		err = png.Encode(&buf, img)
		return buf.Bytes(), FormatPNG, errors.WithStack(err)
	default:
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85})
		return buf.Bytes(), FormatJPEG, errors.WithStack(err)
	}
}

// firstFrameWEBP rebuilds a still WEBP container from the first ANMF frame
// of an animated image so the stock decoder can read it.
func firstFrameWEBP(data []byte) ([]byte, error) {
	offset := 12
	for offset+8 <= len(data) {
		fourCC := string(data[offset : offset+4])
		size := int(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		payload := offset + 8
		if payload+size > len(data) {
			return nil, errors.New("truncated webp chunk")
		}

		if fourCC == "ANMF" && size > 16 {
			// The frame's own bitstream chunks start after the 16-byte
			// frame header.
			return buildStillWEBP(data[payload+16 : payload+size]), nil
		}

		offset = payload + size + size%2
	}
	return nil, errors.New("no animation frame found")
}

func buildStillWEBP(chunks []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	sizeField := make([]byte, 4)
	binary.LittleEndian.PutUint32(sizeField, uint32(4+len(chunks)))
	buf.Write(sizeField)
	buf.WriteString("WEBP")
	buf.Write(chunks)
	return buf.Bytes()
}

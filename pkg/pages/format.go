package pages

import "bytes"

// Format is an image format recognized by signature sniffing. Only these
// formats are accepted by the upload endpoint; anything else is excluded.
type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
	FormatGIF
	FormatWEBP
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	case FormatGIF:
		return "gif"
	case FormatWEBP:
		return "webp"
	default:
		return "unknown"
	}
}

var (
	pngSignature   = []byte{0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a}
	jpegSOI        = []byte{0xff, 0xd8, 0xff}
	gif87Signature = []byte("GIF87a")
	gif89Signature = []byte("GIF89a")
)

// DetectFormat sniffs the image format from the first bytes of data. File
// extensions are ignored entirely; only the signature counts.
func DetectFormat(data []byte) Format {
	if bytes.HasPrefix(data, pngSignature) {
		return FormatPNG
	}
	if bytes.HasPrefix(data, jpegSOI) {
		return FormatJPEG
	}
	// Some JPEGs are identified by the JFIF or Exif marker instead.
	if len(data) >= 10 && (bytes.Equal(data[6:10], []byte("JFIF")) || bytes.Equal(data[6:10], []byte("Exif"))) {
		return FormatJPEG
	}
	if bytes.HasPrefix(data, gif87Signature) || bytes.HasPrefix(data, gif89Signature) {
		return FormatGIF
	}
	if len(data) >= 12 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP")) {
		return FormatWEBP
	}
	return FormatUnknown
}

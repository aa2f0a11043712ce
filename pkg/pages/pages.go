package pages

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
)

// Page is a single page image ready for upload. Index is the page's slot
// in the final reading order and doubles as its upload identity.
type Page struct {
	SourceName string
	Bytes      []byte
	Format     Format
	// Converted is set when the detected format wasn't directly
	// acceptable and the bytes were re-encoded.
	Converted Format
	Index     int
}

// Options control the validation pipeline.
type Options struct {
	// Widestrip selects width as the strip axis instead of height.
	Widestrip bool
	// Combine merges undersized pages into their neighbor instead of
	// dropping them.
	Combine   bool
	BatchSize int
}

// Set is the ordered, validated page list of one chapter.
type Set struct {
	Pages []Page
	// Dropped lists source entries excluded from the upload along with
	// the reason.
	Dropped map[string]string

	opts Options
}

// Load reads and validates the page images of an archive or folder:
// sniffs formats, converts WEBP, merges or drops undersized pages, splits
// oversized ones, and fixes the final reading order.
func Load(path string, isFolder bool, opts Options) (*Set, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 10
	}
	log := logger.New()

	entries, err := readEntries(path, isFolder)
	if err != nil {
		return nil, err
	}

	s := &Set{Dropped: map[string]string{}, opts: opts}

	validated := make([]Page, 0, len(entries))
	for _, e := range entries {
		p, reason, err := validateEntry(e, log)
		if err != nil {
			return nil, err
		}
		if reason != "" {
			s.Dropped[e.name] = reason
			continue
		}
		validated = append(validated, p)
	}

	combined, droppedSmall, err := combineSmallPages(validated, opts.Widestrip, opts.Combine)
	if err != nil {
		return nil, err
	}
	for _, name := range droppedSmall {
		s.Dropped[name] = "smaller than the minimum page size"
		log.Warn("dropping undersized page", logger.Data{"page": name})
	}

	final := make([]Page, 0, len(combined))
	for _, p := range combined {
		split, ok, err := splitPage(p, opts.Widestrip)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.Dropped[p.SourceName] = "too large on the axis that can't be split"
			log.Warn("dropping page that exceeds the pixel bound on the non-strip axis", logger.Data{"page": p.SourceName})
			continue
		}
		if len(split) > 1 {
			log.Info("split oversized page", logger.Data{"page": p.SourceName, "chunks": len(split)})
		}
		final = append(final, split...)
	}

	sort.SliceStable(final, func(i, j int) bool {
		return pageLess(final[i].SourceName, final[j].SourceName)
	})
	for i := range final {
		final[i].Index = i
	}

	s.Pages = final
	return s, nil
}

// Batches partitions the final page list into fixed-size batches
// preserving reading order.
func (s *Set) Batches() [][]Page {
	var batches [][]Page
	for start := 0; start < len(s.Pages); start += s.opts.BatchSize {
		end := min(start+s.opts.BatchSize, len(s.Pages))
		batches = append(batches, s.Pages[start:end])
	}
	return batches
}

type entry struct {
	name string
	data []byte
}

func readEntries(path string, isFolder bool) ([]entry, error) {
	if isFolder {
		return readFolder(path)
	}
	return readArchive(path)
}

func readArchive(path string) ([]entry, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening archive %s", path)
	}
	defer zr.Close()

	entries := make([]entry, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || strings.HasPrefix(filepath.Base(f.Name), ".") {
			continue
		}
		r, err := f.Open()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		data, err := io.ReadAll(r)
		r.Close()
		if err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, entry{name: f.Name, data: data})
	}
	return entries, nil
}

func readFolder(path string) ([]entry, error) {
	dirEntries, err := os.ReadDir(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading folder %s", path)
	}

	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(path, de.Name()))
		if err != nil {
			return nil, errors.WithStack(err)
		}
		entries = append(entries, entry{name: de.Name(), data: data})
	}
	return entries, nil
}

// validateEntry sniffs the entry's format and converts it if needed. A
// non-empty reason means the entry is excluded.
func validateEntry(e entry, log logger.Logger) (Page, string, error) {
	format := DetectFormat(e.data)
	if format == FormatUnknown {
		detected := mimetype.Detect(e.data)
		log.Warn("entry has no recognized image signature, excluding", logger.Data{"entry": e.name, "detected_type": detected.String()})
		return Page{}, "not a recognized image format (" + detected.String() + ")", nil
	}

	p := Page{SourceName: e.name, Bytes: e.data, Format: format}

	if format == FormatWEBP {
		data, converted, err := convertWEBP(e.data)
		if err != nil {
			log.Err(err).Warn("webp conversion failed, excluding entry")
			return Page{}, "webp conversion failed", nil
		}
		log.Info("converted webp page", logger.Data{"entry": e.name, "format": converted.String()})
		p.Bytes = data
		p.Format = converted
		p.Converted = converted
	}

	return p, "", nil
}

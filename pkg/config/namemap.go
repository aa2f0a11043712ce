package config

import (
	"encoding/json"
	"io/fs"
	"os"

	"github.com/pkg/errors"
)

// NameIDMap resolves human-readable series and group names from chapter
// filenames to their stable platform IDs.
type NameIDMap struct {
	Manga map[string]string `json:"manga"`
	Group map[string]string `json:"group"`
}

// LoadNameIDMap reads the name-to-ID map file. A missing or unreadable
// file yields an empty map, not an error; the caller decides whether to
// warn.
func LoadNameIDMap(path string) (*NameIDMap, error) {
	m := &NameIDMap{
		Manga: map[string]string{},
		Group: map[string]string{},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return m, nil
		}
		return m, errors.WithStack(err)
	}

	if err := json.Unmarshal(data, m); err != nil {
		return &NameIDMap{Manga: map[string]string{}, Group: map[string]string{}}, errors.Wrapf(err, "invalid JSON in name-ID map %s", path)
	}
	if m.Manga == nil {
		m.Manga = map[string]string{}
	}
	if m.Group == nil {
		m.Group = map[string]string{}
	}
	return m, nil
}

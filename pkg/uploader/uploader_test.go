package uploader

import (
	"archive/zip"
	"bytes"
	"context"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mdxtools/mdup/pkg/chapter"
	"github.com/mdxtools/mdup/pkg/config"
)

func TestWorkList(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"Series - c10.zip", "Series - c2.zip", ".DS_Store"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "Series - c1"), 0755))

	u := testUploader(t, "http://unused")
	u.cfg.Paths.UploadsDir = dir

	items, err := u.workList()
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "Series - c1", items[0].name)
	assert.True(t, items[0].isFolder)
	assert.Equal(t, "folder", items[0].kind())

	assert.Equal(t, "Series - c2.zip", items[1].name)
	assert.Equal(t, "Series - c10.zip", items[2].name)
	assert.False(t, items[2].isFolder)
	assert.Equal(t, "archive", items[2].kind())
}

func chapterArchive(t *testing.T, path string, pageNames ...string) {
	t.Helper()

	var img bytes.Buffer
	require.NoError(t, png.Encode(&img, image.NewGray(image.Rect(0, 0, 400, 600))))

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range pageNames {
		fw, err := w.Create(name)
		require.NoError(t, err)
		_, err = fw.Write(img.Bytes())
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0644))
}

func TestRunUploadsChapter(t *testing.T) {
	var mu sync.Mutex
	requests := []string{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.Method+" "+r.URL.Path)
		mu.Unlock()

		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/upload":
			w.WriteHeader(http.StatusNotFound)
		case r.Method == http.MethodPost && r.URL.Path == "/upload/begin":
			w.Write([]byte(`{"data":{"id":"sess-1"}}`))
		case r.Method == http.MethodPost && r.URL.Path == "/upload/sess-1":
			w.Write([]byte(uploadResponse(multipartFieldNames(t, r))))
		case r.Method == http.MethodPost && r.URL.Path == "/upload/sess-1/commit":
			w.Write([]byte(`{"data":{"id":"chapter-1"}}`))
		default:
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
	}))
	defer srv.Close()

	base := t.TempDir()
	uploads := filepath.Join(base, "to_upload")
	uploaded := filepath.Join(base, "uploaded")
	require.NoError(t, os.MkdirAll(uploads, 0755))

	u := testUploader(t, srv.URL)
	u.cfg.Paths.UploadsDir = uploads
	u.cfg.Paths.UploadedDir = uploaded
	u.parser = chapter.NewParser(&config.NameIDMap{
		Manga: map[string]string{"Series": "8e25d3cd-4b4a-4b9f-87ba-5f1498d20f62"},
		Group: map[string]string{},
	}, "")

	chapterArchive(t, filepath.Join(uploads, "Series - c001.zip"), "01.png", "02.png")

	require.NoError(t, u.Run(context.Background()))

	assert.Equal(t, []string{
		"GET /upload",
		"POST /upload/begin",
		"POST /upload/sess-1",
		"POST /upload/sess-1/commit",
	}, requests)

	assert.NoFileExists(t, filepath.Join(uploads, "Series - c001.zip"))
	assert.FileExists(t, filepath.Join(uploaded, "Series - c001.zip"))
}

func TestRunSkipsUnparsableItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
	}))
	defer srv.Close()

	uploads := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "not a chapter.txt"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(uploads, "Unknown - c001.zip"), []byte("x"), 0644))

	u := testUploader(t, srv.URL)
	u.cfg.Paths.UploadsDir = uploads

	// Nothing uploadable, but skipped items are not a run failure.
	assert.NoError(t, u.Run(context.Background()))
}

func TestRunEmptyDirectory(t *testing.T) {
	u := testUploader(t, "http://unused")
	u.cfg.Paths.UploadsDir = t.TempDir()

	assert.NoError(t, u.Run(context.Background()))
}

package uploader

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"

	"github.com/mdxtools/mdup/pkg/chapter"
	"github.com/mdxtools/mdup/pkg/config"
	"github.com/mdxtools/mdup/pkg/errcodes"
	"github.com/mdxtools/mdup/pkg/fileutils"
	"github.com/mdxtools/mdup/pkg/mdapi"
	"github.com/mdxtools/mdup/pkg/pages"
)

// Uploader walks the uploads directory and pushes every chapter it finds
// through the upload session lifecycle.
type Uploader struct {
	cfg    *config.Config
	client *mdapi.Client
	parser *chapter.Parser
	log    logger.Logger
}

// chapterUpload is the in-flight state of a single chapter. Batches write
// their acknowledged page ids into pageIDs concurrently, keyed by the
// page's upload index.
type chapterUpload struct {
	u         *Uploader
	meta      *chapter.Metadata
	sessionID string

	mu      sync.Mutex
	pageIDs []string
	// failed flips once any batch exhausts its retries so the batches
	// still queued don't waste requests on a doomed session.
	failed atomic.Bool
}

func New(cfg *config.Config, client *mdapi.Client, names *config.NameIDMap) *Uploader {
	return &Uploader{
		cfg:    cfg,
		client: client,
		parser: chapter.NewParser(names, cfg.Options.GroupFallbackID),
		log:    logger.New(),
	}
}

// Run uploads every chapter in the uploads directory in natural name
// order. Items that can't be parsed or uploaded are collected and
// reported at the end; a cancelled context stops the run after the item
// in flight.
func (u *Uploader) Run(ctx context.Context) error {
	items, err := u.workList()
	if err != nil {
		return err
	}
	if len(items) == 0 {
		u.log.Info("nothing to upload", logger.Data{"dir": u.cfg.Paths.UploadsDir})
		return nil
	}

	var skipped, failed []workItem
	for i, item := range items {
		if ctx.Err() != nil {
			u.log.Warn("interrupted, skipping remaining items", logger.Data{"remaining": len(items) - i})
			break
		}

		meta, err := u.parser.Parse(item.path, item.isFolder)
		if err != nil {
			u.log.Err(err).Warn("skipping item", logger.Data{"name": item.name})
			item.err = err
			skipped = append(skipped, item)
			continue
		}

		u.log.Info("uploading chapter", logger.Data{
			"name":    item.name,
			"kind":    item.kind(),
			"series":  meta.SeriesID,
			"chapter": orBlank(meta.ChapterNumber),
		})
		if err := u.uploadChapter(ctx, meta); err != nil {
			if ctx.Err() != nil {
				u.log.Warn("interrupted, skipping remaining items", logger.Data{"remaining": len(items) - i - 1})
				item.err = err
				failed = append(failed, item)
				break
			}
			u.log.Err(err).Error("chapter upload failed", logger.Data{"name": item.name})
			item.err = err
			failed = append(failed, item)
		}

		// The platform's session endpoints are touchy about back to
		// back chapters, so wait out a full cooldown between items.
		if i < len(items)-1 {
			if err := sleepCtx(ctx, 2*u.cfg.RatelimitDuration()); err != nil {
				break
			}
		}
	}

	u.report(len(items), skipped, failed)
	if len(failed) > 0 {
		return errors.Errorf("%d of %d items failed to upload", len(failed), len(items))
	}
	return nil
}

func (u *Uploader) uploadChapter(ctx context.Context, meta *chapter.Metadata) error {
	set, err := pages.Load(meta.SourcePath, meta.IsFolder, pages.Options{
		Widestrip: u.cfg.Options.Widestrip,
		Combine:   u.cfg.Options.Combine,
		BatchSize: u.cfg.Options.ImagesPerBatch,
	})
	if err != nil {
		return err
	}
	if len(set.Pages) == 0 {
		return errcodes.NoValidPages(meta.SourceName)
	}

	if err := u.clearSession(ctx); err != nil {
		return err
	}
	sessionID, err := u.beginSession(ctx, meta.SeriesID, meta.GroupIDs)
	if err != nil {
		return err
	}
	u.log.Info("upload session opened", logger.Data{
		"session_id": sessionID,
		"pages":      len(set.Pages),
	})

	cu := &chapterUpload{
		u:         u,
		meta:      meta,
		sessionID: sessionID,
		pageIDs:   make([]string, len(set.Pages)),
	}

	if err := cu.uploadBatches(ctx, set.Batches()); err != nil {
		u.abandonSession(ctx, sessionID)
		return err
	}

	chapterID, err := cu.commit(ctx)
	if err != nil {
		u.abandonSession(ctx, sessionID)
		return err
	}

	dest, err := fileutils.MoveIntoDir(meta.SourcePath, u.cfg.Paths.UploadedDir)
	if err != nil {
		u.log.Err(err).Warn("chapter committed but couldn't move the source", logger.Data{"name": meta.SourceName})
	}
	u.log.Info("chapter uploaded", logger.Data{
		"name":       meta.SourceName,
		"chapter_id": chapterID,
		"moved_to":   dest,
	})
	return nil
}

// abandonSession deletes a session that won't be committed so the next
// chapter can open one. Best effort; the account can only hold one open
// session and clearSession handles leftovers anyway.
func (u *Uploader) abandonSession(ctx context.Context, sessionID string) {
	if ctx.Err() != nil {
		ctx = context.WithoutCancel(ctx)
	}
	if err := u.deleteSession(ctx, sessionID); err != nil {
		u.log.Err(err).Warn("couldn't delete abandoned upload session", logger.Data{"session_id": sessionID})
	}
}

type workItem struct {
	name     string
	path     string
	isFolder bool
	err      error
}

func (i workItem) kind() string {
	if i.isFolder {
		return "folder"
	}
	return "archive"
}

// workList scans the uploads directory for chapter archives and folders,
// skipping dotfiles, in natural name order.
func (u *Uploader) workList() ([]workItem, error) {
	entries, err := os.ReadDir(u.cfg.Paths.UploadsDir)
	if err != nil {
		return nil, errors.Wrapf(err, "uploads dir %s", u.cfg.Paths.UploadsDir)
	}

	items := []workItem{}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		items = append(items, workItem{
			name:     e.Name(),
			path:     filepath.Join(u.cfg.Paths.UploadsDir, e.Name()),
			isFolder: e.IsDir(),
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return pages.NaturalLess(items[i].name, items[j].name)
	})
	return items, nil
}

func (u *Uploader) report(total int, skipped, failed []workItem) {
	u.log.Info("upload run finished", logger.Data{
		"items":    total,
		"uploaded": total - len(skipped) - len(failed),
		"skipped":  len(skipped),
		"failed":   len(failed),
	})
	for _, item := range skipped {
		u.log.Warn("skipped", logger.Data{"name": item.name, "kind": item.kind(), "reason": item.err.Error()})
	}
	for _, item := range failed {
		u.log.Warn("failed", logger.Data{"name": item.name, "kind": item.kind(), "reason": item.err.Error()})
	}
}

func orBlank(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

package uploader

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/sync/errgroup"

	"github.com/mdxtools/mdup/pkg/errcodes"
	"github.com/mdxtools/mdup/pkg/mdapi"
	"github.com/mdxtools/mdup/pkg/pages"
)

type sessionEnvelope struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type uploadedFile struct {
	ID         string `json:"id"`
	Attributes struct {
		OriginalFileName string `json:"originalFileName"`
	} `json:"attributes"`
}

type uploadEnvelope struct {
	Result string `json:"result"`
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
	} `json:"errors"`
	Data []uploadedFile `json:"data"`
}

// activeSessionID returns the id of the account's open upload session, or
// "" when there is none.
func (u *Uploader) activeSessionID(ctx context.Context) (string, error) {
	resp, err := u.client.Do(ctx, mdapi.Request{
		Method:  http.MethodGet,
		Path:    "/upload",
		OKCodes: []int{http.StatusNotFound},
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode == http.StatusNotFound {
		return "", nil
	}

	var envelope sessionEnvelope
	if err := resp.Decode(&envelope); err != nil {
		return "", err
	}
	return envelope.Data.ID, nil
}

// deleteSession tears down an upload session. A session that is already
// gone counts as deleted.
func (u *Uploader) deleteSession(ctx context.Context, sessionID string) error {
	resp, err := u.client.Do(ctx, mdapi.Request{
		Method:  http.MethodDelete,
		Path:    "/upload/" + sessionID,
		OKCodes: []int{http.StatusNotFound},
	})
	if err != nil {
		return err
	}
	if !resp.OK {
		return errors.Errorf("deleting upload session %s: %s", sessionID, resp.ErrorSummary())
	}
	return nil
}

// clearSession makes sure the account has no open upload session left
// over from a previous run. The platform allows only one at a time.
func (u *Uploader) clearSession(ctx context.Context) error {
	for attempt := 1; attempt <= u.cfg.Options.UploadRetry; attempt++ {
		sessionID, err := u.activeSessionID(ctx)
		if err != nil {
			return err
		}
		if sessionID == "" {
			return nil
		}

		u.log.Info("deleting existing upload session", logger.Data{"session_id": sessionID})
		if err := u.deleteSession(ctx, sessionID); err != nil {
			return err
		}
		if err := sleepCtx(ctx, u.cfg.RatelimitDuration()); err != nil {
			return err
		}
	}

	if sessionID, err := u.activeSessionID(ctx); err != nil {
		return err
	} else if sessionID == "" {
		return nil
	}
	return errcodes.SessionNotCleared()
}

// beginSession opens a new upload session for the series and groups.
func (u *Uploader) beginSession(ctx context.Context, seriesID string, groupIDs []string) (string, error) {
	resp, err := u.client.Do(ctx, mdapi.Request{
		Method: http.MethodPost,
		Path:   "/upload/begin",
		JSON: map[string]interface{}{
			"manga":  seriesID,
			"groups": groupIDs,
		},
	})
	if err != nil {
		return "", err
	}
	if !resp.OK {
		return "", errors.Errorf("opening upload session: %s", resp.ErrorSummary())
	}

	var envelope sessionEnvelope
	if err := resp.Decode(&envelope); err != nil {
		return "", err
	}
	if envelope.Data.ID == "" {
		return "", errors.New("upload session response has no session id")
	}
	return envelope.Data.ID, nil
}

// uploadBatch sends one batch of pages to the session and returns the
// pages the platform didn't acknowledge. Pages are keyed by their upload
// index so partial failures can be diffed out of the response.
func (cu *chapterUpload) uploadBatch(ctx context.Context, batch []pages.Page) ([]pages.Page, error) {
	files := make(map[string][]byte, len(batch))
	for _, p := range batch {
		files[strconv.Itoa(p.Index)] = p.Bytes
	}

	resp, err := cu.u.client.Do(ctx, mdapi.Request{
		Method: http.MethodPost,
		Path:   "/upload/" + cu.sessionID,
		Files:  files,
	})
	if err != nil {
		return nil, err
	}
	if !resp.OK {
		cu.u.log.Warn("batch upload rejected, will retry", logger.Data{"error": resp.ErrorSummary()})
		return batch, nil
	}

	var envelope uploadEnvelope
	if err := resp.Decode(&envelope); err != nil {
		return nil, err
	}
	if envelope.Result == "error" {
		cu.u.log.Warn("batch upload reported an error, will retry", logger.Data{"error": resp.ErrorSummary()})
		return batch, nil
	}
	for _, e := range envelope.Errors {
		cu.u.log.Warn("page upload error", logger.Data{"title": e.Title, "detail": e.Detail})
	}

	accepted := make(map[string]string, len(envelope.Data))
	for _, f := range envelope.Data {
		accepted[f.Attributes.OriginalFileName] = f.ID
	}

	var failed []pages.Page
	cu.mu.Lock()
	for _, p := range batch {
		id, ok := accepted[strconv.Itoa(p.Index)]
		if !ok {
			failed = append(failed, p)
			continue
		}
		cu.pageIDs[p.Index] = id
	}
	cu.mu.Unlock()
	return failed, nil
}

// uploadBatchRetrying uploads a batch, re-sending only the pages the
// platform didn't acknowledge until the retry budget runs out.
func (cu *chapterUpload) uploadBatchRetrying(ctx context.Context, batch []pages.Page) error {
	for attempt := 1; attempt <= cu.u.cfg.Options.UploadRetry; attempt++ {
		failed, err := cu.uploadBatch(ctx, batch)
		if err != nil {
			return err
		}
		if len(failed) == 0 {
			return nil
		}

		names := make([]string, 0, len(failed))
		for _, p := range failed {
			names = append(names, p.SourceName)
		}
		cu.u.log.Warn("pages missing from upload response, retrying them", logger.Data{
			"pages":   names,
			"attempt": attempt,
		})
		batch = failed
	}
	return errcodes.PagesNotUploaded(len(batch))
}

// uploadBatches fans the batches out across the configured worker count.
// Once one batch exhausts its retries the batches not yet started are
// skipped; the ones in flight still run to completion so their pages stay
// accounted for.
func (cu *chapterUpload) uploadBatches(ctx context.Context, batches [][]pages.Page) error {
	var eg errgroup.Group
	eg.SetLimit(cu.u.cfg.Options.NumberThreads)
	for _, batch := range batches {
		batch := batch
		eg.Go(func() error {
			if cu.failed.Load() {
				return nil
			}
			if err := cu.uploadBatchRetrying(ctx, batch); err != nil {
				cu.failed.Store(true)
				return err
			}
			return nil
		})
	}
	return eg.Wait()
}

// commit turns the session into a chapter draft and returns the new
// chapter's id.
func (cu *chapterUpload) commit(ctx context.Context) (string, error) {
	draft := map[string]interface{}{
		"volume":             cu.meta.VolumeNumber,
		"chapter":            cu.meta.ChapterNumber,
		"title":              cu.meta.Title,
		"translatedLanguage": cu.meta.Language,
	}
	if cu.meta.PublishAt != nil {
		draft["publishAt"] = cu.meta.PublishAt.Format("2006-01-02T15:04:05")
	}

	resp, err := cu.u.client.Do(ctx, mdapi.Request{
		Method: http.MethodPost,
		Path:   fmt.Sprintf("/upload/%s/commit", cu.sessionID),
		JSON: map[string]interface{}{
			"chapterDraft": draft,
			"pageOrder":    cu.pageIDs,
		},
		// A refused draft is worth retrying in full before the session
		// is abandoned.
		Tries:    cu.u.cfg.Options.UploadRetry,
		RetryAll: true,
	})
	if err != nil {
		return "", err
	}
	if !resp.OK {
		cu.u.log.Warn("commit rejected", logger.Data{"error": resp.ErrorSummary()})
		return "", errcodes.CommitFailed(cu.meta.SourceName)
	}

	var envelope sessionEnvelope
	if err := resp.Decode(&envelope); err != nil {
		return "", err
	}
	return envelope.Data.ID, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

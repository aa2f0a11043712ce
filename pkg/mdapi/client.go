package mdapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"golang.org/x/time/rate"

	"github.com/mdxtools/mdup/pkg/config"
	"github.com/mdxtools/mdup/pkg/errcodes"
	"github.com/mdxtools/mdup/pkg/version"
)

// Client issues API requests with rate-limit pacing, retry with linear
// backoff on transient failures, and inline re-authentication on 401/403.
type Client struct {
	httpClient  *http.Client
	apiURL      string
	retryBudget int
	base        time.Duration
	limiter     *rate.Limiter
	tokens      *TokenManager
	log         logger.Logger

	mu             sync.Mutex
	consecutive401 int
}

// Request describes one API call. Path may be API-relative or an absolute
// URL. A status listed in OKCodes counts as success and short-circuits
// retry.
type Request struct {
	Method  string
	Path    string
	Query   url.Values
	JSON    interface{}
	Form    url.Values
	Files   map[string][]byte
	OKCodes []int
	// Tries overrides the client's retry budget for this call.
	Tries int
	// RetryAll retries terminal failure statuses too, up to the budget,
	// instead of returning them to the caller on first sight.
	RetryAll bool
	// NoAuth skips the bearer header (token grant calls).
	NoAuth bool
}

func New(cfg *config.Config) *Client {
	c := &Client{
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		apiURL:      cfg.Paths.APIURL,
		retryBudget: cfg.Options.UploadRetry,
		base:        cfg.RatelimitDuration(),
		limiter:     rate.NewLimiter(rate.Every(cfg.RatelimitDuration()), 1),
		log:         logger.New(),
	}
	c.tokens = newTokenManager(c, cfg)
	return c
}

// Tokens exposes the token manager for startup login and persistence.
func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

// Do sends the request, waiting out rate limits and retrying transient
// failures up to the budget. It returns a response for any terminal
// status (including whitelisted failures) and an error only when the
// budget is exhausted or authentication can't be recovered.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	fullURL := req.Path
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		fullURL = c.apiURL + fullURL
	}
	if len(req.Query) > 0 {
		fullURL += "?" + req.Query.Encode()
	}
	description := fmt.Sprintf("%s %s", req.Method, fullURL)

	tries := req.Tries
	if tries <= 0 {
		tries = c.retryBudget
	}

	for attempt := 1; attempt <= tries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.WithStack(err)
		}

		httpResp, err := c.send(ctx, req, fullURL)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errors.WithStack(ctx.Err())
			}
			c.log.Err(err).Warn("network error, retrying", logger.Data{"request": description, "attempt": attempt})
			if err := sleepCtx(ctx, c.base*time.Duration(attempt)); err != nil {
				return nil, err
			}
			continue
		}

		body, readErr := io.ReadAll(httpResp.Body)
		httpResp.Body.Close()
		if readErr != nil {
			c.log.Err(readErr).Warn("error reading response body, retrying", logger.Data{"request": description})
			continue
		}

		if delay, _ := ratelimitDelay(httpResp.StatusCode, httpResp.Header, c.base, time.Now()); delay > 0 {
			c.log.Info("rate limited, waiting", logger.Data{"delay": delay.String(), "request": description})
			if err := sleepCtx(ctx, delay); err != nil {
				return nil, err
			}
		}

		resp := &Response{StatusCode: httpResp.StatusCode}
		if json.Valid(body) {
			resp.Data = body
		}

		whitelisted := statusIn(httpResp.StatusCode, req.OKCodes)
		success := httpResp.StatusCode >= 200 && httpResp.StatusCode < 300
		resp.OK = success || whitelisted

		if httpResp.StatusCode == http.StatusUnauthorized {
			c.mu.Lock()
			c.consecutive401++
			aborting := c.consecutive401 >= c.retryBudget
			c.mu.Unlock()
			if aborting && !whitelisted {
				return nil, errcodes.RequestFailed(description)
			}
		} else {
			c.mu.Lock()
			c.consecutive401 = 0
			c.mu.Unlock()
		}

		// Whitelisting short-circuits retry even for failure codes.
		if resp.OK {
			return resp, nil
		}

		switch httpResp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			c.log.Warn("not authorized, re-authenticating", logger.Data{"status": httpResp.StatusCode, "request": description})
			if err := c.tokens.Reauthenticate(ctx); err != nil {
				return nil, err
			}
			continue
		case http.StatusTooManyRequests:
			// The rate-limit wait already happened above.
			continue
		case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			c.log.Warn("server error, retrying", logger.Data{"status": httpResp.StatusCode, "request": description, "attempt": attempt})
			if err := sleepCtx(ctx, c.base*time.Duration(attempt)); err != nil {
				return nil, err
			}
			continue
		default:
			if req.RetryAll && attempt < tries {
				c.log.Warn("request failed, retrying", logger.Data{"status": httpResp.StatusCode, "request": description, "attempt": attempt, "error": resp.ErrorSummary()})
				if err := sleepCtx(ctx, c.base*time.Duration(attempt)); err != nil {
					return nil, err
				}
				continue
			}
			// Anything else is a terminal failure for the caller to judge.
			c.log.Warn("request failed", logger.Data{"request": description, "error": resp.ErrorSummary()})
			return resp, nil
		}
	}

	return nil, errcodes.RequestFailed(description)
}

func (c *Client) send(ctx context.Context, req Request, fullURL string) (*http.Response, error) {
	var body io.Reader
	contentType := ""

	switch {
	case req.Files != nil:
		data, ct, err := multipartBody(req.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = bytes.NewReader(data), ct
	case req.Form != nil:
		body, contentType = strings.NewReader(req.Form.Encode()), "application/x-www-form-urlencoded"
	case req.JSON != nil:
		data, err := json.Marshal(req.JSON)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		body, contentType = bytes.NewReader(data), "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, fullURL, body)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	httpReq.Header.Set("User-Agent", "mdup/"+version.Version)
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if !req.NoAuth {
		if token := c.tokens.AccessToken(); token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	return resp, errors.WithStack(err)
}

// multipartBody builds a multipart form where each page's field name and
// file name are its upload identity.
func multipartBody(files map[string][]byte) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for field, data := range files {
		fw, err := w.CreateFormFile(field, field)
		if err != nil {
			return nil, "", errors.WithStack(err)
		}
		if _, err := fw.Write(data); err != nil {
			return nil, "", errors.WithStack(err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", errors.WithStack(err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

func statusIn(status int, codes []int) bool {
	for _, c := range codes {
		if c == status {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return errors.WithStack(ctx.Err())
	case <-timer.C:
		return nil
	}
}

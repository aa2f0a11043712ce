package mdapi

import (
	"net/http"
	"strconv"
	"time"
)

// Rate-limit response headers.
const (
	headerLimit      = "x-ratelimit-limit"
	headerRemaining  = "x-ratelimit-remaining"
	headerRetryAfter = "x-ratelimit-retry-after"
)

// defaultWindowRequests is assumed when the limit header is absent.
const defaultWindowRequests = 5

// ratelimitDelay computes how long to wait before the next request from
// the rate-limit headers of a response. An explicit retry-after instant is
// trusted over the naive limit/window estimate. The second return reports
// whether the request should be reissued after waiting (the server
// refused it rather than merely warning that the window is closing).
func ratelimitDelay(status int, headers http.Header, base time.Duration, now time.Time) (time.Duration, bool) {
	limit := headerInt(headers, headerLimit, defaultWindowRequests)
	remaining := headerInt(headers, headerRemaining, 1)
	retryAfter, hasRetryAfter := headerUnix(headers, headerRetryAfter)

	var sleep time.Duration
	if limit > 0 {
		sleep = time.Duration(defaultWindowRequests) * time.Second / time.Duration(limit)
	} else {
		sleep = base
	}

	retry := false
	if status == http.StatusTooManyRequests {
		sleep = time.Minute
		retry = true
	}

	if hasRetryAfter {
		delta := retryAfter.Sub(now)
		if delta < 0 {
			delta = 0
		}
		delta += time.Second
		if remaining <= 0 {
			sleep = delta
			retry = true
		} else {
			sleep = delta / time.Duration(remaining)
		}
	}

	if remaining <= 0 || hasRetryAfter || status == http.StatusTooManyRequests {
		return sleep, retry
	}
	return 0, false
}

func headerInt(headers http.Header, key string, fallback int) int {
	v := headers.Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func headerUnix(headers http.Header, key string) (time.Time, bool) {
	v := headers.Get(key)
	if v == "" {
		return time.Time{}, false
	}
	ts, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(ts, 0), true
}

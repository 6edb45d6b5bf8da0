package twitter

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"
)

// runPoller is one feed's recurring fetch loop. Each cycle requests the feed
// with the stored cursor, pushes new items once a baseline exists, and
// reschedules so the remaining rate-limit budget is spread evenly until reset.
func (s *Session) runPoller(ctx context.Context, spec feedSpec) {
	defer s.pollWG.Done()

	fallback := time.Duration(s.cfg.FallbackPollSeconds) * time.Second
	cursor := ""

	for {
		delay := fallback

		items, next, header, err := s.pollOnce(ctx, spec, cursor)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return
			}
			s.log.Debug("Poll cycle failed", "owner", s.ownerID, "feed", spec.feed.String(), "error", err)

		default:
			// The first successful fetch only establishes the baseline.
			if cursor != "" {
				s.push(spec.feed, items)
			}
			if next != "" {
				cursor = next
			}
			if d := rateLimitDelay(header, time.Now()); d > 0 {
				delay = d
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (s *Session) pollOnce(ctx context.Context, spec feedSpec, cursor string) ([]Item, string, http.Header, error) {
	req, err := s.cred.NewRequest(ctx, http.MethodGet, spec.url(s.cred.APIBase(), cursor), nil)
	if err != nil {
		return nil, "", nil, err
	}

	resp, err := s.cred.Do(req)
	if err != nil {
		return nil, "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return nil, "", nil, &pollStatusError{feed: spec.feed, status: resp.StatusCode}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", nil, err
	}

	items, next, err := spec.parse(s, body)
	if err != nil {
		return nil, "", nil, err
	}

	return items, next, resp.Header, nil
}

type pollStatusError struct {
	feed   Feed
	status int
}

func (e *pollStatusError) Error() string {
	return "poll of " + e.feed.String() + " feed returned status " + strconv.Itoa(e.status)
}

// rateLimitDelay spreads the remaining calls evenly across the window until
// the advertised reset. Zero means the headers were absent or unusable.
func rateLimitDelay(h http.Header, now time.Time) time.Duration {
	if h == nil {
		return 0
	}

	remaining, err := strconv.Atoi(h.Get("x-rate-limit-remaining"))
	if err != nil || remaining <= 0 {
		return 0
	}

	reset, err := strconv.ParseInt(h.Get("x-rate-limit-reset"), 10, 64)
	if err != nil {
		return 0
	}

	window := time.Unix(reset, 0).Sub(now)
	if window <= 0 {
		return 0
	}

	return window / time.Duration(remaining)
}

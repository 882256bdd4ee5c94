// Package prefetch probes a URL before any bytes are pulled: a HEAD
// (falling back to a ranged GET 0-0) that determines size, range support,
// a stable file identity and a displayable filename.
package prefetch

import (
	"context"
	"fmt"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/tachyon-dl/tachyon-core/internal/puller"
)

// Info is what a probe learned about a URL.
type Info struct {
	Size          int64
	RawName       string
	SupportsRange bool
	FastDownload  bool
	FinalURL      string
	FileID        puller.FileID
}

// Error wraps the terminal failure after retry exhaustion.
type Error struct {
	Cause error
}

func (e *Error) Error() string { return fmt.Sprintf("prefetch: %v", e.Cause) }
func (e *Error) Unwrap() error { return e.Cause }

// Prober issues the probe request(s) over a caller-supplied client so it
// shares TLS/proxy/header configuration with the eventual puller.
type Prober struct {
	Client  *http.Client
	Headers map[string]string
}

// NewProber builds a Prober that sends its requests through client with
// headers set on each.
func NewProber(headers map[string]string, client *http.Client) *Prober {
	return &Prober{Client: client, Headers: headers}
}

// Probe performs a single probe attempt (no retry). Do calls this in a
// retry loop.
func (p *Prober) Probe(ctx context.Context, rawURL string) (Info, *http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return Info{}, nil, err
	}
	for k, v := range p.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.Client.Do(req)
	warm := false
	if err != nil || resp.StatusCode >= 400 || resp.ContentLength < 0 {
		if resp != nil {
			resp.Body.Close()
		}
		// HEAD unsupported or uninformative: fall back to a ranged GET.
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return Info{}, nil, err
		}
		for k, v := range p.Headers {
			req.Header.Set(k, v)
		}
		req.Header.Set("Range", "bytes=0-0")
		resp, err = p.Client.Do(req)
		if err != nil {
			return Info{}, nil, fmt.Errorf("probe GET failed: %w", err)
		}
		warm = true
	}

	if resp.StatusCode >= 400 && resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return Info{}, nil, fmt.Errorf("probe returned status %d", resp.StatusCode)
	}

	info := Info{
		Size:          resp.ContentLength,
		SupportsRange: resp.Header.Get("Accept-Ranges") == "bytes",
		FinalURL:      resp.Request.URL.String(),
		FileID: puller.FileID{
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		},
	}

	if resp.StatusCode == http.StatusPartialContent {
		info.SupportsRange = true
		if cr := resp.Header.Get("Content-Range"); cr != "" {
			if parts := strings.Split(cr, "/"); len(parts) == 2 {
				if total, perr := strconv.ParseInt(parts[1], 10, 64); perr == nil {
					info.Size = total
				}
			}
		}
	}

	info.RawName = filenameOf(resp, rawURL)
	info.FastDownload = info.SupportsRange && info.Size > 0

	if !warm {
		resp.Body.Close()
		return info, nil, nil
	}
	return info, resp, nil
}

func filenameOf(resp *http.Response, rawURL string) string {
	if cd := resp.Header.Get("Content-Disposition"); cd != "" {
		if _, params, err := mime.ParseMediaType(cd); err == nil {
			if name := params["filename"]; name != "" {
				return name
			}
		}
	}
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	return "download"
}

// Do retries Probe up to retryTimes with retryGap delay between attempts,
// returning *Error after exhaustion.
func Do(ctx context.Context, p *Prober, rawURL string, retryTimes int, retryGap time.Duration) (Info, *http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= retryTimes; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Info{}, nil, ctx.Err()
			case <-time.After(retryGap):
			}
		}
		info, warm, err := p.Probe(ctx, rawURL)
		if err == nil {
			return info, warm, nil
		}
		lastErr = err
	}
	return Info{}, nil, &Error{Cause: lastErr}
}

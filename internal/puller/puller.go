// Package puller implements an HTTP byte source: random-range and
// sequential pulls over net/http, cloneable per worker so each can own a
// distinct connection pool.
package puller

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/tachyon-dl/tachyon-core/internal/rangeset"
)

// bufferPool recycles the 32KB chunk-read buffers across pulls.
var bufferPool = sync.Pool{
	New: func() any {
		b := make([]byte, chunkBufSize)
		return &b
	},
}

// ErrRangeDropped is returned by Pull when the server ignored the Range
// header and answered 200 for a request whose start offset was > 0.
var ErrRangeDropped = errors.New("puller: server dropped range request")

// ClonePolicy controls whether Clone shares the inner *http.Client
// (connection multiplexing on) or builds a fresh one per worker.
type ClonePolicy int

const (
	ShareInner ClonePolicy = iota
	FreshInner
)

// FileID identifies the specific server-side resource version a resume is
// valid against.
type FileID struct {
	ETag         string
	LastModified string
}

// Equal reports whether two FileIDs refer to the same resource version.
func (f FileID) Equal(o FileID) bool {
	return f.ETag == o.ETag && f.LastModified == o.LastModified
}

// Options configures the HTTP client a Puller builds or clones.
type Options struct {
	Headers                map[string]string
	Proxy                  string
	AcceptInvalidCerts     bool
	AcceptInvalidHostnames bool
	LocalAddresses         []string
	ClonePolicy            ClonePolicy
}

// Puller pulls byte ranges (or a full sequential body) over HTTP. A
// Puller MAY hold a single pre-warmed *http.Response from a prior probe,
// consumed exactly once by the first Pull call.
type Puller struct {
	url     string
	opts    Options
	client  *http.Client
	fileID  FileID
	warm    *http.Response
	localIP int // round-robin index into opts.LocalAddresses
}

// New builds a Puller for url with a freshly constructed client.
func New(rawURL string, opts Options, fileID FileID) (*Puller, error) {
	client, err := buildClient(opts, 0)
	if err != nil {
		return nil, fmt.Errorf("puller: building client: %w", err)
	}
	return &Puller{url: rawURL, opts: opts, client: client, fileID: fileID}, nil
}

// WithWarmResponse attaches an already-open response to be consumed by
// the first Pull/PullSeq call, saving a round trip for worker 0.
func (p *Puller) WithWarmResponse(resp *http.Response) *Puller {
	p.warm = resp
	return p
}

func buildClient(opts Options, localIdx int) (*http.Client, error) {
	dialer := &net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}
	if len(opts.LocalAddresses) > 0 {
		addr := opts.LocalAddresses[localIdx%len(opts.LocalAddresses)]
		if ip := net.ParseIP(addr); ip != nil {
			dialer.LocalAddr = &net.TCPAddr{IP: ip}
		}
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		DisableCompression:    true, // raw bytes: no surprise content-length vs. decoded-length mismatch
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: opts.AcceptInvalidCerts, //nolint:gosec // operator opt-in
		},
	}

	if opts.AcceptInvalidHostnames {
		transport.TLSClientConfig.InsecureSkipVerify = true
	}

	if opts.Proxy != "" {
		proxyURL, err := url.Parse(opts.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	} else {
		transport.Proxy = http.ProxyFromEnvironment
	}

	return &http.Client{Transport: transport, Timeout: 0}, nil
}

// NewHTTPClient builds a standalone *http.Client matching opts, for
// collaborators (namely prefetch) that need a client configured
// identically to the eventual puller before any Puller exists.
func NewHTTPClient(opts Options) (*http.Client, error) {
	return buildClient(opts, 0)
}

// Clone returns a per-worker Puller. Under ShareInner the inner
// *http.Client (and its connection pool) is shared; under FreshInner a new
// client with identical configuration is built so the clone owns a
// distinct connection pool.
func (p *Puller) Clone(workerIdx int) (*Puller, error) {
	if p.opts.ClonePolicy == ShareInner {
		return &Puller{url: p.url, opts: p.opts, client: p.client, fileID: p.fileID}, nil
	}
	client, err := buildClient(p.opts, workerIdx)
	if err != nil {
		return nil, fmt.Errorf("puller: cloning client: %w", err)
	}
	return &Puller{url: p.url, opts: p.opts, client: client, fileID: p.fileID}, nil
}

func (p *Puller) newRequest(ctx context.Context) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return nil, err
	}
	for k, v := range p.opts.Headers {
		req.Header.Set(k, v)
	}
	if p.fileID.ETag != "" {
		req.Header.Set("If-Range", p.fileID.ETag)
	} else if p.fileID.LastModified != "" {
		req.Header.Set("If-Range", p.fileID.LastModified)
	}
	return req, nil
}

// ChunkFunc is invoked for each arriving chunk of a pull; offset is
// absolute within the resource. Returning an error aborts the pull.
type ChunkFunc func(offset int64, data []byte) error

// Pull issues a ranged GET for r = [Start,End) and streams chunks to fn.
// It consumes and clears any warm response exactly once on the first call.
func (p *Puller) Pull(ctx context.Context, r rangeset.Range, fn ChunkFunc) error {
	resp := p.warm
	p.warm = nil

	if resp == nil {
		req, err := p.newRequest(ctx)
		if err != nil {
			return err
		}
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.Start, r.End-1))

		resp, err = p.client.Do(req)
		if err != nil {
			return fmt.Errorf("puller: request failed: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK && r.Start > 0 {
		return ErrRangeDropped
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("puller: unexpected status %d", resp.StatusCode)
	}

	return stream(resp.Body, r.Start, fn)
}

// PullSeq streams the entire body sequentially, starting at offset 0, for
// servers without range support.
func (p *Puller) PullSeq(ctx context.Context, fn ChunkFunc) error {
	resp := p.warm
	p.warm = nil

	if resp == nil {
		req, err := p.newRequest(ctx)
		if err != nil {
			return err
		}
		var err2 error
		resp, err2 = p.client.Do(req)
		if err2 != nil {
			return fmt.Errorf("puller: request failed: %w", err2)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("puller: unexpected status %d", resp.StatusCode)
	}

	return stream(resp.Body, 0, fn)
}

const chunkBufSize = 32 * 1024

func stream(body io.Reader, startOffset int64, fn ChunkFunc) error {
	bufPtr := bufferPool.Get().(*[]byte)
	defer bufferPool.Put(bufPtr)
	buf := *bufPtr
	offset := startOffset
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if cbErr := fn(offset, buf[:n]); cbErr != nil {
				return cbErr
			}
			offset += int64(n)
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("puller: read failed: %w", err)
		}
	}
}

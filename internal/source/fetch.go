package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultMaxSize caps fetched and decoded documents at 100MB.
const DefaultMaxSize int64 = 100 * 1024 * 1024

// Fetcher retrieves the bytes behind a URI.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

func (f FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// DefaultFetcher reads http(s) URIs over the network and everything else
// from the local filesystem.
type DefaultFetcher struct {
	httpClient *http.Client
	maxSize    int64
	baseDir    string
	validator  *PathValidator
}

// FetcherOption configures a DefaultFetcher.
type FetcherOption func(*DefaultFetcher)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) FetcherOption {
	return func(f *DefaultFetcher) {
		f.httpClient = c
	}
}

// WithMaxSize sets the largest payload the fetcher will return.
func WithMaxSize(n int64) FetcherOption {
	return func(f *DefaultFetcher) {
		if n > 0 {
			f.maxSize = n
		}
	}
}

// WithBaseDir resolves relative paths against dir.
func WithBaseDir(dir string) FetcherOption {
	return func(f *DefaultFetcher) {
		f.baseDir = dir
	}
}

// WithConfinedDir resolves relative paths against dir and refuses local
// paths outside it. HTTP URIs are unaffected.
func WithConfinedDir(dir string) FetcherOption {
	return func(f *DefaultFetcher) {
		if dir == "" {
			return
		}
		f.baseDir = dir
		if v, err := NewPathValidator(dir); err == nil {
			f.validator = v
		}
	}
}

// NewFetcher creates a DefaultFetcher.
func NewFetcher(opts ...FetcherOption) *DefaultFetcher {
	f := &DefaultFetcher{
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		maxSize: DefaultMaxSize,
	}

	for _, opt := range opts {
		opt(f)
	}

	return f
}

// Fetch implements Fetcher.
func (f *DefaultFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	lower := strings.ToLower(uri)
	switch {
	case strings.HasPrefix(lower, "http://"), strings.HasPrefix(lower, "https://"):
		return f.fetchHTTP(ctx, uri)
	case strings.HasPrefix(lower, "file://"):
		u, err := url.Parse(uri)
		if err != nil {
			return nil, newError("fetch", fmt.Errorf("%w: %v", ErrFetch, err))
		}
		return f.readFile(ctx, u.Path)
	case schemeRe.MatchString(uri):
		return nil, newError("fetch", fmt.Errorf("%w: unsupported scheme in %q", ErrFetch, uri))
	default:
		return f.readFile(ctx, uri)
	}
}

func (f *DefaultFetcher) fetchHTTP(ctx context.Context, uri string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, newError("fetch", fmt.Errorf("%w: create request: %v", ErrFetch, err))
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, newError("fetch", fmt.Errorf("%w: %v", ErrFetch, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newError("fetch", fmt.Errorf("%w: %s returned %d %s",
			ErrFetch, uri, resp.StatusCode, http.StatusText(resp.StatusCode)))
	}

	return f.readLimited(resp.Body)
}

func (f *DefaultFetcher) readFile(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, newError("fetch", fmt.Errorf("%w: %v", ErrFetch, err))
	}
	if f.validator != nil {
		normalized, err := f.validator.NormalizePath(path)
		if err != nil {
			return nil, newError("fetch", fmt.Errorf("%w: %w", ErrFetch, err))
		}
		path = normalized
	} else if !filepath.IsAbs(path) && f.baseDir != "" {
		path = filepath.Join(f.baseDir, path)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, newError("fetch", fmt.Errorf("%w: %v", ErrFetch, err))
	}
	if info.IsDir() {
		return nil, newError("fetch", fmt.Errorf("%w: %s is a directory", ErrFetch, path))
	}
	if info.Size() > f.maxSize {
		return nil, newError("fetch", fmt.Errorf("%w: %s is %d bytes (max %d)", ErrTooLarge, path, info.Size(), f.maxSize))
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, newError("fetch", fmt.Errorf("%w: %v", ErrFetch, err))
	}
	defer file.Close()

	return f.readLimited(file)
}

func (f *DefaultFetcher) readLimited(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, f.maxSize+1))
	if err != nil {
		return nil, newError("fetch", fmt.Errorf("%w: read body: %v", ErrFetch, err))
	}
	if int64(len(data)) > f.maxSize {
		return nil, newError("fetch", fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxSize))
	}
	return data, nil
}

// Package fetch streams remote disk images and key material into the local
// staging directory.
//
// A file already present at the target path is treated as a valid cached copy
// and is never re-downloaded unless the target asks for an overwrite. Content
// is streamed in fixed-size chunks so memory use stays bounded regardless of
// image size, and is written to a ".part" sibling that is renamed into place
// only after the transfer completes.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/ulikunitz/xz"
)

// DefaultChunkSize is the copy buffer size used when none is configured.
const DefaultChunkSize = 1024

// DefaultUserAgent identifies the fetcher to remote servers.
const DefaultUserAgent = "pvetemplates/1.0"

const partSuffix = ".part"

// Target names a remote resource and where it should land.
type Target struct {
	URL       string
	LocalPath string
	// Overwrite forces a fresh download even when LocalPath exists.
	Overwrite bool
}

// Result reports what a Fetch call did.
type Result struct {
	// Skipped is true when the local copy was reused and no transfer happened.
	Skipped bool
	// Bytes is the number of bytes written to LocalPath.
	Bytes int64
	// Total is the advertised source length, 0 when unknown.
	Total int64
}

// ProgressFunc receives byte-level progress after every chunk. total is 0
// when the source did not advertise a length.
type ProgressFunc func(received, total int64)

// Fetcher downloads Targets over HTTP(S) or from an S3-compatible object store.
type Fetcher struct {
	HTTP        *http.Client
	ObjectStore *ObjectStore

	ChunkSize int
	UserAgent string
	// Timeout bounds a single transfer. Zero means no limit.
	Timeout time.Duration

	Logger zerolog.Logger
}

// New creates a Fetcher with default settings.
func New(logger zerolog.Logger) *Fetcher {
	return &Fetcher{
		HTTP:      &http.Client{},
		ChunkSize: DefaultChunkSize,
		UserAgent: DefaultUserAgent,
		Logger:    logger.With().Str("component", "fetch").Logger(),
	}
}

// Exists reports whether a regular file is present at path.
func Exists(path string) (bool, error) {
	info, err := os.Stat(path)
	if err == nil {
		if !info.Mode().IsRegular() {
			return false, fmt.Errorf("%s exists but is not a regular file", path)
		}
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// Fetch ensures target.LocalPath holds the content of target.URL.
func (f *Fetcher) Fetch(ctx context.Context, target Target, progress ProgressFunc) (Result, error) {
	logger := f.Logger.With().Str("url", target.URL).Str("path", target.LocalPath).Logger()

	if !target.Overwrite {
		exists, err := Exists(target.LocalPath)
		if err != nil {
			return Result{}, &FetchError{Kind: KindIO, URL: target.URL, Path: target.LocalPath, Err: err}
		}
		if exists {
			logger.Info().Msg("Local copy present, skipping download")
			return Result{Skipped: true}, nil
		}
	}

	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	body, total, err := f.open(ctx, target.URL)
	if err != nil {
		return Result{}, &FetchError{Kind: KindNetwork, URL: target.URL, Path: target.LocalPath, Err: err}
	}
	defer func() { _ = body.Close() }()

	logger.Info().Int64("content_length", total).Msg("Downloading")

	written, err := f.store(ctx, target, body, total, progress)
	if err != nil {
		return Result{}, err
	}

	logger.Info().Int64("bytes", written).Msg("Download complete")
	return Result{Bytes: written, Total: total}, nil
}

// open returns a stream for rawURL and its advertised length.
func (f *Fetcher) open(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("invalid URL: %w", err)
	}

	switch u.Scheme {
	case "http", "https":
		return f.openHTTP(ctx, rawURL)
	case "s3":
		if f.ObjectStore == nil {
			return nil, 0, fmt.Errorf("no object store configured for %s", rawURL)
		}
		return f.ObjectStore.Open(ctx, u.Host, strings.TrimPrefix(u.Path, "/"))
	default:
		return nil, 0, fmt.Errorf("unsupported URL scheme %q", u.Scheme)
	}
}

func (f *Fetcher) openHTTP(ctx context.Context, rawURL string) (io.ReadCloser, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	ua := f.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)

	client := f.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	total := resp.ContentLength
	if total < 0 {
		total = 0
	}
	return resp.Body, total, nil
}

// store copies body into target.LocalPath chunk by chunk.
func (f *Fetcher) store(ctx context.Context, target Target, body io.Reader, total int64, progress ProgressFunc) (int64, error) {
	ioErr := func(err error) error {
		return &FetchError{Kind: KindIO, URL: target.URL, Path: target.LocalPath, Err: err}
	}
	netErr := func(err error) error {
		return &FetchError{Kind: KindNetwork, URL: target.URL, Path: target.LocalPath, Err: err}
	}

	if err := os.MkdirAll(filepath.Dir(target.LocalPath), 0o755); err != nil {
		return 0, ioErr(fmt.Errorf("failed to create directory: %w", err))
	}

	partPath := target.LocalPath + partSuffix
	out, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return 0, ioErr(fmt.Errorf("failed to create file: %w", err))
	}

	committed := false
	defer func() {
		if !committed {
			_ = out.Close()
			_ = os.Remove(partPath)
		}
	}()

	counter := &countingReader{r: body}
	var src io.Reader = counter
	compressed := isXZ(target.URL)
	if compressed {
		xr, err := xz.NewReader(counter)
		if err != nil {
			return 0, netErr(fmt.Errorf("failed to open xz stream: %w", err))
		}
		src = xr
	}

	chunkSize := f.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	buf := make([]byte, chunkSize)

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return 0, netErr(err)
		}

		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return 0, ioErr(fmt.Errorf("failed to write: %w", err))
			}
			written += int64(n)
			if progress != nil {
				progress(counter.n, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return 0, netErr(fmt.Errorf("failed to read: %w", readErr))
		}
	}

	if !compressed && total > 0 && counter.n != total {
		return 0, netErr(fmt.Errorf("short transfer: received %d of %d bytes", counter.n, total))
	}

	if err := out.Close(); err != nil {
		return 0, ioErr(fmt.Errorf("failed to close file: %w", err))
	}
	if err := os.Rename(partPath, target.LocalPath); err != nil {
		_ = os.Remove(partPath)
		committed = true
		return 0, ioErr(fmt.Errorf("failed to move file into place: %w", err))
	}
	committed = true
	return written, nil
}

func isXZ(rawURL string) bool {
	if u, err := url.Parse(rawURL); err == nil {
		return strings.HasSuffix(u.Path, ".xz")
	}
	return strings.HasSuffix(rawURL, ".xz")
}

// countingReader tracks how many raw bytes have been read from the source.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

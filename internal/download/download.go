package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ghwns9652/bedrock-keeper/internal/logger"
	"github.com/ghwns9652/bedrock-keeper/internal/release"
)

const (
	// defaultWorkers bounds chunk parallelism when the caller passes zero.
	defaultWorkers = 5
	// defaultChunkSize is 1 MiB, matching the typical range accepted by CDNs.
	defaultChunkSize int64 = 1 << 20
	// progressLogStep is how many chunks to complete between progress log lines.
	progressLogStep = 32
)

var (
	errBadHTTPStatus = errors.New("unexpected http status")
	errNotPartial    = errors.New("server ignored the range request")
	errShortChunk    = errors.New("truncated range response")
)

// NewClient returns an HTTP client suited for large archive transfers. The
// timeout bounds connection setup, the TLS handshake and the response headers
// only, never the body read: a slow but progressing transfer must not be cut
// off mid-download. Cancellation comes from the request context.
func NewClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           (&net.Dialer{Timeout: timeout}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Downloader fetches release archives, using parallel ranged requests when
// the server advertises support for them.
type Downloader struct {
	client    *http.Client
	workers   int
	chunkSize int64
}

// New creates a downloader. A nil client falls back to http.DefaultClient;
// non-positive workers or chunk size fall back to defaults.
func New(client *http.Client, workers int, chunkSize int64) *Downloader {
	if client == nil {
		client = http.DefaultClient
	}

	if workers <= 0 {
		workers = defaultWorkers
	}

	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}

	return &Downloader{
		client:    client,
		workers:   workers,
		chunkSize: chunkSize,
	}
}

// Fetch downloads rawURL into dest. The partial file is removed on failure.
func (d *Downloader) Fetch(ctx context.Context, rawURL, dest string) error {
	if err := d.fetch(ctx, rawURL, dest); err != nil {
		if _, statErr := os.Stat(dest); statErr == nil {
			_ = os.Remove(dest)
		}

		return err
	}

	return nil
}

func (d *Downloader) fetch(ctx context.Context, rawURL, dest string) error {
	size, ranged := d.probe(ctx, rawURL)
	if ranged && size > 0 {
		logger.InfoKV(ctx, "Downloading in parallel chunks",
			"url", rawURL, "size", size, "workers", d.workers, "chunk_size", d.chunkSize)

		return d.fetchChunked(ctx, rawURL, dest, size)
	}

	logger.InfoKV(ctx, "Downloading in a single stream", "url", rawURL)

	return d.fetchSingle(ctx, rawURL, dest)
}

// probe issues a HEAD request to learn the content length and whether the
// server accepts byte ranges. Probe failures are not fatal: the download
// simply degrades to a single stream.
func (d *Downloader) probe(ctx context.Context, rawURL string) (int64, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, http.NoBody)
	if err != nil {
		return 0, false
	}

	req.Header.Set("User-Agent", release.UserAgent)

	response, err := d.client.Do(req)
	if err != nil {
		return 0, false
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return 0, false
	}

	return response.ContentLength, response.Header.Get("Accept-Ranges") == "bytes"
}

// fetchChunked downloads the file as ranged requests written at their offsets.
// The file is preallocated to its final size; concurrent WriteAt calls do not
// overlap, so no further synchronization is needed.
func (d *Downloader) fetchChunked(ctx context.Context, rawURL, dest string, size int64) error {
	file, err := os.OpenFile(dest, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create download target: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	if err = file.Truncate(size); err != nil {
		return fmt.Errorf("preallocate download target: %w", err)
	}

	var (
		done       atomic.Int64
		chunkCount = (size + d.chunkSize - 1) / d.chunkSize
	)

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(d.workers)

	for start := int64(0); start < size; start += d.chunkSize {
		end := start + d.chunkSize - 1
		if end >= size {
			end = size - 1
		}

		start := start
		group.Go(func() error {
			if err := d.fetchChunk(groupCtx, rawURL, file, start, end); err != nil {
				return fmt.Errorf("chunk %d-%d: %w", start, end, err)
			}

			finished := done.Add(1)
			if finished%progressLogStep == 0 || finished == chunkCount {
				logger.InfoKV(groupCtx, "Download progress",
					"chunks_done", finished, "chunks_total", chunkCount)
			}

			return nil
		})
	}

	if err = group.Wait(); err != nil {
		return err
	}

	return file.Sync()
}

// fetchChunk downloads one byte range and writes it at its offset.
func (d *Downloader) fetchChunk(ctx context.Context, rawURL string, file *os.File, start, end int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", release.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	response, err := d.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("%s: %w", response.Status, errNotPartial)
	}

	want := end - start + 1

	data, err := io.ReadAll(io.LimitReader(response.Body, want))
	if err != nil {
		return err
	}

	// A short 206 body would otherwise leave a zero-filled gap in the
	// preallocated file.
	if int64(len(data)) != want {
		return fmt.Errorf("%d of %d bytes: %w", len(data), want, errShortChunk)
	}

	_, err = file.WriteAt(data, start)

	return err
}

// fetchSingle streams the whole file in one request.
func (d *Downloader) fetchSingle(ctx context.Context, rawURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return err
	}

	req.Header.Set("User-Agent", release.UserAgent)

	response, err := d.client.Do(req)
	if err != nil {
		return err
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%s, %s: %w", rawURL, response.Status, errBadHTTPStatus)
	}

	file, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create download target: %w", err)
	}

	defer func() {
		_ = file.Close()
	}()

	if _, err = io.Copy(file, response.Body); err != nil {
		return err
	}

	return file.Sync()
}

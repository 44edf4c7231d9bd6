// package media is a persistent cache of remote media assets.
// Downloads are retried, size-capped and paced; completed assets are
// recorded in the cache_items table and served from disk.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/seren-social/seren/internal/snowflake"
	"github.com/seren-social/seren/models"
	"golang.org/x/exp/slog"
	"gorm.io/gorm"
)

const (
	// MaxAssetSize is the hard ceiling on a single cached asset.
	MaxAssetSize = 100 << 20
	// chunkSize paces the incremental read so a hostile server cannot
	// stall a goroutine on one giant write.
	chunkSize = 1 << 20

	maxAttempts     = 3
	backoffSeed     = 2 * time.Second
	downloadTimeout = 120 * time.Second
)

// permanentError marks a failure that retrying will not fix.
type permanentError struct{ err error }

func (e permanentError) Error() string { return e.err.Error() }
func (e permanentError) Unwrap() error { return e.err }

// A Downloader fetches remote assets into the on-disk cache.
type Downloader struct {
	db      *gorm.DB
	root    string
	client  *http.Client
	log     *slog.Logger
	backoff time.Duration
}

// NewDownloader returns a downloader writing under root. The transport
// is used for every request, which lets callers supply a signing
// round-tripper.
func NewDownloader(db *gorm.DB, root string, transport http.RoundTripper, log *slog.Logger) *Downloader {
	if transport == nil {
		transport = http.DefaultTransport
	}
	return &Downloader{
		db:   db,
		root: root,
		client: &http.Client{
			Transport: transport,
			Timeout:   downloadTimeout,
		},
		log:     log,
		backoff: backoffSeed,
	}
}

// Root returns the cache directory.
func (d *Downloader) Root() string {
	return d.root
}

// Cache returns the cache item for the URL, downloading the asset if it
// is not already on disk. Concurrent callers for the same URL collapse
// onto one row; the download itself may race but lands on the same
// path.
func (d *Downloader) Cache(ctx context.Context, url string) (*models.CacheItem, error) {
	caches := models.NewCaches(d.db)
	item, err := caches.FindByURL(url)
	if err == nil && item.Downloaded() {
		return item, nil
	}
	if err != nil {
		item = &models.CacheItem{
			ID:   snowflake.Now(),
			UUID: uuid.NewString(),
			URL:  url,
		}
		if err := caches.Save(item); err != nil {
			return nil, err
		}
	}

	body, mediaType, err := d.download(ctx, url)
	if err != nil {
		return nil, err
	}

	rel := filepath.Join(item.UUID[:2], item.UUID)
	path := filepath.Join(d.root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return nil, err
	}

	item.Path = &rel
	item.MediaType = mediaType
	if strings.HasPrefix(mediaType, "image/") {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(body)); err == nil {
			item.Width, item.Height = cfg.Width, cfg.Height
		}
	}
	if err := caches.Save(item); err != nil {
		return nil, err
	}
	return item, nil
}

// download fetches the asset, retrying transient failures with
// exponential backoff. Rejections that retrying cannot fix, like a
// non-media content type, fail immediately.
func (d *Downloader) download(ctx context.Context, url string) ([]byte, string, error) {
	backoff := d.backoff
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, "", ctx.Err()
			}
			backoff *= 2
		}

		body, mediaType, err := d.attempt(ctx, url)
		if err == nil {
			return body, mediaType, nil
		}
		var permanent permanentError
		if errors.As(err, &permanent) {
			return nil, "", err
		}
		d.log.Warn("media download", "url", url, "attempt", attempt, "err", err)
		lastErr = err
	}
	return nil, "", fmt.Errorf("media download failed after %d attempts: %w", maxAttempts, lastErr)
}

func (d *Downloader) attempt(ctx context.Context, url string) ([]byte, string, error) {
	res, err := d.get(ctx, url, "image/*, video/*, audio/*; q=0.9, */*; q=0.1")
	if err != nil {
		return nil, "", err
	}
	if res.StatusCode == http.StatusForbidden {
		// some CDNs refuse signed or narrowly scoped requests; try once
		// with the plainest possible shape
		res.Body.Close()
		res, err = d.get(ctx, url, "*/*")
		if err != nil {
			return nil, "", err
		}
	}
	defer res.Body.Close()

	// server-side errors are transient; anything else non-2xx is not
	// going to change on a retry
	if res.StatusCode >= 500 {
		return nil, "", fmt.Errorf("server error %d", res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, "", permanentError{fmt.Errorf("unexpected status %d", res.StatusCode)}
	}
	mediaType := res.Header.Get("Content-Type")
	if i := strings.Index(mediaType, ";"); i != -1 {
		mediaType = strings.TrimSpace(mediaType[:i])
	}
	switch {
	case strings.HasPrefix(mediaType, "image/"),
		strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "audio/"):
	default:
		return nil, "", permanentError{fmt.Errorf("not a media type: %q", mediaType)}
	}
	if res.ContentLength > MaxAssetSize {
		return nil, "", permanentError{fmt.Errorf("asset is %d bytes, limit is %d", res.ContentLength, MaxAssetSize)}
	}

	body, err := readPaced(res.Body)
	if err != nil {
		// the stream died mid-read; one buffered re-request before
		// counting this attempt as failed
		var permanent permanentError
		if errors.As(err, &permanent) {
			return nil, "", err
		}
		body, err = d.rerequest(ctx, url)
		if err != nil {
			return nil, "", err
		}
	}
	return body, mediaType, nil
}

func (d *Downloader) get(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, permanentError{err}
	}
	req.Header.Set("Accept", accept)
	return d.client.Do(req)
}

func (d *Downloader) rerequest(ctx context.Context, url string) ([]byte, error) {
	res, err := d.get(ctx, url, "*/*")
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	if res.StatusCode >= 500 {
		return nil, fmt.Errorf("server error %d", res.StatusCode)
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return nil, permanentError{fmt.Errorf("unexpected status %d", res.StatusCode)}
	}
	return io.ReadAll(io.LimitReader(res.Body, MaxAssetSize+1))
}

// readPaced reads the body one chunk at a time, enforcing the size cap
// as it goes rather than after the fact.
func readPaced(r io.Reader) ([]byte, error) {
	var buf bytes.Buffer
	for {
		_, err := io.CopyN(&buf, r, chunkSize)
		if buf.Len() > MaxAssetSize {
			return nil, permanentError{fmt.Errorf("asset exceeds %d bytes", MaxAssetSize)}
		}
		if errors.Is(err, io.EOF) {
			return buf.Bytes(), nil
		}
		if err != nil {
			return nil, err
		}
	}
}


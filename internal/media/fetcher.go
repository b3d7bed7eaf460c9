// Package media retrieves and decodes displayable assets for overlays.
package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// Kind describes how the render surface should treat an asset.
type Kind string

const (
	KindImage Kind = "image"
	KindGIF   Kind = "gif"
	KindVideo Kind = "video"
)

// Asset is a fetched, displayable media payload. Video assets are not
// downloaded; they carry only the source URL for the playback surface to
// stream directly.
type Asset struct {
	Kind        Kind
	ContentType string
	Data        []byte
	SourceURL   string
}

// Fetch errors.
var (
	ErrEmptyRef      = errors.New("media reference is empty")
	ErrBadDataURI    = errors.New("malformed data URI")
	ErrTooLarge      = errors.New("media exceeds size limit")
	ErrBadStatusCode = errors.New("unexpected HTTP status")
)

// Defaults for remote fetches.
const (
	DefaultTimeout  = 10 * time.Second
	DefaultMaxBytes = 8 << 20 // 8 MiB
)

// Fetcher retrieves media assets referenced by notification events.
// Fetches are independent and cancellable through their context.
type Fetcher struct {
	client   *http.Client
	timeout  time.Duration
	maxBytes int64
	logger   *slog.Logger
}

// NewFetcher creates a Fetcher with the given per-fetch timeout.
// A non-positive timeout falls back to the default; a fetch never waits
// indefinitely.
func NewFetcher(timeout time.Duration, logger *slog.Logger) *Fetcher {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		client:   &http.Client{Timeout: timeout},
		timeout:  timeout,
		maxBytes: DefaultMaxBytes,
		logger:   logger,
	}
}

// Fetch resolves a media reference into an Asset. The reference is either a
// remote URL or a self-contained data URI; videos resolve without network
// I/O. Cancelling ctx aborts an in-flight fetch; cancellation after
// completion has no effect.
func (f *Fetcher) Fetch(ctx context.Context, mediaRef string) (*Asset, error) {
	if mediaRef == "" {
		return nil, ErrEmptyRef
	}

	if strings.HasPrefix(mediaRef, "data:") {
		return decodeDataURI(mediaRef)
	}

	if kind := sniffKind(mediaRef, ""); kind == KindVideo {
		// Streamed by the playback surface, nothing to download.
		return &Asset{Kind: KindVideo, SourceURL: mediaRef}, nil
	}

	return f.fetchRemote(ctx, mediaRef)
}

// fetchRemote downloads an image asset over HTTP.
func (f *Fetcher) fetchRemote(ctx context.Context, url string) (*Asset, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build media request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("media fetch failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s", ErrBadStatusCode, resp.Status)
	}

	// Read one byte past the cap to detect oversized bodies.
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read media body: %w", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, ErrTooLarge
	}

	ctype := resp.Header.Get("Content-Type")
	if ctype == "" {
		ctype = http.DetectContentType(data)
	}

	f.logger.Debug("fetched media", "url", url, "bytes", len(data), "content_type", ctype)

	return &Asset{
		Kind:        sniffKind(url, ctype),
		ContentType: ctype,
		Data:        data,
		SourceURL:   url,
	}, nil
}

// decodeDataURI decodes an inline base64 asset, e.g.
// "data:image/jpeg;base64,/9j/4AAQ...".
func decodeDataURI(uri string) (*Asset, error) {
	rest := strings.TrimPrefix(uri, "data:")
	meta, payload, found := strings.Cut(rest, ",")
	if !found {
		return nil, ErrBadDataURI
	}

	ctype := meta
	if i := strings.Index(meta, ";"); i >= 0 {
		ctype = meta[:i]
		if !strings.Contains(meta[i:], "base64") {
			return nil, fmt.Errorf("%w: only base64 encoding is supported", ErrBadDataURI)
		}
	}
	if ctype == "" {
		ctype = "application/octet-stream"
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadDataURI, err)
	}

	return &Asset{
		Kind:        sniffKind("", ctype),
		ContentType: ctype,
		Data:        data,
	}, nil
}

// sniffKind classifies a media reference by URL shape and content type.
func sniffKind(url, ctype string) Kind {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(ctype, "video/"),
		strings.Contains(lower, ".mp4"),
		strings.Contains(lower, "m3u8"),
		strings.Contains(lower, "stream"):
		return KindVideo
	case ctype == "image/gif", strings.Contains(lower, ".gif"):
		return KindGIF
	default:
		return KindImage
	}
}

package fetch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aeonbot/aeon/pkg/log"
)

const (
	downloadAttempts   = 2
	downloadRetryDelay = 1 * time.Second
	downloadTimeout    = 20 * time.Second
	downloadWallClock  = 25 * time.Second

	downloadUserAgent = "Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15"
)

// Downloader fetches resolved media URLs into memory with a hard byte
// ceiling enforced while streaming, not after the fact.
type Downloader struct {
	client   *http.Client
	maxBytes int64
}

func NewDownloader(maxBytes int64) *Downloader {
	return &Downloader{
		client:   defaultHTTPClient(downloadTimeout),
		maxBytes: maxBytes,
	}
}

// Download retries transient failures. A size violation is terminal; the
// media will not shrink between attempts.
func (d *Downloader) Download(ctx context.Context, url string) ([]byte, error) {
	var lastErr error
	for attempt := 1; attempt <= downloadAttempts; attempt++ {
		if attempt > 1 {
			log.Print(nil).Warnf("Retrying media download (attempt %d/%d)", attempt, downloadAttempts)
			select {
			case <-time.After(downloadRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		data, err := d.downloadOnce(ctx, url)
		if err == nil {
			return data, nil
		}
		if err == ErrTooLarge {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("fetch: download failed after %d attempts: %w", downloadAttempts, lastErr)
}

func (d *Downloader) downloadOnce(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, downloadWallClock)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", downloadUserAgent)
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Connection", "close")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch: unexpected status %d", resp.StatusCode)
	}

	if resp.ContentLength > d.maxBytes {
		return nil, ErrTooLarge
	}

	var buf bytes.Buffer
	// read one byte past the limit so an exactly-at-limit body still passes
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, d.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if n > d.maxBytes {
		return nil, ErrTooLarge
	}

	log.Print(nil).Infof("Media downloaded (%.2f MB)", float64(n)/1024/1024)
	return buf.Bytes(), nil
}

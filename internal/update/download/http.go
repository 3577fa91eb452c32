// Package download fetches update payloads.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/autopeer-io/skypeer/internal/update/core"
	"github.com/autopeer-io/skypeer/pkg/log"
)

const defaultBufferSize = 32 * 1024

// HTTPDownloader streams a payload over HTTP(S) and reports progress after
// every buffer.
type HTTPDownloader struct {
	client  *http.Client
	bufSize int
	logger  log.Logger
}

var _ core.Downloader = (*HTTPDownloader)(nil)

func NewHTTPDownloader(client *http.Client) *HTTPDownloader {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDownloader{client: client, bufSize: defaultBufferSize, logger: log.WithName("download")}
}

func (d *HTTPDownloader) Download(ctx context.Context, url string, w io.Writer, progress core.TransferFunc) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("download %s: %v: %w", url, err, core.ErrRejected)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return 0, d.transportError(ctx, url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode >= 500:
		return 0, fmt.Errorf("download %s: %s: %w", url, resp.Status, core.ErrUnreachable)
	default:
		return 0, fmt.Errorf("download %s: %s: %w", url, resp.Status, core.ErrRejected)
	}

	total := resp.ContentLength
	if total <= 0 {
		total = -1
	}

	buf := make([]byte, d.bufSize)
	var done int64
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			written, err := w.Write(buf[:n])
			done += int64(written)
			if err != nil {
				return done, fmt.Errorf("download %s: write: %w", url, err)
			}
			if progress != nil {
				progress(done, total)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return done, d.transportError(ctx, url, readErr)
		}
	}

	if total > 0 && done != total {
		return done, fmt.Errorf("download %s: short body %d of %d bytes: %w", url, done, total, core.ErrUnreachable)
	}
	d.logger.Debug("Payload downloaded", "url", url, "bytes", done)
	return done, nil
}

func (d *HTTPDownloader) transportError(ctx context.Context, url string, err error) error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return fmt.Errorf("download %s: %w", url, core.ErrTimeout)
	case ctx.Err() != nil:
		return ctx.Err()
	}
	return fmt.Errorf("download %s: %v: %w", url, err, core.ErrUnreachable)
}

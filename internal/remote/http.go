package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/eleven/artcache/internal/buffer"
	"github.com/eleven/artcache/pkg/errors"
)

// httpClient is the transport shared by the providers and the downloader
type httpClient struct {
	client    *http.Client
	userAgent string
	pool      *buffer.Pool
}

func newHTTPClient(timeout time.Duration, userAgent string, pool *buffer.Pool) *httpClient {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	if pool == nil {
		pool = buffer.NewPool()
	}
	return &httpClient{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
		pool:      pool,
	}
}

func (c *httpClient) do(ctx context.Context, url, accept string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeProviderFailure, "failed to build request").
			WithContext("url", url)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), errors.ErrCodeOperationCanceled, "request cancelled")
		}
		return nil, errors.Wrap(err, errors.ErrCodeNetworkError, "request failed").
			WithContext("url", url)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil
	case resp.StatusCode == http.StatusNotFound:
		_ = resp.Body.Close()
		return nil, errors.NewError(errors.ErrCodeArtUnavailable, "not found").
			WithContext("url", url)
	default:
		_ = resp.Body.Close()
		return nil, errors.NewError(errors.ErrCodeProviderFailure, fmt.Sprintf("unexpected status %d", resp.StatusCode)).
			WithContext("url", url).
			WithDetail("status", resp.StatusCode)
	}
}

func (c *httpClient) getJSON(ctx context.Context, url string, v interface{}) error {
	resp, err := c.do(ctx, url, "application/json")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return errors.Wrap(err, errors.ErrCodeProviderFailure, "failed to parse response").
			WithContext("url", url)
	}
	return nil
}

// getBytes downloads url, failing once more than maxBytes arrive
func (c *httpClient) getBytes(ctx context.Context, url string, maxBytes int64) ([]byte, error) {
	resp, err := c.do(ctx, url, "image/*")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if maxBytes > 0 && resp.ContentLength > maxBytes {
		return nil, tooLarge(url, resp.ContentLength, maxBytes)
	}
	return readCapped(resp.Body, c.pool, int(resp.ContentLength), maxBytes, url)
}

func readCapped(r io.Reader, pool *buffer.Pool, sizeHint int, maxBytes int64, source string) ([]byte, error) {
	buf := pool.Get(sizeHint)
	defer pool.Put(buf)

	limited := r
	if maxBytes > 0 {
		limited = io.LimitReader(r, maxBytes+1)
	}
	n, err := buf.ReadFrom(limited)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeNetworkError, "failed to read artwork").
			WithContext("url", source)
	}
	if maxBytes > 0 && n > maxBytes {
		return nil, tooLarge(source, n, maxBytes)
	}

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func tooLarge(source string, size, max int64) error {
	return errors.NewError(errors.ErrCodeArtTooLarge, "artwork exceeds size limit").
		WithContext("url", source).
		WithDetail("size", size).
		WithDetail("limit", max)
}

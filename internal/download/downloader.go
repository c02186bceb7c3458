// Package download retrieves PDF bytes over HTTP under a byte cap, a
// content-type check, and a retry policy for transient failures.
package download

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/remedyhq/pdf-processor/internal/common"
)

// retryableStatuses are the server responses worth another attempt.
var retryableStatuses = map[int]bool{
	http.StatusTooManyRequests:     true,
	http.StatusInternalServerError: true,
	http.StatusBadGateway:          true,
	http.StatusServiceUnavailable:  true,
	http.StatusGatewayTimeout:      true,
}

type Config struct {
	// MaxBytes caps both the declared and the measured body size.
	MaxBytes int64
	// Timeout is the wall-clock budget for a single network call.
	Timeout time.Duration
	// RetryTotal is the number of retries after the initial attempt.
	RetryTotal int
	// RetryBackoff scales the exponential delay between retries.
	RetryBackoff time.Duration
	UserAgent    string
	// ExpectedType must appear in the reported content type (case-insensitive).
	ExpectedType string
}

// Metadata is the best-effort byproduct of a fetch.
type Metadata struct {
	Mime          string
	Filename      string
	ContentLength int64
}

type Downloader struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func NewDownloader(cfg Config, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.ExpectedType == "" {
		cfg.ExpectedType = "pdf"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "pdf-processor/1.0"
	}
	return &Downloader{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Fetch downloads the document at rawURL and returns its bytes plus metadata.
//
// A HEAD probe runs first; servers that reject it are tolerated (the probe
// result is discarded on any failure), but a probe that succeeds and declares
// a size over the cap fails the fetch before the body is touched.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, Metadata, error) {
	start := time.Now()
	meta, err := d.probe(ctx, rawURL)
	if err != nil {
		return nil, meta, err
	}

	resp, err := d.doWithRetry(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, meta, common.NewAppError(common.CodeTransport, "request failed", err)
	}
	defer func(body io.ReadCloser) {
		if err := body.Close(); err != nil {
			d.logger.Warn("download.fetch.body_close_error", "url", rawURL, "error", err)
		}
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		return nil, meta, common.NewAppError(common.CodeHTTPStatus,
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}

	if meta.Filename == "" {
		meta.Filename = guessFilename(rawURL, resp.Header.Get("Content-Disposition"))
	}
	if ct := resp.Header.Get("Content-Type"); ct != "" {
		meta.Mime = ct
	}
	if meta.Mime != "" && !strings.Contains(strings.ToLower(meta.Mime), d.cfg.ExpectedType) {
		return nil, meta, common.NewAppError(common.CodeBadContentType,
			fmt.Sprintf("unexpected content-type: %s", meta.Mime), nil)
	}
	// Fail on a declared oversize before reading a single body byte.
	if resp.ContentLength > d.cfg.MaxBytes {
		return nil, meta, d.sizeError("GET", resp.ContentLength)
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, d.cfg.MaxBytes+1))
	if err != nil {
		return nil, meta, common.NewAppError(common.CodeTransport, "read body", err)
	}
	if n > d.cfg.MaxBytes {
		return nil, meta, d.sizeError("GET", n)
	}

	data := buf.Bytes()
	meta.ContentLength = int64(len(data))

	d.logger.Info("download.fetch.ok",
		"url", rawURL,
		"bytes", len(data),
		"mime", meta.Mime,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return data, meta, nil
}

// probe issues a best-effort HEAD. Every probe failure is intentionally
// discarded so servers without HEAD support still get a full GET; the one
// exception is a declared size over the cap, which aborts the fetch.
func (d *Downloader) probe(ctx context.Context, rawURL string) (Metadata, error) {
	var meta Metadata

	resp, err := d.doWithRetry(ctx, http.MethodHead, rawURL)
	if err != nil {
		d.logger.Debug("download.probe.skipped", "url", rawURL, "error", err)
		return meta, nil
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode/100 != 2 {
		d.logger.Debug("download.probe.skipped", "url", rawURL, "status", resp.StatusCode)
		return meta, nil
	}

	meta.Mime = resp.Header.Get("Content-Type")
	meta.Filename = guessFilename(rawURL, resp.Header.Get("Content-Disposition"))
	if resp.ContentLength > 0 {
		meta.ContentLength = resp.ContentLength
		if resp.ContentLength > d.cfg.MaxBytes {
			return meta, d.sizeError("HEAD", resp.ContentLength)
		}
	}
	return meta, nil
}

// doWithRetry runs one idempotent request with the retry policy: transport
// errors and retryable statuses trigger another attempt after an exponential
// delay; the final response is returned as-is for the caller to judge.
func (d *Downloader) doWithRetry(ctx context.Context, method, rawURL string) (*http.Response, error) {
	attempts := 1
	if method == http.MethodGet || method == http.MethodHead {
		attempts += d.cfg.RetryTotal
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.backoffDelay(i)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", d.cfg.UserAgent)

		resp, err := d.client.Do(req)
		if err != nil {
			lastErr = err
			d.logger.Debug("download.retry", "method", method, "url", rawURL, "attempt", i+1, "error", err)
			continue
		}
		if retryableStatuses[resp.StatusCode] && i < attempts-1 {
			lastErr = fmt.Errorf("retryable status %d", resp.StatusCode)
			if err := resp.Body.Close(); err != nil {
				d.logger.Warn("download.retry.body_close_error", "url", rawURL, "error", err)
			}
			d.logger.Debug("download.retry", "method", method, "url", rawURL, "attempt", i+1, "status", resp.StatusCode)
			continue
		}
		return resp, nil
	}
	return nil, fmt.Errorf("retries exhausted after %d attempts: %w", attempts, lastErr)
}

// backoffDelay returns RetryBackoff * 2^(attempt-1) for attempt >= 1.
func (d *Downloader) backoffDelay(attempt int) time.Duration {
	delay := d.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

func (d *Downloader) sizeError(phase string, n int64) error {
	return common.NewAppError(common.CodeTooLarge,
		fmt.Sprintf("PDF too large (%s): %.1f MB > %.1f MB cap",
			phase, float64(n)/(1024*1024), float64(d.cfg.MaxBytes)/(1024*1024)), nil)
}

// guessFilename prefers a Content-Disposition filename (including RFC 5987
// filename*), then falls back to the last URL path segment, percent-decoded.
// Returns "" when neither yields a name.
func guessFilename(rawURL, contentDisposition string) string {
	if contentDisposition != "" {
		if _, params, err := mime.ParseMediaType(contentDisposition); err == nil {
			if name := params["filename"]; name != "" {
				if decoded, err := url.PathUnescape(name); err == nil {
					name = decoded
				}
				return strings.TrimSpace(name)
			}
		}
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	return name
}

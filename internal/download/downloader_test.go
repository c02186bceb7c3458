package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/remedyhq/pdf-processor/internal/common"
)

func testDownloader(t *testing.T, cfg Config) *Downloader {
	t.Helper()
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = 30 * 1024 * 1024
	}
	cfg.Timeout = 5 * time.Second
	if cfg.RetryBackoff == 0 {
		cfg.RetryBackoff = time.Millisecond
	}
	return NewDownloader(cfg, nil)
}

func TestFetchSuccess(t *testing.T) {
	body := []byte("%PDF-1.4 fake body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			return
		}
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	d := testDownloader(t, Config{})
	data, meta, err := d.Fetch(context.Background(), srv.URL+"/docs/report.pdf")
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	if string(data) != string(body) {
		t.Errorf("Body mismatch: got %d bytes", len(data))
	}
	if meta.Mime != "application/pdf" {
		t.Errorf("Expected application/pdf, got %q", meta.Mime)
	}
	if meta.Filename != "report.pdf" {
		t.Errorf("Expected filename report.pdf, got %q", meta.Filename)
	}
	if meta.ContentLength != int64(len(body)) {
		t.Errorf("Expected length %d, got %d", len(body), meta.ContentLength)
	}
}

func TestDeclaredSizeExceedsCap(t *testing.T) {
	var getCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.Header().Set("Content-Type", "application/pdf")
			w.Header().Set("Content-Length", strconv.Itoa(40*1024*1024))
			w.WriteHeader(http.StatusOK)
			return
		}
		getCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d := testDownloader(t, Config{})
	_, _, err := d.Fetch(context.Background(), srv.URL+"/big.pdf")
	if !common.IsCode(err, common.CodeTooLarge) {
		t.Fatalf("Expected %s, got %v", common.CodeTooLarge, err)
	}
	if n := getCalls.Load(); n != 0 {
		t.Errorf("Expected no GET after oversize probe, got %d", n)
	}
}

func TestProbeFailureIsSwallowed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	d := testDownloader(t, Config{})
	data, _, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("Fetch should tolerate a failing HEAD: %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected body bytes")
	}
}

func TestContentTypeMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte("<html>not a pdf</html>"))
	}))
	defer srv.Close()

	d := testDownloader(t, Config{})
	_, _, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf")
	if !common.IsCode(err, common.CodeBadContentType) {
		t.Fatalf("Expected %s, got %v", common.CodeBadContentType, err)
	}
}

func TestMeasuredSizeExceedsCap(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		// Flush after the first chunk so no Content-Length is declared.
		chunk := strings.Repeat("x", 512)
		for i := 0; i < 8; i++ {
			_, _ = w.Write([]byte(chunk))
			if f, ok := w.(http.Flusher); ok {
				f.Flush()
			}
		}
	}))
	defer srv.Close()

	d := testDownloader(t, Config{MaxBytes: 1024})
	_, _, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf")
	if !common.IsCode(err, common.CodeTooLarge) {
		t.Fatalf("Expected %s, got %v", common.CodeTooLarge, err)
	}
}

func TestRetryOn503ThenSuccess(t *testing.T) {
	var getCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if getCalls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4"))
	}))
	defer srv.Close()

	d := testDownloader(t, Config{RetryTotal: 3})
	data, _, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf")
	if err != nil {
		t.Fatalf("Expected success after retries, got %v", err)
	}
	if len(data) == 0 {
		t.Error("Expected body bytes")
	}
	if n := getCalls.Load(); n != 4 {
		t.Errorf("Expected 4 GET attempts, got %d", n)
	}
}

func TestRetriesExhausted(t *testing.T) {
	var getCalls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		getCalls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := testDownloader(t, Config{RetryTotal: 2})
	_, _, err := d.Fetch(context.Background(), srv.URL+"/doc.pdf")
	if !common.IsCode(err, common.CodeHTTPStatus) {
		t.Fatalf("Expected %s, got %v", common.CodeHTTPStatus, err)
	}
	if !strings.Contains(err.Error(), "503") {
		t.Errorf("Expected final status in error, got %v", err)
	}
	if n := getCalls.Load(); n != 3 {
		t.Errorf("Expected 3 GET attempts, got %d", n)
	}
}

func TestBackoffDelay(t *testing.T) {
	d := NewDownloader(Config{RetryBackoff: 500 * time.Millisecond}, nil)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 500 * time.Millisecond},
		{2, 1 * time.Second},
		{3, 2 * time.Second},
		{4, 4 * time.Second},
	}
	for _, tt := range tests {
		if got := d.backoffDelay(tt.attempt); got != tt.want {
			t.Errorf("backoffDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestGuessFilename(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		disposition string
		want        string
	}{
		{
			name:        "content-disposition wins",
			url:         "https://example.com/download?id=42",
			disposition: `attachment; filename="annual-report.pdf"`,
			want:        "annual-report.pdf",
		},
		{
			name:        "rfc5987 encoded filename",
			url:         "https://example.com/x",
			disposition: `attachment; filename*=UTF-8''caf%C3%A9.pdf`,
			want:        "café.pdf",
		},
		{
			name: "url path fallback",
			url:  "https://example.com/docs/brief.pdf",
			want: "brief.pdf",
		},
		{
			name: "percent-decoded path segment",
			url:  "https://example.com/docs/my%20file.pdf",
			want: "my file.pdf",
		},
		{
			name: "no path",
			url:  "https://example.com",
			want: "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := guessFilename(tt.url, tt.disposition); got != tt.want {
				t.Errorf("guessFilename(%q, %q) = %q, want %q", tt.url, tt.disposition, got, tt.want)
			}
		})
	}
}

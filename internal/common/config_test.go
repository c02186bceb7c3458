package common

import (
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	// Shield the test from whatever the host environment carries.
	for _, key := range []string{
		"WORKER_BATCH_SIZE", "MAX_ATTEMPTS", "DOCS_TABLE",
		"MAX_PDF_MB", "REQUEST_TIMEOUT", "REQUEST_RETRY_TOTAL", "REQUEST_RETRY_BACKOFF",
	} {
		t.Setenv(key, "")
	}

	cfg := LoadConfig()

	if cfg.Worker.BatchSize != 200 {
		t.Errorf("Expected batch size 200, got %d", cfg.Worker.BatchSize)
	}
	if cfg.Worker.MaxAttempts != 5 {
		t.Errorf("Expected max attempts 5, got %d", cfg.Worker.MaxAttempts)
	}
	if cfg.Worker.Table != "dev.documents" {
		t.Errorf("Expected table dev.documents, got %s", cfg.Worker.Table)
	}
	if cfg.HTTP.MaxPDFMB != 30 {
		t.Errorf("Expected cap 30 MB, got %v", cfg.HTTP.MaxPDFMB)
	}
	if cfg.HTTP.RequestTimeout != 30*time.Second {
		t.Errorf("Expected timeout 30s, got %v", cfg.HTTP.RequestTimeout)
	}
	if cfg.HTTP.RetryTotal != 3 {
		t.Errorf("Expected 3 retries, got %d", cfg.HTTP.RetryTotal)
	}
	if cfg.HTTP.RetryBackoff != 500*time.Millisecond {
		t.Errorf("Expected backoff 500ms, got %v", cfg.HTTP.RetryBackoff)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("WORKER_BATCH_SIZE", "50")
	t.Setenv("MAX_PDF_MB", "10.5")
	t.Setenv("REQUEST_TIMEOUT", "5")
	t.Setenv("REQUEST_RETRY_BACKOFF", "0.25")
	t.Setenv("DOCS_TABLE", "prod.documents")
	t.Setenv("MAX_ATTEMPTS", "3")

	cfg := LoadConfig()

	if cfg.Worker.BatchSize != 50 {
		t.Errorf("Expected batch size 50, got %d", cfg.Worker.BatchSize)
	}
	if cfg.HTTP.MaxPDFMB != 10.5 {
		t.Errorf("Expected cap 10.5 MB, got %v", cfg.HTTP.MaxPDFMB)
	}
	if cfg.HTTP.RequestTimeout != 5*time.Second {
		t.Errorf("Expected timeout 5s, got %v", cfg.HTTP.RequestTimeout)
	}
	if cfg.HTTP.RetryBackoff != 250*time.Millisecond {
		t.Errorf("Expected backoff 250ms, got %v", cfg.HTTP.RetryBackoff)
	}
	if cfg.Worker.Table != "prod.documents" {
		t.Errorf("Expected table prod.documents, got %s", cfg.Worker.Table)
	}
	if cfg.Worker.MaxAttempts != 3 {
		t.Errorf("Expected max attempts 3, got %d", cfg.Worker.MaxAttempts)
	}
}

func TestLoadConfigIgnoresGarbage(t *testing.T) {
	t.Setenv("WORKER_BATCH_SIZE", "not-a-number")
	t.Setenv("REQUEST_TIMEOUT", "30s") // bare seconds expected, not a duration

	cfg := LoadConfig()

	if cfg.Worker.BatchSize != 200 {
		t.Errorf("Expected default batch size 200, got %d", cfg.Worker.BatchSize)
	}
	if cfg.HTTP.RequestTimeout != 30*time.Second {
		t.Errorf("Expected default timeout 30s, got %v", cfg.HTTP.RequestTimeout)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("DB_URL", "postgres://localhost/docs")
	cfg := LoadConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	cfg.Database.DSN = ""
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for missing DB_URL")
	}

	cfg = LoadConfig()
	cfg.Worker.BatchSize = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero batch size")
	}
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"batchzip/internal/circuitbreaker"
	"batchzip/internal/config"
	"batchzip/internal/metrics"
)

// Shared metrics instance to avoid duplicate registration
var sharedMetrics = metrics.New()

func testBreaker(name string) *circuitbreaker.Breaker {
	cfg := &config.Config{
		CircuitBreakerThreshold:   5,
		CircuitBreakerTimeout:     10 * time.Second,
		CircuitBreakerMaxRequests: 2,
	}
	return circuitbreaker.New(name, cfg, sharedMetrics)
}

func TestLocalSink_Save(t *testing.T) {
	tmpDir := t.TempDir()

	sink, err := NewLocalSink(tmpDir, sharedMetrics, testBreaker("test-storage"), 3, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewLocalSink() error = %v", err)
	}

	tests := []struct {
		name        string
		file        string
		wantErr     bool
		errContains string
	}{
		{
			name:    "single batch archive",
			file:    "grok_media_1700000000000.zip",
			wantErr: false,
		},
		{
			name:    "multi batch archive",
			file:    "grok_media_1700000000000_part_2_of_3.zip",
			wantErr: false,
		},
		{
			name:        "path traversal attempt",
			file:        "../../../etc/passwd",
			wantErr:     true,
			errContains: "path traversal",
		},
		{
			name:        "base path itself",
			file:        ".",
			wantErr:     true,
			errContains: "path traversal",
		},
		{
			name:        "missing subdirectory",
			file:        "nested/archive.zip",
			wantErr:     true,
			errContains: "no such file",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := []byte("PK zip bytes for " + tt.name)
			err := sink.Save(context.Background(), tt.file, payload)

			if tt.wantErr {
				if err == nil {
					t.Errorf("Save() error = nil, wantErr %v", tt.wantErr)
					return
				}
				if tt.errContains != "" && !strings.Contains(err.Error(), tt.errContains) {
					t.Errorf("Save() error = %v, want error containing %v", err, tt.errContains)
				}
				return
			}

			if err != nil {
				t.Fatalf("Save() unexpected error = %v", err)
			}
			got, err := os.ReadFile(filepath.Join(tmpDir, tt.file))
			if err != nil {
				t.Fatalf("reading saved archive: %v", err)
			}
			if string(got) != string(payload) {
				t.Errorf("saved payload = %q, want %q", got, payload)
			}
		})
	}
}

func TestLocalSink_SaveLeavesNoTempFiles(t *testing.T) {
	tmpDir := t.TempDir()
	sink, err := NewLocalSink(tmpDir, sharedMetrics, testBreaker("test-storage-tmp"), 0, 0)
	if err != nil {
		t.Fatalf("NewLocalSink() error = %v", err)
	}

	if err := sink.Save(context.Background(), "a.zip", []byte("one")); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := sink.Save(context.Background(), "a.zip", []byte("two")); err != nil {
		t.Fatalf("Save() overwrite error = %v", err)
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "a.zip" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contents = %v, want [a.zip]", names)
	}
}

func TestLocalSink_HealthCheck(t *testing.T) {
	tmpDir := t.TempDir()

	sink, err := NewLocalSink(tmpDir, sharedMetrics, testBreaker("test-storage-health"), 3, time.Second)
	if err != nil {
		t.Fatalf("NewLocalSink() error = %v", err)
	}

	t.Run("healthy when base path exists", func(t *testing.T) {
		if err := sink.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck() error = %v, want nil", err)
		}
	})

	t.Run("unhealthy when base path is removed", func(t *testing.T) {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.Fatalf("RemoveAll() error = %v", err)
		}
		if err := sink.HealthCheck(context.Background()); err == nil {
			t.Error("HealthCheck() error = nil, want error")
		}
	})
}

func TestNewLocalSink_InvalidPath(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(file, []byte("x"), 0644); err != nil {
		t.Fatalf("failed to create test file: %v", err)
	}

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{
			name:    "nonexistent path",
			path:    "/nonexistent/path/that/does/not/exist",
			wantErr: true,
		},
		{
			name:    "path is a file",
			path:    file,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewLocalSink(tt.path, sharedMetrics, testBreaker("test-storage-invalid"), 3, time.Second)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewLocalSink() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestIsLocalRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"deadline", context.DeadlineExceeded, false},
		{"canceled", context.Canceled, false},
		{"not exist", os.ErrNotExist, false},
		{"permission", os.ErrPermission, false},
		{"disk full", &os.PathError{Op: "write", Path: "x", Err: syscall.ENOSPC}, false},
		{"other io error", errors.New("input/output error"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isLocalRetryableError(tt.err); got != tt.want {
				t.Errorf("isLocalRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

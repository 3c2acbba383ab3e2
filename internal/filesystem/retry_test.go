package filesystem

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"
)

func fastConfig() RetryConfig {
	return RetryConfig{MaxRetries: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d, want 3", config.MaxRetries)
	}
	if config.InitialBackoff != 50*time.Millisecond {
		t.Errorf("InitialBackoff = %v, want 50ms", config.InitialBackoff)
	}
	if config.MaxBackoff != 500*time.Millisecond {
		t.Errorf("MaxBackoff = %v, want 500ms", config.MaxBackoff)
	}
}

func TestIsNFSStaleError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil error", nil, false},
		{"ESTALE error", syscall.ESTALE, true},
		{"ENOENT error", syscall.ENOENT, false},
		{"wrapped ESTALE", &os.PathError{Op: "stat", Path: "/x", Err: syscall.ESTALE}, true},
		{"plain error", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isNFSStaleError(tt.err); got != tt.want {
				t.Errorf("isNFSStaleError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestWithRetryRecoversFromStaleHandle(t *testing.T) {
	calls := 0
	err := withRetry("stat", "/x", fastConfig(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("stat /x: %w", syscall.ESTALE)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("withRetry() error = %v", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestWithRetryGivesUp(t *testing.T) {
	calls := 0
	err := withRetry("stat", "/x", fastConfig(), func() error {
		calls++
		return syscall.ESTALE
	})
	if !errors.Is(err, syscall.ESTALE) {
		t.Errorf("withRetry() error = %v, want ESTALE", err)
	}
	if calls != 3 {
		t.Errorf("fn called %d times, want 3", calls)
	}
}

func TestWithRetryDoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	want := errors.New("permission denied")
	err := withRetry("read", "/x", fastConfig(), func() error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Errorf("withRetry() error = %v, want %v", err, want)
	}
	if calls != 1 {
		t.Errorf("fn called %d times, want 1", calls)
	}
}

func TestWriteAndReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "1234.mp4")
	data := []byte("ftyp moov mdat")

	if err := WriteFileAtomic(path, data, 0o644, fastConfig()); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}

	got, err := ReadFileWithRetry(path, fastConfig())
	if err != nil {
		t.Fatalf("ReadFileWithRetry() error = %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read %q, want %q", got, data)
	}

	info, err := StatWithRetry(path, fastConfig())
	if err != nil {
		t.Fatalf("StatWithRetry() error = %v", err)
	}
	if info.Size() != int64(len(data)) {
		t.Errorf("Size() = %d, want %d", info.Size(), len(data))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("directory holds %d files, want only the target", len(entries))
	}
}

func TestWriteFileAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp4")
	if err := WriteFileAtomic(path, []byte("old contents"), 0o644, fastConfig()); err != nil {
		t.Fatalf("first write error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte("new"), 0o644, fastConfig()); err != nil {
		t.Fatalf("second write error = %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(got) != "new" {
		t.Errorf("file = %q, want new", got)
	}
}

func TestWriteFileAtomicMissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing", "a.mp4")
	if err := WriteFileAtomic(path, []byte("x"), 0o644, fastConfig()); err == nil {
		t.Error("WriteFileAtomic() into a missing directory succeeded")
	}
}

func TestRemoveWithRetry(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.mp4")
	if err := os.WriteFile(path, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := RemoveWithRetry(path, fastConfig()); err != nil {
		t.Fatalf("RemoveWithRetry() error = %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("file still present: %v", err)
	}
	if err := RemoveWithRetry(path, fastConfig()); err != nil {
		t.Errorf("RemoveWithRetry() on missing file error = %v", err)
	}
}

func TestStatMissingFile(t *testing.T) {
	_, err := StatWithRetry(filepath.Join(t.TempDir(), "nope"), fastConfig())
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("StatWithRetry() error = %v, want not exist", err)
	}
}

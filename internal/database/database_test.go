package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *Database {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "ugoira.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Close() error = %v", err)
		}
	})
	return db
}

func TestRecordQuery(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"successful query", nil},
		{"failed query", errors.New("test error")},
		{"not found", ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(_ *testing.T) {
			// Must not panic for any outcome.
			recordQuery("test_operation", time.Now(), tt.err)
		})
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "db", "ugoira.db")
	db, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer db.Close()

	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Errorf("database directory not created: %v", err)
	}
}

func TestNewDirectoryIsFile(t *testing.T) {
	parent := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(parent, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(context.Background(), filepath.Join(parent, "ugoira.db")); err == nil {
		t.Error("New() under a regular file succeeded")
	}
}

func TestSchemaVersion(t *testing.T) {
	db := openTestDB(t)
	v, err := db.SchemaVersion(context.Background())
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if v != len(migrations) {
		t.Errorf("SchemaVersion() = %d, want %d", v, len(migrations))
	}
}

func TestNewRejectsNewerSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ugoira.db")
	db, err := New(context.Background(), path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := db.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", len(migrations)+1)); err != nil {
		t.Fatalf("setting user_version: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	if db, err := New(context.Background(), path); err == nil {
		db.Close()
		t.Error("New() accepted a schema from a newer build")
	}
}

func TestFixReadOnlyFiles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ugoira.db")
	if err := os.WriteFile(path, nil, 0o400); err != nil {
		t.Fatal(err)
	}
	fixReadOnlyFiles(path)

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0o200 == 0 {
		t.Errorf("mode = %v, want owner-writable", info.Mode())
	}
}

func TestPing(t *testing.T) {
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "ugoira.db"))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := db.Ping(context.Background()); err == nil {
		t.Error("Ping() after Close succeeded")
	}
}

func TestRecordAndGetTranscode(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	created := time.Unix(1_700_000_000, 0)
	want := Transcode{
		ID:         44298467,
		JobID:      "9f7c",
		Encoder:    "h264",
		Codec:      "jpeg",
		Frames:     3,
		DurationMS: 450,
		Width:      600,
		Height:     600,
		Size:       12345,
		CreatedAt:  created,
	}
	if err := db.RecordTranscode(ctx, &want); err != nil {
		t.Fatalf("RecordTranscode() error = %v", err)
	}

	got, err := db.GetTranscode(ctx, want.ID)
	if err != nil {
		t.Fatalf("GetTranscode() error = %v", err)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	got.CreatedAt = want.CreatedAt
	if *got != want {
		t.Errorf("GetTranscode() = %+v, want %+v", *got, want)
	}
}

func TestRecordTranscodeReplaces(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := &Transcode{ID: 1, JobID: "a", Encoder: "mjpeg", Codec: "png", Frames: 2, DurationMS: 200, Size: 10}
	if err := db.RecordTranscode(ctx, first); err != nil {
		t.Fatalf("RecordTranscode() error = %v", err)
	}
	if first.CreatedAt.IsZero() {
		t.Error("RecordTranscode() did not set CreatedAt")
	}

	second := &Transcode{ID: 1, JobID: "b", Encoder: "h264", Codec: "png", Frames: 2, DurationMS: 200, Size: 20}
	if err := db.RecordTranscode(ctx, second); err != nil {
		t.Fatalf("RecordTranscode() error = %v", err)
	}

	got, err := db.GetTranscode(ctx, 1)
	if err != nil {
		t.Fatalf("GetTranscode() error = %v", err)
	}
	if got.JobID != "b" || got.Encoder != "h264" || got.Size != 20 {
		t.Errorf("GetTranscode() = %+v, want the second record", *got)
	}
}

func TestGetTranscodeNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.GetTranscode(context.Background(), 99)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTranscode() error = %v, want ErrNotFound", err)
	}
}

func TestListTranscodes(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Unix(1_700_000_000, 0)
	for i := int64(1); i <= 3; i++ {
		rec := &Transcode{ID: i, JobID: "j", Encoder: "h264", Codec: "jpeg", Frames: 1, DurationMS: 100, Size: i * 100,
			CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := db.RecordTranscode(ctx, rec); err != nil {
			t.Fatalf("RecordTranscode(%d) error = %v", i, err)
		}
	}

	all, err := db.ListTranscodes(ctx, 0)
	if err != nil {
		t.Fatalf("ListTranscodes() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i, wantID := range []int64{3, 2, 1} {
		if all[i].ID != wantID {
			t.Errorf("all[%d].ID = %d, want %d", i, all[i].ID, wantID)
		}
	}

	limited, err := db.ListTranscodes(ctx, 2)
	if err != nil {
		t.Fatalf("ListTranscodes(2) error = %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("len = %d, want 2", len(limited))
	}
}

func TestListTranscodesEmpty(t *testing.T) {
	db := openTestDB(t)
	list, err := db.ListTranscodes(context.Background(), 10)
	if err != nil {
		t.Fatalf("ListTranscodes() error = %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Errorf("ListTranscodes() = %v, want an empty non-nil slice", list)
	}
}

func TestStatsAndDelete(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for i := int64(1); i <= 4; i++ {
		if err := db.RecordTranscode(ctx, &Transcode{ID: i, JobID: "j", Encoder: "h264", Codec: "jpeg", Frames: 1, DurationMS: 1, Size: 250}); err != nil {
			t.Fatalf("RecordTranscode() error = %v", err)
		}
	}

	stats, err := db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Count != 4 || stats.TotalBytes != 1000 {
		t.Errorf("Stats() = %+v, want 4 rows, 1000 bytes", stats)
	}

	if err := db.DeleteTranscode(ctx, 2); err != nil {
		t.Fatalf("DeleteTranscode() error = %v", err)
	}
	if err := db.DeleteTranscode(ctx, 2); err != nil {
		t.Errorf("second DeleteTranscode() error = %v", err)
	}

	n, err := db.DeleteAllTranscodes(ctx)
	if err != nil {
		t.Fatalf("DeleteAllTranscodes() error = %v", err)
	}
	if n != 3 {
		t.Errorf("DeleteAllTranscodes() = %d, want 3", n)
	}

	stats, err = db.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.Count != 0 || stats.TotalBytes != 0 {
		t.Errorf("Stats() after delete = %+v, want empty", stats)
	}
}

func TestReopenKeepsRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ugoira.db")
	ctx := context.Background()

	db, err := New(ctx, path)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := db.RecordTranscode(ctx, &Transcode{ID: 7, JobID: "j", Encoder: "mjpeg", Codec: "jpeg", Frames: 1, DurationMS: 1, Size: 1}); err != nil {
		t.Fatalf("RecordTranscode() error = %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	db, err = New(ctx, path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer db.Close()

	if _, err := db.GetTranscode(ctx, 7); err != nil {
		t.Errorf("GetTranscode() after reopen error = %v", err)
	}
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}
}

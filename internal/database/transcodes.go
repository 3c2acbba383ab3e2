package database

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

const selectTranscode = `
	SELECT id, job_id, encoder, codec, frames, duration_ms, width, height, size, created_at
	FROM transcodes`

// RecordTranscode inserts or replaces the ledger row for t.ID. CreatedAt is
// set to now when zero.
func (d *Database) RecordTranscode(ctx context.Context, t *Transcode) (err error) {
	start := time.Now()
	defer func() { recordQuery("record_transcode", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}

	_, err = d.db.ExecContext(ctx, `
	INSERT INTO transcodes (id, job_id, encoder, codec, frames, duration_ms, width, height, size, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		job_id = excluded.job_id,
		encoder = excluded.encoder,
		codec = excluded.codec,
		frames = excluded.frames,
		duration_ms = excluded.duration_ms,
		width = excluded.width,
		height = excluded.height,
		size = excluded.size,
		created_at = excluded.created_at
	`, t.ID, t.JobID, t.Encoder, t.Codec, t.Frames, t.DurationMS, t.Width, t.Height, t.Size, t.CreatedAt.Unix())
	return err
}

// GetTranscode returns the ledger row for id, or ErrNotFound.
func (d *Database) GetTranscode(ctx context.Context, id int64) (_ *Transcode, err error) {
	start := time.Now()
	defer func() { recordQuery("get_transcode", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	t, err := scanTranscode(d.db.QueryRowContext(ctx, selectTranscode+" WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListTranscodes returns up to limit rows, newest first. A limit <= 0
// returns every row.
func (d *Database) ListTranscodes(ctx context.Context, limit int) (_ []Transcode, err error) {
	start := time.Now()
	defer func() { recordQuery("list_transcodes", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if limit <= 0 {
		limit = -1
	}
	rows, err := d.db.QueryContext(ctx, selectTranscode+" ORDER BY created_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	list := []Transcode{}
	for rows.Next() {
		t, err := scanTranscode(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *t)
	}
	return list, rows.Err()
}

// DeleteTranscode removes the row for id. Deleting a missing row is not an
// error.
func (d *Database) DeleteTranscode(ctx context.Context, id int64) (err error) {
	start := time.Now()
	defer func() { recordQuery("delete_transcodes", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	_, err = d.db.ExecContext(ctx, "DELETE FROM transcodes WHERE id = ?", id)
	return err
}

// DeleteAllTranscodes empties the ledger and returns the number of rows
// removed.
func (d *Database) DeleteAllTranscodes(ctx context.Context) (_ int64, err error) {
	start := time.Now()
	defer func() { recordQuery("delete_transcodes", start, err) }()

	d.mu.Lock()
	defer d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	result, err := d.db.ExecContext(ctx, "DELETE FROM transcodes")
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Stats returns the number of rows and the total recorded output size.
func (d *Database) Stats(ctx context.Context) (_ Stats, err error) {
	start := time.Now()
	defer func() { recordQuery("stats", start, err) }()

	d.mu.RLock()
	defer d.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var s Stats
	err = d.db.QueryRowContext(ctx, "SELECT COUNT(*), COALESCE(SUM(size), 0) FROM transcodes").Scan(&s.Count, &s.TotalBytes)
	return s, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTranscode(row scanner) (*Transcode, error) {
	var t Transcode
	var created int64
	if err := row.Scan(&t.ID, &t.JobID, &t.Encoder, &t.Codec, &t.Frames, &t.DurationMS,
		&t.Width, &t.Height, &t.Size, &created); err != nil {
		return nil, err
	}
	t.CreatedAt = time.Unix(created, 0)
	return &t, nil
}

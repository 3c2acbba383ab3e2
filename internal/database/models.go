package database

import "time"

// Transcode is one finished, cached MP4.
type Transcode struct {
	ID         int64     `json:"id"`
	JobID      string    `json:"jobId"`
	Encoder    string    `json:"encoder"`
	Codec      string    `json:"codec"`
	Frames     int       `json:"frames"`
	DurationMS int64     `json:"durationMs"`
	Width      int       `json:"width"`
	Height     int       `json:"height"`
	Size       int64     `json:"size"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Stats summarises the ledger.
type Stats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// Package database provides the SQLite ledger of finished transcodes.
//
// Each row records one cached MP4: the illustration id it was built from,
// the encoder and frame codec used, the frame count, total duration and
// output size. The transcode cache uses the ledger as its index; the
// /api/transcodes endpoint lists it.
//
// The database uses WAL mode for improved concurrent read performance
// and migrates its schema on open using PRAGMA user_version.
package database

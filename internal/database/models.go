package database

import "time"

// Status describes whether a record's file is currently present on disk.
type Status string

const (
	// StatusAvailable means the file was confirmed to exist at Path.
	StatusAvailable Status = "available"
	// StatusMissing means the file vanished; the record is kept as a
	// tombstone so favorites and tags survive a later recovery.
	StatusMissing Status = "missing"
)

// MetadataStatus is the independent state machine driving the harvester.
type MetadataStatus string

const (
	MetadataPending    MetadataStatus = "pending"
	MetadataProcessing MetadataStatus = "processing"
	MetadataCompleted  MetadataStatus = "completed"
	MetadataFailed     MetadataStatus = "failed"
)

// MediaRecord is one logical media item. A record survives renames, moves
// and temporary deletion of its file; the id is assigned once and never
// reused.
type MediaRecord struct {
	ID         string `json:"id"`
	Path       string `json:"path"`
	ParentPath string `json:"parentPath"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	MTime      int64  `json:"mtime"` // milliseconds
	Ino        *int64 `json:"ino,omitempty"`
	FileHash   *string `json:"-"`

	Status            Status `json:"status"`
	LastSeenAt        int64  `json:"lastSeenAt"` // milliseconds
	LastScanAttemptAt *int64 `json:"lastScanAttemptAt,omitempty"`

	Duration    *float64 `json:"duration,omitempty"`
	Width       *int64   `json:"width,omitempty"`
	Height      *int64   `json:"height,omitempty"`
	AspectRatio *float64 `json:"aspectRatio,omitempty"`
	FPS         *float64 `json:"fps,omitempty"`
	Codec       *string  `json:"codec,omitempty"`

	MetadataStatus   MetadataStatus `json:"metadataStatus"`
	GenerationParams *string        `json:"generationParams,omitempty"`
}

// IsAvailable reports whether the record's file is currently present.
func (r *MediaRecord) IsAvailable() bool {
	return r.Status == StatusAvailable
}

// StatMatches reports whether the observed size and mtime equal the stored
// ones. A mismatch means the underlying bytes are judged to have changed.
func (r *MediaRecord) StatMatches(size, mtimeMillis int64) bool {
	return r.Size == size && r.MTime == mtimeMillis
}

// TechnicalMetadata carries the extracted technical fields written on a
// successful probe. Nil fields fall back to whatever is already stored.
type TechnicalMetadata struct {
	Duration    *float64
	Width       *int64
	Height      *int64
	AspectRatio *float64
	FPS         *float64
	Codec       *string
	Params      *string
}

// LibraryStats summarizes the index for health and stats endpoints.
type LibraryStats struct {
	TotalRecords     int       `json:"totalRecords"`
	Available        int       `json:"available"`
	Missing          int       `json:"missing"`
	MetadataPending  int       `json:"metadataPending"`
	MetadataFailed   int       `json:"metadataFailed"`
	LastScan         time.Time `json:"lastScan,omitempty"`
	LastScanDuration string    `json:"lastScanDuration,omitempty"`
}

// Millis converts a time to the integer millisecond representation stored in
// the records table.
func Millis(t time.Time) int64 {
	return t.UnixMilli()
}

// NowMillis returns the current time in stored-timestamp form.
func NowMillis() int64 {
	return time.Now().UnixMilli()
}

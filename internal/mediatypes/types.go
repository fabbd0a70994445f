package mediatypes

import (
	"path/filepath"
	"strings"
)

// FileType represents the category of a media file.
type FileType string

const (
	// FileTypeVideo represents a video file.
	FileTypeVideo FileType = "video"
	// FileTypeOther represents an unknown or unsupported file type.
	FileTypeOther FileType = "other"
)

// NativeExtensions maps file extensions to whether they are indexable without
// any external tooling. These are containers that players handle directly.
var NativeExtensions = map[string]bool{
	".mp4":  true,
	".m4v":  true,
	".webm": true,
	".mov":  true,
}

// ExtendedExtensions maps file extensions that are only indexed when the
// external probe tool is available, since their metadata cannot be read
// otherwise.
var ExtendedExtensions = map[string]bool{
	".mkv":  true,
	".avi":  true,
	".wmv":  true,
	".flv":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
	".ts":   true,
}

// MimeTypes maps file extensions to their MIME types.
var MimeTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mov":  "video/quicktime",
	".mkv":  "video/x-matroska",
	".avi":  "video/x-msvideo",
	".wmv":  "video/x-ms-wmv",
	".flv":  "video/x-flv",
	".mpeg": "video/mpeg",
	".mpg":  "video/mpeg",
	".3gp":  "video/3gpp",
	".ts":   "video/mp2t",
}

// Accepted reports whether a filename has an indexable extension.
// When extended is false only the native set is checked.
func Accepted(name string, extended bool) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if NativeExtensions[ext] {
		return true
	}
	return extended && ExtendedExtensions[ext]
}

// GetFileType determines the file type based on its lowercase extension.
func GetFileType(ext string) FileType {
	if NativeExtensions[ext] || ExtendedExtensions[ext] {
		return FileTypeVideo
	}
	return FileTypeOther
}

// GetMimeType returns the MIME type for a lowercase file extension.
// Returns "application/octet-stream" for unknown extensions.
func GetMimeType(ext string) string {
	if mime, ok := MimeTypes[ext]; ok {
		return mime
	}
	return "application/octet-stream"
}

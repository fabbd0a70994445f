// Package mediatypes provides shared type definitions and extension sets for
// media file handling across the indexer.
//
// This package exists as a dependency-free foundation that can be imported by
// other packages without creating import cycles. It contains primitive types,
// constants, and pure utility functions with no external dependencies beyond
// the standard library.
//
// # Extension Sets
//
// Two extension sets gate which files are indexed:
//
//	mediatypes.NativeExtensions   // always accepted (mp4, webm, mov, m4v)
//	mediatypes.ExtendedExtensions // accepted only when the probe tool is available
//
// Use Accepted for the common filter:
//
//	if mediatypes.Accepted(entry.Name(), probeAvailable) {
//	    // index the file
//	}
//
// # MIME Types
//
// Use GetMimeType to get the appropriate MIME type for HTTP responses:
//
//	ext := strings.ToLower(filepath.Ext(filename))
//	mimeType := mediatypes.GetMimeType(ext) // e.g., "video/mp4"
package mediatypes

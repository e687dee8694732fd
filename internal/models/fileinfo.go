package models

import "strings"

// DefaultDownloadQuery enables direct, cache-busting downloads
const DefaultDownloadQuery = "cache=1&dl=1"

// FileInfo is derived from a source URL and never mutated
type FileInfo struct {
	Filename    string `json:"filename"`
	DownloadURL string `json:"download_url"`
}

// MediaKind distinguishes images from videos
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Kind reports the media kind of a source URL.
func Kind(sourceURL string) MediaKind {
	if strings.HasSuffix(stripQuery(sourceURL), ".png") {
		return MediaImage
	}
	return MediaVideo
}

// DeriveFileInfo maps a source URL to its archive filename and download URL.
//
// Images (paths ending in .png) are named after their last path segment.
// Anything else is treated as a video whose asset id is the second-to-last
// segment (".../<uuid>/generated_video.mp4"). The download URL is the URL with
// its query replaced by query, or DefaultDownloadQuery when query is empty.
func DeriveFileInfo(sourceURL, query string) FileInfo {
	if query == "" {
		query = DefaultDownloadQuery
	}
	query = strings.TrimPrefix(query, "?")

	cleaned := stripQuery(sourceURL)
	segments := strings.Split(cleaned, "/")

	var filename string
	if Kind(cleaned) == MediaImage {
		id := strings.TrimSuffix(segments[len(segments)-1], ".png")
		filename = id + ".png"
	} else {
		id := ""
		if len(segments) >= 2 {
			id = segments[len(segments)-2]
		}
		filename = id + ".mp4"
	}

	return FileInfo{
		Filename:    filename,
		DownloadURL: cleaned + "?" + query,
	}
}

func stripQuery(u string) string {
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		return u[:i]
	}
	return u
}

package data

import (
	"encoding/json"
	"io"
	"path/filepath"
	"strings"
)

// DownloadResult is the outcome of one successful backend attempt. It is
// transient; nothing outlives the request except the file at Path.
type DownloadResult struct {
	Path      string
	Filename  string
	Size      int64
	Title     string
	Duration  int64
	Uploader  string
	Thumbnail string
	Backend   string
}

// DownloadResponse is the reference-mode reply for /v1/download.
type DownloadResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Filepath  string `json:"filepath,omitempty"`
	Filename  string `json:"filename,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	PublicURL string `json:"public_url,omitempty"`
}

func (d *DownloadResponse) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(d) }

// FormatInfo describes one format a backend can deliver for a URL.
type FormatInfo struct {
	FormatID   string  `json:"format_id"`
	Extension  string  `json:"extension"`
	Resolution string  `json:"resolution,omitempty"`
	Filesize   int64   `json:"filesize,omitempty"`
	VCodec     string  `json:"vcodec,omitempty"`
	ACodec     string  `json:"acodec,omitempty"`
	FPS        float64 `json:"fps,omitempty"`
	Quality    string  `json:"quality,omitempty"`
}

// FormatList is the metadata-only probe result for /v1/formats.
type FormatList struct {
	Success   bool         `json:"success"`
	VideoID   string       `json:"video_id"`
	Title     string       `json:"title"`
	Formats   []FormatInfo `json:"formats"`
	Thumbnail string       `json:"thumbnail,omitempty"`
	Duration  int64        `json:"duration,omitempty"`
	Uploader  string       `json:"uploader,omitempty"`
}

func (f *FormatList) ToJSON(w io.Writer) error { return json.NewEncoder(w).Encode(f) }

var contentTypes = map[string]string{
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".flv":  "video/x-flv",
	".avi":  "video/x-msvideo",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".opus": "audio/opus",
	".ogg":  "audio/ogg",
	".flac": "audio/flac",
	".wav":  "audio/wav",
	".vtt":  "text/vtt",
	".srt":  "application/x-subrip",
}

// ContentType maps a filename to its media type, defaulting to an opaque
// octet stream for anything unrecognized.
func ContentType(filename string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(filename))]; ok {
		return ct
	}
	return "application/octet-stream"
}

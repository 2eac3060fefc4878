// Package format maps an abstract download request onto an ordered list of
// backend-specific fetch specifications. Ordering encodes fallback priority.
package format

import (
	"fmt"
	"strings"

	"github.com/vidfetch/vidfetch/internal/data"
)

// Entry is one backend-specific fetch instruction.
type Entry struct {
	// Backend is the registered backend identifier ("ytdlp", "progressive").
	Backend string
	// Selector is the backend-native quality/codec filter expression.
	Selector string
	// Transcode is set when the requested audio container is not natively
	// produced by the backend and a post-fetch ffmpeg transcode is required.
	Transcode bool
	// Remux is set when the delivered container may differ from the requested
	// one and a lossless remux is required after the fetch.
	Remux bool
	// EmbedSubs is set when the backend cannot embed subtitles itself and a
	// post-fetch embed is required if a subtitle sidecar is present.
	EmbedSubs bool
}

// Spec is the resolved, ordered fallback chain for one request, plus the
// request options that survive resolution unchanged.
type Spec struct {
	Entries []Entry

	FormatType   data.FormatType
	VideoFormat  data.VideoFormat
	AudioFormat  data.AudioFormat
	AudioQuality data.AudioQuality

	DownloadSubtitles bool
	EmbedSubtitles    bool
	SubtitleLanguage  string
}

// TargetExtension is the file extension (with dot) the finished artifact
// should carry once all processing is done.
func (s *Spec) TargetExtension() string {
	if s.FormatType == data.FormatAudio {
		return "." + string(s.AudioFormat)
	}
	return "." + string(s.VideoFormat)
}

// Resolver translates requests into Specs for the configured backend order.
type Resolver struct {
	backends []string
}

// NewResolver builds a resolver over the configured backend identifiers,
// first entry being the primary.
func NewResolver(backends []string) *Resolver {
	return &Resolver{backends: backends}
}

// Resolve produces a non-empty ordered Spec or a KindInvalidFormatRequest
// error. The request must already be normalized and validated.
func (r *Resolver) Resolve(req *data.DownloadRequest) (*Spec, error) {
	if len(r.backends) == 0 {
		return nil, data.NewError(data.KindInvalidFormatRequest, "no download backends configured")
	}

	spec := &Spec{
		FormatType:        req.FormatType,
		VideoFormat:       req.VideoFormat,
		AudioFormat:       req.AudioFormat,
		AudioQuality:      req.AudioQuality,
		DownloadSubtitles: req.DownloadSubtitles,
		EmbedSubtitles:    req.EmbedSubtitles,
		SubtitleLanguage:  req.SubtitleLanguage,
	}

	for _, b := range r.backends {
		e, err := entryFor(b, req)
		if err != nil {
			return nil, err
		}
		spec.Entries = append(spec.Entries, e)
	}
	return spec, nil
}

func entryFor(backend string, req *data.DownloadRequest) (Entry, error) {
	switch backend {
	case "ytdlp":
		return ytdlpEntry(req), nil
	case "progressive":
		return progressiveEntry(req), nil
	default:
		return Entry{}, data.NewError(data.KindInvalidFormatRequest, "unknown backend "+backend)
	}
}

// ytdlpEntry builds the yt-dlp selector. Best/worst are relative extremums;
// exact tiers become a height cap so yt-dlp can fall back to the closest
// smaller rendition the site actually serves.
func ytdlpEntry(req *data.DownloadRequest) Entry {
	if req.FormatType == data.FormatAudio {
		// yt-dlp extracts and converts audio natively via its own
		// postprocessor, so no external transcode is needed.
		return Entry{Backend: "ytdlp", Selector: "bestaudio/best"}
	}

	ext := string(req.VideoFormat)
	var sel string
	switch req.Quality {
	case data.QualityBest:
		sel = fmt.Sprintf("bestvideo[ext=%s]+bestaudio/best[ext=%s]/best", ext, ext)
	case data.QualityWorst:
		sel = fmt.Sprintf("worstvideo[ext=%s]+worstaudio/worst[ext=%s]/worst", ext, ext)
	default:
		height := strings.TrimSuffix(string(req.Quality), "p")
		sel = fmt.Sprintf("bestvideo[height<=%s][ext=%s]+bestaudio/best[height<=%s]/best", height, ext, height)
	}
	return Entry{Backend: "ytdlp", Selector: sel}
}

// progressiveEntry targets the progressive-stream backend. That backend only
// delivers the containers the site serves progressively (mp4/webm) and never
// converts audio, so transcode/remux flags are set whenever the requested
// container differs.
func progressiveEntry(req *data.DownloadRequest) Entry {
	if req.FormatType == data.FormatAudio {
		return Entry{
			Backend:   "progressive",
			Selector:  "audio:best",
			Transcode: true,
		}
	}

	var sel string
	switch req.Quality {
	case data.QualityBest:
		sel = fmt.Sprintf("progressive:ext=%s,order=desc", req.VideoFormat)
	case data.QualityWorst:
		sel = fmt.Sprintf("progressive:ext=%s,order=asc", req.VideoFormat)
	default:
		sel = fmt.Sprintf("progressive:res=%s,ext=%s", req.Quality, req.VideoFormat)
	}
	return Entry{
		Backend:   "progressive",
		Selector:  sel,
		Remux:     req.VideoFormat != data.VideoMP4 && req.VideoFormat != data.VideoWebM,
		EmbedSubs: req.EmbedSubtitles,
	}
}

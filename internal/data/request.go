package data

import (
	"encoding/json"
	"io"
	"net/url"
	"strings"
)

// FormatType selects between a full video download and an audio-only one.
type FormatType string

const (
	FormatVideo FormatType = "video"
	FormatAudio FormatType = "audio"
)

// ResponseType selects how the finished artifact is returned to the caller.
type ResponseType string

const (
	ResponseBinary   ResponseType = "binary"
	ResponseFilepath ResponseType = "filepath"
)

// VideoQuality is the requested quality tier. Best and Worst are relative
// extremums; the remaining values are exact resolution caps.
type VideoQuality string

const (
	QualityBest  VideoQuality = "best"
	QualityWorst VideoQuality = "worst"
	Quality144p  VideoQuality = "144p"
	Quality240p  VideoQuality = "240p"
	Quality360p  VideoQuality = "360p"
	Quality480p  VideoQuality = "480p"
	Quality720p  VideoQuality = "720p"
	Quality1080p VideoQuality = "1080p"
	Quality1440p VideoQuality = "1440p"
	Quality2160p VideoQuality = "2160p"
)

type VideoFormat string

const (
	VideoMP4  VideoFormat = "mp4"
	VideoWebM VideoFormat = "webm"
	VideoMKV  VideoFormat = "mkv"
	VideoFLV  VideoFormat = "flv"
	VideoAVI  VideoFormat = "avi"
)

type AudioFormat string

const (
	AudioMP3    AudioFormat = "mp3"
	AudioM4A    AudioFormat = "m4a"
	AudioOpus   AudioFormat = "opus"
	AudioVorbis AudioFormat = "vorbis"
	AudioFLAC   AudioFormat = "flac"
	AudioWAV    AudioFormat = "wav"
)

// AudioQuality is the target audio bitrate, e.g. "192k".
type AudioQuality string

const (
	Audio128k AudioQuality = "128k"
	Audio192k AudioQuality = "192k"
	Audio256k AudioQuality = "256k"
	Audio320k AudioQuality = "320k"
)

var (
	videoQualities = map[VideoQuality]bool{
		QualityBest: true, QualityWorst: true,
		Quality144p: true, Quality240p: true, Quality360p: true,
		Quality480p: true, Quality720p: true, Quality1080p: true,
		Quality1440p: true, Quality2160p: true,
	}
	videoFormats = map[VideoFormat]bool{
		VideoMP4: true, VideoWebM: true, VideoMKV: true, VideoFLV: true, VideoAVI: true,
	}
	audioFormats = map[AudioFormat]bool{
		AudioMP3: true, AudioM4A: true, AudioOpus: true, AudioVorbis: true,
		AudioFLAC: true, AudioWAV: true,
	}
	audioQualities = map[AudioQuality]bool{
		Audio128k: true, Audio192k: true, Audio256k: true, Audio320k: true,
	}
)

// DownloadRequest describes one download. It is immutable once accepted;
// Normalize fills defaults and Validate rejects structurally unrepresentable
// combinations before any backend is called.
type DownloadRequest struct {
	VideoURL          string       `json:"video_url"`
	FormatType        FormatType   `json:"format_type,omitempty"`
	Quality           VideoQuality `json:"quality,omitempty"`
	VideoFormat       VideoFormat  `json:"video_format,omitempty"`
	AudioFormat       AudioFormat  `json:"audio_format,omitempty"`
	AudioQuality      AudioQuality `json:"audio_quality,omitempty"`
	ResponseType      ResponseType `json:"response_type,omitempty"`
	StorageTarget     string       `json:"storage_target,omitempty"`
	DownloadSubtitles bool         `json:"download_subtitles,omitempty"`
	EmbedSubtitles    bool         `json:"embed_subtitles,omitempty"`
	SubtitleLanguage  string       `json:"subtitle_language,omitempty"`
}

func (r *DownloadRequest) FromJSON(rd io.Reader) error { return json.NewDecoder(rd).Decode(r) }

// Normalize fills in the documented defaults for omitted fields.
func (r *DownloadRequest) Normalize() {
	if r.FormatType == "" {
		r.FormatType = FormatVideo
	}
	if r.Quality == "" {
		r.Quality = QualityBest
	}
	if r.VideoFormat == "" {
		r.VideoFormat = VideoMP4
	}
	if r.AudioFormat == "" {
		r.AudioFormat = AudioMP3
	}
	if r.AudioQuality == "" {
		r.AudioQuality = Audio192k
	}
	if r.ResponseType == "" {
		r.ResponseType = ResponseBinary
	}
	if r.SubtitleLanguage == "" {
		r.SubtitleLanguage = "en"
	}
}

// Validate checks the request against the enumerated permitted sets. All
// failures carry KindInvalidFormatRequest.
func (r *DownloadRequest) Validate() error {
	if strings.TrimSpace(r.VideoURL) == "" {
		return NewError(KindInvalidFormatRequest, "video_url must be a non-empty string")
	}
	u, err := url.Parse(r.VideoURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return NewError(KindInvalidFormatRequest, "video_url must be a valid http(s) URL")
	}
	host := strings.ToLower(u.Hostname())
	if !strings.HasSuffix(host, "youtube.com") && host != "youtu.be" {
		return NewError(KindInvalidFormatRequest, "video_url must be a valid YouTube URL")
	}
	switch r.FormatType {
	case FormatVideo, FormatAudio:
	default:
		return NewError(KindInvalidFormatRequest, "format_type must be video or audio")
	}
	if !videoQualities[r.Quality] {
		return NewError(KindInvalidFormatRequest, "unknown quality "+string(r.Quality))
	}
	if !videoFormats[r.VideoFormat] {
		return NewError(KindInvalidFormatRequest, "unknown video_format "+string(r.VideoFormat))
	}
	if !audioFormats[r.AudioFormat] {
		return NewError(KindInvalidFormatRequest, "unknown audio_format "+string(r.AudioFormat))
	}
	if !audioQualities[r.AudioQuality] {
		return NewError(KindInvalidFormatRequest, "unknown audio_quality "+string(r.AudioQuality))
	}
	switch r.ResponseType {
	case ResponseBinary, ResponseFilepath:
	default:
		return NewError(KindInvalidFormatRequest, "response_type must be binary or filepath")
	}
	switch r.StorageTarget {
	case "", "local", "supabase", "s3":
	default:
		return NewError(KindInvalidFormatRequest, "unknown storage_target "+r.StorageTarget)
	}
	if !validSubtitleLang(r.SubtitleLanguage) {
		return NewError(KindInvalidFormatRequest, "malformed subtitle_language "+r.SubtitleLanguage)
	}
	return nil
}

// validSubtitleLang checks syntactic shape only ("en", "pt-BR"); it does not
// verify the code is an assigned language tag.
func validSubtitleLang(s string) bool {
	if s == "" {
		return true
	}
	parts := strings.Split(s, "-")
	if len(parts) > 2 {
		return false
	}
	for _, p := range parts {
		if len(p) < 2 || len(p) > 3 {
			return false
		}
		for _, c := range p {
			if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
				return false
			}
		}
	}
	return true
}

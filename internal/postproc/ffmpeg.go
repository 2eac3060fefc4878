// Package postproc runs local ffmpeg transforms on fetched artifacts:
// container remux, audio transcode and subtitle embedding. Failures here are
// terminal for the request; the source media was already fetched.
package postproc

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/vidfetch/vidfetch/internal/data"
)

// audioCodecs maps target audio containers to ffmpeg encoders.
var audioCodecs = map[data.AudioFormat]string{
	data.AudioMP3:    "libmp3lame",
	data.AudioM4A:    "aac",
	data.AudioOpus:   "libopus",
	data.AudioVorbis: "libvorbis",
	data.AudioFLAC:   "flac",
	data.AudioWAV:    "pcm_s16le",
}

type FFmpeg struct {
	bin string
	log *slog.Logger
}

func New(bin string, log *slog.Logger) *FFmpeg {
	if bin == "" {
		bin = "ffmpeg"
	}
	if log == nil {
		log = slog.Default()
	}
	return &FFmpeg{bin: bin, log: log}
}

// Remux rewrites src into the requested container without re-encoding.
// Returns the new path; src is removed on success.
func (f *FFmpeg) Remux(ctx context.Context, src string, container data.VideoFormat) (string, error) {
	out := replaceExt(src, string(container))
	if out == src {
		return src, nil
	}
	if err := f.run(ctx, "-i", src, "-c", "copy", "-y", out); err != nil {
		return "", err
	}
	_ = os.Remove(src)
	return out, nil
}

// TranscodeAudio extracts the audio track from src into the requested
// container at the requested bitrate. Returns the new path; src is removed
// on success.
func (f *FFmpeg) TranscodeAudio(ctx context.Context, src string, format data.AudioFormat, quality data.AudioQuality) (string, error) {
	codec, ok := audioCodecs[format]
	if !ok {
		return "", fmt.Errorf("no encoder for audio format %s", format)
	}
	out := replaceExt(src, string(format))
	if out == src {
		out = strings.TrimSuffix(src, filepath.Ext(src)) + "-audio." + string(format)
	}
	args := []string{"-i", src, "-vn", "-acodec", codec}
	if format != data.AudioFLAC && format != data.AudioWAV {
		args = append(args, "-b:a", string(quality))
	}
	args = append(args, "-y", out)
	if err := f.run(ctx, args...); err != nil {
		return "", err
	}
	_ = os.Remove(src)
	return out, nil
}

// EmbedSubtitles muxes the subtitle file into src as a soft track. MP4
// containers need the mov_text codec; everything else takes the stream
// as-is.
func (f *FFmpeg) EmbedSubtitles(ctx context.Context, src, subtitlePath, language string) (string, error) {
	out := strings.TrimSuffix(src, filepath.Ext(src)) + "-subbed" + filepath.Ext(src)
	args := []string{
		"-i", src,
		"-i", subtitlePath,
		"-map", "0", "-map", "1:0",
		"-c", "copy",
	}
	if strings.EqualFold(filepath.Ext(src), ".mp4") {
		args = append(args, "-c:s", "mov_text")
	}
	if language != "" {
		args = append(args, "-metadata:s:s:0", "language="+language)
	}
	args = append(args, "-y", out)
	if err := f.run(ctx, args...); err != nil {
		return "", err
	}
	if err := os.Rename(out, src); err != nil {
		return "", err
	}
	return src, nil
}

func (f *FFmpeg) run(ctx context.Context, args ...string) error {
	full := append([]string{"-hide_banner", "-loglevel", "error", "-nostdin"}, args...)
	cmd := exec.CommandContext(ctx, f.bin, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	f.log.Debug("ffmpeg", "args", strings.Join(args, " "))
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			return fmt.Errorf("ffmpeg: %w", err)
		}
		return fmt.Errorf("ffmpeg: %w: %s", err, tail(detail, 500))
	}
	return nil
}

func replaceExt(path, ext string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + "." + ext
}

// tail keeps the last n bytes of s; ffmpeg puts the useful error last.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

package ytdlp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"

	"github.com/vidfetch/vidfetch/internal/data"
)

// infoDump is the subset of yt-dlp's -J output the formats endpoint needs.
type infoDump struct {
	ID        string  `json:"id"`
	Title     string  `json:"title"`
	Thumbnail string  `json:"thumbnail"`
	Duration  float64 `json:"duration"`
	Uploader  string  `json:"uploader"`
	Formats   []struct {
		FormatID   string   `json:"format_id"`
		Ext        string   `json:"ext"`
		Resolution string   `json:"resolution"`
		Filesize   int64    `json:"filesize"`
		VCodec     string   `json:"vcodec"`
		ACodec     string   `json:"acodec"`
		FPS        float64  `json:"fps"`
		Quality    *float64 `json:"quality"`
	} `json:"formats"`
}

// Probe lists the available formats for url without downloading anything.
func (a *Adapter) Probe(ctx context.Context, url string) (*data.FormatList, error) {
	cmd := exec.CommandContext(ctx, a.bin, url, "-J", "--no-playlist", "--no-warnings")

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	var bufferedStderr bytes.Buffer
	go func() {
		_, _ = io.Copy(&bufferedStderr, stderr)
	}()

	a.log.Info("probing formats", "url", url)

	var dump infoDump
	decodeErr := json.NewDecoder(stdout).Decode(&dump)
	if err := cmd.Wait(); err != nil {
		return nil, errors.New(bufferedStderr.String())
	}
	if decodeErr != nil {
		return nil, decodeErr
	}

	out := &data.FormatList{
		Success:   true,
		VideoID:   dump.ID,
		Title:     dump.Title,
		Thumbnail: dump.Thumbnail,
		Duration:  int64(dump.Duration),
		Uploader:  dump.Uploader,
		Formats:   make([]data.FormatInfo, 0, len(dump.Formats)),
	}
	for _, f := range dump.Formats {
		info := data.FormatInfo{
			FormatID:   f.FormatID,
			Extension:  f.Ext,
			Resolution: f.Resolution,
			Filesize:   f.Filesize,
			VCodec:     f.VCodec,
			ACodec:     f.ACodec,
			FPS:        f.FPS,
		}
		if f.Quality != nil {
			info.Quality = fmt.Sprintf("%g", *f.Quality)
		}
		out.Formats = append(out.Formats, info)
	}
	return out, nil
}

// Package ytdlp is the primary fetch backend, driving the yt-dlp binary
// through its command builder. yt-dlp performs its own merging, audio
// extraction and subtitle embedding, so entries resolved for this backend
// never need external post-processing.
package ytdlp

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidfetch/vidfetch/internal/data"
	"github.com/vidfetch/vidfetch/internal/fetch"
	"github.com/vidfetch/vidfetch/internal/metrics"
)

type Adapter struct {
	bin string
	rep fetch.Reporter
	log *slog.Logger
}

func New(bin string, rep fetch.Reporter, log *slog.Logger) *Adapter {
	if bin == "" {
		bin = "yt-dlp"
	}
	if rep == nil {
		rep = fetch.NopReporter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{bin: bin, rep: rep, log: log}
}

var _ fetch.Backend = (*Adapter)(nil)
var _ fetch.Prober = (*Adapter)(nil)

func (a *Adapter) Name() string { return "ytdlp" }

// Available reports whether the yt-dlp binary is resolvable.
func (a *Adapter) Available(_ context.Context) bool {
	_, err := exec.LookPath(a.bin)
	return err == nil
}

// Fetch downloads into req.Dir and returns the produced artifact. Backend
// failures are wrapped Recoverable so the orchestrator can fall back.
func (a *Adapter) Fetch(ctx context.Context, req fetch.Request) (*data.DownloadResult, error) {
	timer := prometheus.NewTimer(metrics.FetchLatency.WithLabelValues(a.Name()))
	defer timer.ObserveDuration()

	dl := ytdlp.New().
		NoPlaylist().
		NoWarnings().
		RestrictFilenames().
		ForceOverwrites().
		Output(filepath.Join(req.Dir, "%(title)s.%(ext)s"))

	if a.bin != "yt-dlp" {
		dl = dl.SetExecutable(a.bin)
	}

	spec := req.Spec
	if spec.FormatType == data.FormatAudio {
		dl = dl.Format(req.Entry.Selector).
			ExtractAudio().
			AudioFormat(string(spec.AudioFormat)).
			AudioQuality(strings.TrimSuffix(string(spec.AudioQuality), "k"))
	} else {
		dl = dl.Format(req.Entry.Selector).
			RecodeVideo(string(spec.VideoFormat))
		if spec.DownloadSubtitles {
			dl = dl.WriteSubs().SubLangs(spec.SubtitleLanguage)
			if spec.EmbedSubtitles {
				dl = dl.EmbedSubs()
			}
		}
	}

	dl.ProgressFunc(500*time.Millisecond, func(update ytdlp.ProgressUpdate) {
		a.rep.Report(fetch.Event{
			RequestID: req.ReqID,
			URL:       req.URL,
			Backend:   a.Name(),
			Type:      fetch.EventProgress,
			Progress: &fetch.Progress{
				Completed: int64(update.DownloadedBytes),
				Total:     int64(update.TotalBytes),
			},
		})
	})

	a.log.Info("fetching with yt-dlp", "url", req.URL, "selector", req.Entry.Selector)

	res, err := dl.Run(ctx, req.URL)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fetch.Recoverablef("yt-dlp: %w", err)
	}

	result := &data.DownloadResult{Backend: a.Name()}
	if info, ierr := res.GetExtractedInfo(); ierr == nil && len(info) > 0 {
		first := info[0]
		if first.Filename != nil {
			result.Path = *first.Filename
		}
		if first.Title != nil {
			result.Title = *first.Title
		}
		if first.Uploader != nil {
			result.Uploader = *first.Uploader
		}
		if first.Thumbnail != nil {
			result.Thumbnail = *first.Thumbnail
		}
		if first.Duration != nil {
			result.Duration = int64(*first.Duration)
		}
	}

	// The reported filename can carry the pre-postprocess extension; trust
	// the filesystem over the info dict.
	path, size, err := locateArtifact(req.Dir, result.Path, spec.TargetExtension())
	if err != nil {
		return nil, fetch.Recoverablef("yt-dlp: %w", err)
	}
	result.Path = path
	result.Filename = filepath.Base(path)
	result.Size = size
	if result.Title == "" {
		result.Title = strings.TrimSuffix(result.Filename, filepath.Ext(result.Filename))
	}

	a.log.Info("yt-dlp fetch complete", "path", result.Path, "size", result.Size)
	return result, nil
}

// locateArtifact resolves the produced file: prefer the reported path with
// the target extension, then the reported path itself, then the largest
// regular file in the staging dir.
func locateArtifact(dir, reported, want string) (string, int64, error) {
	if reported != "" {
		swapped := strings.TrimSuffix(reported, filepath.Ext(reported)) + want
		for _, p := range []string{swapped, reported} {
			if info, err := os.Stat(p); err == nil && info.Mode().IsRegular() {
				return p, info.Size(), nil
			}
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", 0, err
	}
	var best string
	var bestSize int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		if info.Size() > bestSize {
			best = filepath.Join(dir, e.Name())
			bestSize = info.Size()
		}
	}
	if best == "" {
		return "", 0, os.ErrNotExist
	}
	return best, bestSize, nil
}

// Package service holds the download orchestrator: the state machine that
// drives a request through format resolution, the backend fallback chain,
// post-processing and storage handoff.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/vidfetch/vidfetch/internal/data"
	"github.com/vidfetch/vidfetch/internal/fetch"
	"github.com/vidfetch/vidfetch/internal/format"
	"github.com/vidfetch/vidfetch/internal/metrics"
	"github.com/vidfetch/vidfetch/internal/reqid"
	"github.com/vidfetch/vidfetch/internal/storage"
)

// Download is the orchestrator surface the HTTP layer talks to.
type Download interface {
	Download(ctx context.Context, req *data.DownloadRequest) (*Outcome, error)
	Formats(ctx context.Context, url string) (*data.FormatList, error)
	BackendHealth(ctx context.Context) map[string]bool
}

// Outcome is the terminal state of one successful download. The artifact at
// Result.Path exists unless Uploaded is set, in which case PublicURL is the
// only reference. A non-nil UploadErr means the requested remote store
// rejected the artifact and the local copy was kept as a fallback.
type Outcome struct {
	Result    *data.DownloadResult
	PublicURL string
	Uploaded  bool
	UploadErr error
}

// PostProcessor applies local transforms to a fetched artifact. Each call
// returns the (possibly new) artifact path.
type PostProcessor interface {
	Remux(ctx context.Context, src string, container data.VideoFormat) (string, error)
	TranscodeAudio(ctx context.Context, src string, format data.AudioFormat, quality data.AudioQuality) (string, error)
	EmbedSubtitles(ctx context.Context, src, subtitlePath, language string) (string, error)
}

type download struct {
	resolver *format.Resolver
	backends *fetch.Registry
	stores   *storage.Registry
	post     PostProcessor
	rep      fetch.Reporter
	log      *slog.Logger

	artifactDir string
}

// StagingDirName is the artifact-dir subdirectory in-flight fetches write
// into. Retention never descends into it.
const StagingDirName = ".staging"

func NewDownload(resolver *format.Resolver, backends *fetch.Registry, stores *storage.Registry, post PostProcessor, rep fetch.Reporter, log *slog.Logger, artifactDir string) Download {
	if rep == nil {
		rep = fetch.NopReporter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &download{
		resolver:    resolver,
		backends:    backends,
		stores:      stores,
		post:        post,
		rep:         rep,
		log:         log,
		artifactDir: artifactDir,
	}
}

// Download runs one request end to end. The request must already be
// normalized and validated.
func (ds *download) Download(ctx context.Context, req *data.DownloadRequest) (*Outcome, error) {
	metrics.ActiveDownloads.Inc()
	defer metrics.ActiveDownloads.Dec()

	id, ok := reqid.From(ctx)
	if !ok {
		id = uuid.NewString()
	}
	log := ds.log.With("request_id", id, "url", req.VideoURL)

	ds.report(fetch.Event{RequestID: id, URL: req.VideoURL, Type: fetch.EventResolving})
	spec, err := ds.resolver.Resolve(req)
	if err != nil {
		ds.report(fetch.Event{RequestID: id, URL: req.VideoURL, Type: fetch.EventFailed, Detail: err.Error()})
		return nil, err
	}

	staging := filepath.Join(ds.artifactDir, StagingDirName, id)
	if err := os.MkdirAll(staging, 0o755); err != nil {
		return nil, data.WrapError(data.KindDownloadFailed, "cannot create staging directory", err)
	}
	defer func() { _ = os.RemoveAll(staging) }()

	res, entry, err := ds.fetch(ctx, id, req.VideoURL, spec, staging, log)
	if err != nil {
		ds.report(fetch.Event{RequestID: id, URL: req.VideoURL, Type: fetch.EventFailed, Detail: err.Error()})
		return nil, err
	}

	if err := ds.process(ctx, id, req.VideoURL, spec, entry, res, staging); err != nil {
		ds.report(fetch.Event{RequestID: id, URL: req.VideoURL, Type: fetch.EventFailed, Detail: err.Error()})
		return nil, err
	}

	if err := ds.finalize(id, res); err != nil {
		ds.report(fetch.Event{RequestID: id, URL: req.VideoURL, Type: fetch.EventFailed, Detail: err.Error()})
		return nil, err
	}

	out := &Outcome{Result: res}
	// Binary responses stream the local file back to the caller, so the
	// storage target only applies to filepath responses.
	if req.ResponseType == data.ResponseFilepath {
		ds.store(ctx, id, req, res, out, log)
	}

	ds.report(fetch.Event{RequestID: id, URL: req.VideoURL, Backend: res.Backend, Type: fetch.EventComplete, Detail: res.Filename})
	log.Info("download complete", "backend", res.Backend, "filename", res.Filename, "size", res.Size)
	return out, nil
}

// fetch walks the fallback chain until a backend succeeds. A non-recoverable
// error stops the chain immediately; exhausting it surfaces the last error
// as KindDownloadFailed.
func (ds *download) fetch(ctx context.Context, id, url string, spec *format.Spec, staging string, log *slog.Logger) (*data.DownloadResult, format.Entry, error) {
	var lastErr error
	for i, entry := range spec.Entries {
		if i > 0 {
			metrics.BackendFallbacks.Inc()
			ds.report(fetch.Event{RequestID: id, URL: url, Backend: entry.Backend, Type: fetch.EventFallback, Detail: lastErr.Error()})
			log.Warn("falling back", "backend", entry.Backend, "previous_error", lastErr)
		}

		backend := ds.backends.Get(entry.Backend)
		if backend == nil {
			lastErr = fmt.Errorf("backend %s not registered", entry.Backend)
			metrics.DownloadAttempts.WithLabelValues(entry.Backend, "failure").Inc()
			continue
		}

		ds.report(fetch.Event{RequestID: id, URL: url, Backend: entry.Backend, Type: fetch.EventAttempting, Detail: entry.Selector})
		res, err := backend.Fetch(ctx, fetch.Request{
			URL:   url,
			Entry: entry,
			Spec:  spec,
			Dir:   staging,
			ReqID: id,
		})
		if err == nil {
			metrics.DownloadAttempts.WithLabelValues(entry.Backend, "success").Inc()
			ds.report(fetch.Event{RequestID: id, URL: url, Backend: entry.Backend, Type: fetch.EventFetched, Detail: res.Filename})
			return res, entry, nil
		}

		metrics.DownloadAttempts.WithLabelValues(entry.Backend, "failure").Inc()
		if !fetch.IsRecoverable(err) {
			if ctx.Err() != nil {
				return nil, format.Entry{}, err
			}
			return nil, format.Entry{}, data.WrapError(data.KindDownloadFailed, "download aborted", err)
		}
		log.Warn("backend attempt failed", "backend", entry.Backend, "error", err)
		lastErr = err
	}
	return nil, format.Entry{}, data.WrapError(data.KindDownloadFailed, "all backends failed", lastErr)
}

// process applies the post-fetch transforms the resolved entry asked for.
// Any failure here is terminal; no fallback re-fetch is attempted.
func (ds *download) process(ctx context.Context, id, url string, spec *format.Spec, entry format.Entry, res *data.DownloadResult, staging string) error {
	if !entry.Transcode && !entry.Remux && !entry.EmbedSubs {
		return nil
	}
	ds.report(fetch.Event{RequestID: id, URL: url, Backend: res.Backend, Type: fetch.EventProcessing})

	var err error
	path := res.Path
	switch {
	case entry.Transcode:
		path, err = ds.post.TranscodeAudio(ctx, path, spec.AudioFormat, spec.AudioQuality)
	case entry.Remux:
		path, err = ds.post.Remux(ctx, path, spec.VideoFormat)
	}
	if err != nil {
		return data.WrapError(data.KindPostProcessingFailed, "post-processing failed", err)
	}

	if entry.EmbedSubs && spec.EmbedSubtitles {
		if sub := findSubtitle(staging, path); sub != "" {
			path, err = ds.post.EmbedSubtitles(ctx, path, sub, spec.SubtitleLanguage)
			if err != nil {
				return data.WrapError(data.KindPostProcessingFailed, "subtitle embed failed", err)
			}
		}
	}

	info, err := os.Stat(path)
	if err != nil {
		return data.WrapError(data.KindPostProcessingFailed, "processed artifact missing", err)
	}
	res.Path = path
	res.Filename = filepath.Base(path)
	res.Size = info.Size()
	return nil
}

// finalize moves the artifact out of staging into the artifact directory
// under a collision-free name. From here on the retention safety margin is
// what protects the file.
func (ds *download) finalize(id string, res *data.DownloadResult) error {
	name := shortID(id) + "_" + res.Filename
	final := filepath.Join(ds.artifactDir, name)
	if err := os.Rename(res.Path, final); err != nil {
		return data.WrapError(data.KindDownloadFailed, "cannot move artifact", err)
	}
	res.Path = final
	res.Filename = name
	return nil
}

// store hands the artifact to the requested storage target. Upload failure
// is not fatal: the local copy stays and the outcome records the error.
func (ds *download) store(ctx context.Context, id string, req *data.DownloadRequest, res *data.DownloadResult, out *Outcome, log *slog.Logger) {
	target := req.StorageTarget
	if target == "" {
		target = "local"
	}
	provider := ds.stores.Get(target)
	if provider == nil {
		out.UploadErr = data.NewError(data.KindStorageUnavailable, "unknown storage target "+target)
		return
	}

	ds.report(fetch.Event{RequestID: id, URL: req.VideoURL, Type: fetch.EventUploading, Detail: target})
	url, err := provider.Put(ctx, res.Path, res.Filename)
	if err != nil {
		if data.KindOf(err) == "" {
			err = data.WrapError(data.KindUploadFailed, "upload to "+target+" failed", err)
		}
		log.Warn("upload failed, keeping local artifact", "target", target, "error", err)
		out.UploadErr = err
		return
	}

	out.PublicURL = url
	// A provider that returns a reference other than the local path has
	// taken custody of the bytes; the local copy is no longer needed.
	if url != res.Path {
		out.Uploaded = true
		if err := os.Remove(res.Path); err != nil {
			log.Warn("cannot remove uploaded artifact", "path", res.Path, "error", err)
		}
	}
}

// Formats probes the first backend that can enumerate formats for the URL,
// falling through the chain the same way downloads do.
func (ds *download) Formats(ctx context.Context, url string) (*data.FormatList, error) {
	var lastErr error
	for _, name := range ds.backends.Names() {
		prober, ok := ds.backends.Get(name).(fetch.Prober)
		if !ok {
			continue
		}
		list, err := prober.Probe(ctx, url)
		if err == nil {
			return list, nil
		}
		if ctx.Err() != nil {
			return nil, err
		}
		ds.log.Warn("format probe failed", "backend", name, "url", url, "error", err)
		lastErr = err
	}
	if lastErr == nil {
		lastErr = data.NewError(data.KindDownloadFailed, "no backend can probe formats")
	}
	return nil, lastErr
}

// BackendHealth reports per-backend availability for the health endpoint.
func (ds *download) BackendHealth(ctx context.Context) map[string]bool {
	health := make(map[string]bool)
	for _, name := range ds.backends.Names() {
		health[name] = ds.backends.Get(name).Available(ctx)
	}
	return health
}

func (ds *download) report(e fetch.Event) { ds.rep.Report(e) }

// findSubtitle looks for a subtitle sidecar next to the artifact: same stem,
// a subtitle extension, optionally with a language tag in between.
func findSubtitle(dir, artifact string) string {
	stem := strings.TrimSuffix(filepath.Base(artifact), filepath.Ext(artifact))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		ext := strings.ToLower(filepath.Ext(name))
		if ext != ".vtt" && ext != ".srt" && ext != ".ass" {
			continue
		}
		if strings.HasPrefix(name, stem) {
			return filepath.Join(dir, name)
		}
	}
	return ""
}

// shortID keeps filenames readable while still avoiding collisions.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

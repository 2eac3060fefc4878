package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/vidfetch/vidfetch/internal/data"
	"github.com/vidfetch/vidfetch/internal/fetch"
	"github.com/vidfetch/vidfetch/internal/format"
	"github.com/vidfetch/vidfetch/internal/storage"
)

type stubBackend struct {
	name    string
	fetchFn func(ctx context.Context, req fetch.Request) (*data.DownloadResult, error)
	probeFn func(ctx context.Context, url string) (*data.FormatList, error)

	fetched bool
	probed  bool
}

func (s *stubBackend) Name() string                     { return s.name }
func (s *stubBackend) Available(_ context.Context) bool { return true }

func (s *stubBackend) Fetch(ctx context.Context, req fetch.Request) (*data.DownloadResult, error) {
	s.fetched = true
	return s.fetchFn(ctx, req)
}

func (s *stubBackend) Probe(ctx context.Context, url string) (*data.FormatList, error) {
	s.probed = true
	if s.probeFn == nil {
		return nil, errors.New("probe not supported")
	}
	return s.probeFn(ctx, url)
}

// writeArtifact is the success-path fetchFn: it drops a file into req.Dir
// the way a real backend would.
func writeArtifact(name, content string) func(ctx context.Context, req fetch.Request) (*data.DownloadResult, error) {
	return func(_ context.Context, req fetch.Request) (*data.DownloadResult, error) {
		path := filepath.Join(req.Dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
		return &data.DownloadResult{
			Path:     path,
			Filename: name,
			Size:     int64(len(content)),
			Title:    "clip",
		}, nil
	}
}

type stubProvider struct {
	name  string
	url   string
	err   error
	local bool

	putPath string
}

func (s *stubProvider) Name() string { return s.name }

func (s *stubProvider) Put(_ context.Context, localPath, _ string) (string, error) {
	s.putPath = localPath
	if s.err != nil {
		return "", s.err
	}
	if s.local {
		return localPath, nil
	}
	return s.url, nil
}

type stubPost struct {
	remuxed    bool
	transcoded bool
	embedded   bool
	err        error
}

func (s *stubPost) Remux(_ context.Context, src string, container data.VideoFormat) (string, error) {
	s.remuxed = true
	if s.err != nil {
		return "", s.err
	}
	out := strings.TrimSuffix(src, filepath.Ext(src)) + "." + string(container)
	return out, os.Rename(src, out)
}

func (s *stubPost) TranscodeAudio(_ context.Context, src string, f data.AudioFormat, _ data.AudioQuality) (string, error) {
	s.transcoded = true
	if s.err != nil {
		return "", s.err
	}
	out := strings.TrimSuffix(src, filepath.Ext(src)) + "." + string(f)
	return out, os.Rename(src, out)
}

func (s *stubPost) EmbedSubtitles(_ context.Context, src, _, _ string) (string, error) {
	s.embedded = true
	return src, s.err
}

type eventSink struct{ events []fetch.Event }

func (s *eventSink) Report(e fetch.Event) { s.events = append(s.events, e) }

func (s *eventSink) types() []fetch.EventType {
	out := make([]fetch.EventType, len(s.events))
	for i, e := range s.events {
		out[i] = e.Type
	}
	return out
}

func silentLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRequest(t *testing.T, mutate func(*data.DownloadRequest)) *data.DownloadRequest {
	t.Helper()
	req := &data.DownloadRequest{VideoURL: "https://www.youtube.com/watch?v=dQw4w9WgXcQ"}
	if mutate != nil {
		mutate(req)
	}
	req.Normalize()
	if err := req.Validate(); err != nil {
		t.Fatalf("test request invalid: %v", err)
	}
	return req
}

func newService(t *testing.T, dir string, rep fetch.Reporter, post PostProcessor, providers []storage.Provider, backends ...fetch.Backend) Download {
	t.Helper()
	names := make([]string, len(backends))
	for i, b := range backends {
		names[i] = b.Name()
	}
	if providers == nil {
		providers = []storage.Provider{&stubProvider{name: "local", local: true}}
	}
	if post == nil {
		post = &stubPost{}
	}
	return NewDownload(
		format.NewResolver(names),
		fetch.NewRegistry(backends...),
		storage.NewRegistry(providers...),
		post, rep, silentLogger(), dir,
	)
}

func TestDownloadPrimarySucceeds(t *testing.T) {
	dir := t.TempDir()
	primary := &stubBackend{name: "ytdlp", fetchFn: writeArtifact("clip.mp4", "video")}
	secondary := &stubBackend{name: "progressive", fetchFn: writeArtifact("clip.mp4", "video")}

	svc := newService(t, dir, nil, nil, nil, primary, secondary)
	out, err := svc.Download(context.Background(), newRequest(t, nil))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if secondary.fetched {
		t.Error("secondary backend should not run when primary succeeds")
	}
	if !strings.HasSuffix(out.Result.Filename, "_clip.mp4") {
		t.Errorf("final filename %s should keep the artifact name with an id prefix", out.Result.Filename)
	}
	if filepath.Dir(out.Result.Path) != dir {
		t.Errorf("artifact %s should live in the artifact dir", out.Result.Path)
	}
	if _, err := os.Stat(out.Result.Path); err != nil {
		t.Errorf("artifact missing: %v", err)
	}

	if entries, _ := os.ReadDir(filepath.Join(dir, StagingDirName)); len(entries) != 0 {
		t.Errorf("staging should be cleaned up, found %d entries", len(entries))
	}
}

func TestDownloadFallsBackOnRecoverableError(t *testing.T) {
	dir := t.TempDir()
	primary := &stubBackend{name: "ytdlp", fetchFn: func(_ context.Context, _ fetch.Request) (*data.DownloadResult, error) {
		return nil, fetch.Recoverablef("extractor broke")
	}}
	secondary := &stubBackend{name: "progressive", fetchFn: writeArtifact("clip.mp4", "video")}
	sink := &eventSink{}

	svc := newService(t, dir, sink, nil, nil, primary, secondary)
	out, err := svc.Download(context.Background(), newRequest(t, nil))
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !primary.fetched || !secondary.fetched {
		t.Fatal("both backends should have been attempted")
	}
	if out.Result.Path == "" {
		t.Fatal("expected artifact from fallback backend")
	}

	var sawFallback bool
	for _, typ := range sink.types() {
		if typ == fetch.EventFallback {
			sawFallback = true
		}
	}
	if !sawFallback {
		t.Errorf("expected a Fallback event, got %v", sink.types())
	}
}

func TestDownloadNonRecoverableStopsChain(t *testing.T) {
	primary := &stubBackend{name: "ytdlp", fetchFn: func(_ context.Context, _ fetch.Request) (*data.DownloadResult, error) {
		return nil, errors.New("disk full")
	}}
	secondary := &stubBackend{name: "progressive", fetchFn: writeArtifact("clip.mp4", "video")}

	svc := newService(t, t.TempDir(), nil, nil, nil, primary, secondary)
	_, err := svc.Download(context.Background(), newRequest(t, nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if secondary.fetched {
		t.Error("secondary backend must not run after a non-recoverable failure")
	}
	if data.KindOf(err) != data.KindDownloadFailed {
		t.Errorf("kind = %s, want %s", data.KindOf(err), data.KindDownloadFailed)
	}
}

func TestDownloadAllBackendsFail(t *testing.T) {
	primary := &stubBackend{name: "ytdlp", fetchFn: func(_ context.Context, _ fetch.Request) (*data.DownloadResult, error) {
		return nil, fetch.Recoverablef("first down")
	}}
	secondary := &stubBackend{name: "progressive", fetchFn: func(_ context.Context, _ fetch.Request) (*data.DownloadResult, error) {
		return nil, fetch.Recoverablef("second down")
	}}

	svc := newService(t, t.TempDir(), nil, nil, nil, primary, secondary)
	_, err := svc.Download(context.Background(), newRequest(t, nil))
	if err == nil {
		t.Fatal("expected error")
	}
	if data.KindOf(err) != data.KindDownloadFailed {
		t.Errorf("kind = %s, want %s", data.KindOf(err), data.KindDownloadFailed)
	}
	if !strings.Contains(err.Error(), "second down") {
		t.Errorf("error should carry the last backend's failure: %v", err)
	}
	if strings.Contains(err.Error(), "first down") {
		t.Errorf("earlier backend failures belong in the log, not the error: %v", err)
	}
}

func TestDownloadPostProcessingFailureIsTerminal(t *testing.T) {
	primary := &stubBackend{name: "progressive", fetchFn: writeArtifact("clip.webm", "video")}
	post := &stubPost{err: errors.New("codec missing")}

	// mkv forces a remux on the progressive entry.
	req := newRequest(t, func(r *data.DownloadRequest) { r.VideoFormat = data.VideoMKV })

	svc := newService(t, t.TempDir(), nil, post, nil, primary)
	_, err := svc.Download(context.Background(), req)
	if err == nil {
		t.Fatal("expected error")
	}
	if data.KindOf(err) != data.KindPostProcessingFailed {
		t.Errorf("kind = %s, want %s", data.KindOf(err), data.KindPostProcessingFailed)
	}
	if !post.remuxed {
		t.Error("remux should have been attempted")
	}
}

func TestDownloadAudioTranscodeOnFallbackBackend(t *testing.T) {
	primary := &stubBackend{name: "progressive", fetchFn: writeArtifact("clip.mp4", "av")}
	post := &stubPost{}

	req := newRequest(t, func(r *data.DownloadRequest) { r.FormatType = data.FormatAudio })

	svc := newService(t, t.TempDir(), nil, post, nil, primary)
	out, err := svc.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !post.transcoded {
		t.Error("audio requests through the progressive backend must transcode")
	}
	if !strings.HasSuffix(out.Result.Filename, ".mp3") {
		t.Errorf("final filename %s should carry the audio container", out.Result.Filename)
	}
}

func TestDownloadEmbedsSubtitleSidecar(t *testing.T) {
	primary := &stubBackend{name: "progressive", fetchFn: func(_ context.Context, req fetch.Request) (*data.DownloadResult, error) {
		res, err := writeArtifact("clip.mp4", "video")(nil, req)
		if err != nil {
			return nil, err
		}
		if err := os.WriteFile(filepath.Join(req.Dir, "clip.en.vtt"), []byte("WEBVTT"), 0o644); err != nil {
			return nil, err
		}
		return res, nil
	}}
	post := &stubPost{}

	req := newRequest(t, func(r *data.DownloadRequest) {
		r.DownloadSubtitles = true
		r.EmbedSubtitles = true
	})

	svc := newService(t, t.TempDir(), nil, post, nil, primary)
	if _, err := svc.Download(context.Background(), req); err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !post.embedded {
		t.Error("subtitle sidecar should have been embedded")
	}
}

func TestDownloadUploadsForFilepathResponse(t *testing.T) {
	dir := t.TempDir()
	primary := &stubBackend{name: "ytdlp", fetchFn: writeArtifact("clip.mp4", "video")}
	remote := &stubProvider{name: "supabase", url: "https://cdn.example.com/clip.mp4"}

	req := newRequest(t, func(r *data.DownloadRequest) {
		r.ResponseType = data.ResponseFilepath
		r.StorageTarget = "supabase"
	})

	svc := newService(t, dir, nil, nil, []storage.Provider{remote}, primary)
	out, err := svc.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if !out.Uploaded || out.PublicURL != remote.url {
		t.Errorf("outcome = %+v, want uploaded with public URL", out)
	}
	if _, err := os.Stat(out.Result.Path); !errors.Is(err, os.ErrNotExist) {
		t.Error("local artifact should be removed after a successful remote upload")
	}
}

func TestDownloadKeepsLocalOnUploadFailure(t *testing.T) {
	dir := t.TempDir()
	primary := &stubBackend{name: "ytdlp", fetchFn: writeArtifact("clip.mp4", "video")}
	remote := &stubProvider{name: "supabase", err: data.NewError(data.KindUploadFailed, "bucket gone")}

	req := newRequest(t, func(r *data.DownloadRequest) {
		r.ResponseType = data.ResponseFilepath
		r.StorageTarget = "supabase"
	})

	svc := newService(t, dir, nil, nil, []storage.Provider{remote}, primary)
	out, err := svc.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download should succeed despite upload failure: %v", err)
	}
	if out.UploadErr == nil {
		t.Fatal("expected UploadErr to be recorded")
	}
	if data.KindOf(out.UploadErr) != data.KindUploadFailed {
		t.Errorf("kind = %s, want %s", data.KindOf(out.UploadErr), data.KindUploadFailed)
	}
	if _, err := os.Stat(out.Result.Path); err != nil {
		t.Errorf("local artifact must survive upload failure: %v", err)
	}
}

func TestDownloadBinaryResponseSkipsUpload(t *testing.T) {
	primary := &stubBackend{name: "ytdlp", fetchFn: writeArtifact("clip.mp4", "video")}
	remote := &stubProvider{name: "supabase", url: "https://cdn.example.com/clip.mp4"}

	req := newRequest(t, func(r *data.DownloadRequest) { r.StorageTarget = "supabase" })

	svc := newService(t, t.TempDir(), nil, nil, []storage.Provider{remote}, primary)
	out, err := svc.Download(context.Background(), req)
	if err != nil {
		t.Fatalf("Download: %v", err)
	}
	if remote.putPath != "" {
		t.Error("binary responses must not upload")
	}
	if out.Uploaded || out.PublicURL != "" {
		t.Errorf("outcome = %+v, want local-only", out)
	}
}

func TestFormatsFallsThroughProbers(t *testing.T) {
	primary := &stubBackend{name: "ytdlp", probeFn: func(_ context.Context, _ string) (*data.FormatList, error) {
		return nil, errors.New("binary missing")
	}}
	secondary := &stubBackend{name: "progressive", probeFn: func(_ context.Context, _ string) (*data.FormatList, error) {
		return &data.FormatList{Success: true, VideoID: "dQw4w9WgXcQ"}, nil
	}}

	svc := newService(t, t.TempDir(), nil, nil, nil, primary, secondary)
	list, err := svc.Formats(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	if err != nil {
		t.Fatalf("Formats: %v", err)
	}
	if !primary.probed || !secondary.probed {
		t.Error("both probers should have been tried")
	}
	if list.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("unexpected list %+v", list)
	}
}

func TestBackendHealth(t *testing.T) {
	primary := &stubBackend{name: "ytdlp"}
	secondary := &stubBackend{name: "progressive"}

	svc := newService(t, t.TempDir(), nil, nil, nil, primary, secondary)
	health := svc.BackendHealth(context.Background())
	if len(health) != 2 || !health["ytdlp"] || !health["progressive"] {
		t.Errorf("health = %v", health)
	}
}

func TestDownloadEventLifecycle(t *testing.T) {
	primary := &stubBackend{name: "ytdlp", fetchFn: writeArtifact("clip.mp4", "video")}
	sink := &eventSink{}

	svc := newService(t, t.TempDir(), sink, nil, nil, primary)
	if _, err := svc.Download(context.Background(), newRequest(t, nil)); err != nil {
		t.Fatalf("Download: %v", err)
	}

	want := []fetch.EventType{fetch.EventResolving, fetch.EventAttempting, fetch.EventFetched, fetch.EventComplete}
	got := sink.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

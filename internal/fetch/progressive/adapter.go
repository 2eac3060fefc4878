// Package progressive is the fallback fetch backend. It talks to the site's
// player API directly and downloads a single progressive (muxed audio+video)
// stream over plain HTTP, so it needs no external binary but only reaches the
// renditions the site serves progressively.
package progressive

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vidfetch/vidfetch/internal/data"
	"github.com/vidfetch/vidfetch/internal/fetch"
	"github.com/vidfetch/vidfetch/internal/metrics"
)

type Adapter struct {
	http *http.Client
	rep  fetch.Reporter
	log  *slog.Logger

	// playerURL is overridable in tests.
	playerURL string
}

func New(client *http.Client, rep fetch.Reporter, log *slog.Logger) *Adapter {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Minute}
	}
	if rep == nil {
		rep = fetch.NopReporter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{http: client, rep: rep, log: log, playerURL: playerEndpoint}
}

var _ fetch.Backend = (*Adapter)(nil)
var _ fetch.Prober = (*Adapter)(nil)

func (a *Adapter) Name() string { return "progressive" }

// Available is always true: the backend has no local prerequisites.
func (a *Adapter) Available(_ context.Context) bool { return true }

// Fetch resolves the player response, picks the stream matching the entry
// selector and writes it into req.Dir. Failures other than cancellation are
// wrapped Recoverable.
func (a *Adapter) Fetch(ctx context.Context, req fetch.Request) (*data.DownloadResult, error) {
	timer := prometheus.NewTimer(metrics.FetchLatency.WithLabelValues(a.Name()))
	defer timer.ObserveDuration()

	sel, err := parseSelector(req.Entry.Selector)
	if err != nil {
		return nil, err
	}

	id, err := videoID(req.URL)
	if err != nil {
		return nil, fetch.Recoverablef("progressive: %v", err)
	}

	pr, err := a.player(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fetch.Recoverablef("progressive: %v", err)
	}

	st, err := pickStream(pr, sel)
	if err != nil {
		return nil, fetch.Recoverablef("progressive: %v", err)
	}
	a.log.Debug("picked progressive stream",
		slog.String("request_id", req.ReqID),
		slog.Int("itag", st.Itag),
		slog.String("quality", st.QualityLabel),
		slog.String("ext", st.ext()))

	name := sanitizeFilename(pr.VideoDetails.Title) + "." + st.ext()
	path := filepath.Join(req.Dir, name)
	size, err := a.download(ctx, req, st, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fetch.Recoverablef("progressive: %v", err)
	}

	return &data.DownloadResult{
		Path:      path,
		Filename:  name,
		Size:      size,
		Title:     pr.VideoDetails.Title,
		Duration:  pr.duration(),
		Uploader:  pr.VideoDetails.Author,
		Thumbnail: pr.thumbnail(),
		Backend:   a.Name(),
	}, nil
}

// Probe lists the streams the player reports without downloading anything.
func (a *Adapter) Probe(ctx context.Context, url string) (*data.FormatList, error) {
	id, err := videoID(url)
	if err != nil {
		return nil, data.WrapError(data.KindInvalidFormatRequest, "unrecognized video url", err)
	}
	pr, err := a.player(ctx, id)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, data.WrapError(data.KindDownloadFailed, "format probe failed", err)
	}

	list := &data.FormatList{
		Success:   true,
		VideoID:   pr.VideoDetails.VideoID,
		Title:     pr.VideoDetails.Title,
		Thumbnail: pr.thumbnail(),
		Duration:  pr.duration(),
		Uploader:  pr.VideoDetails.Author,
	}
	for _, st := range append(pr.StreamingData.Formats, pr.StreamingData.AdaptiveFormats...) {
		list.Formats = append(list.Formats, data.FormatInfo{
			FormatID:   fmt.Sprintf("%d", st.Itag),
			Extension:  st.ext(),
			Resolution: st.QualityLabel,
			Filesize:   st.size(),
			Quality:    st.AudioQuality,
		})
	}
	return list, nil
}

// selector is the parsed form of an entry selector:
//
//	progressive:res=720p,ext=mp4
//	progressive:ext=mp4,order=desc
//	audio:best
type selector struct {
	audio bool
	res   int
	ext   string
	desc  bool
}

func parseSelector(raw string) (selector, error) {
	kind, args, _ := strings.Cut(raw, ":")
	switch kind {
	case "audio":
		return selector{audio: true}, nil
	case "progressive":
	default:
		return selector{}, fmt.Errorf("progressive: unsupported selector %q", raw)
	}

	sel := selector{desc: true}
	for _, part := range strings.Split(args, ",") {
		k, v, ok := strings.Cut(part, "=")
		if !ok {
			return selector{}, fmt.Errorf("progressive: malformed selector %q", raw)
		}
		switch k {
		case "res":
			sel.res = (stream{QualityLabel: v}).height()
			if sel.res == 0 {
				return selector{}, fmt.Errorf("progressive: bad resolution in %q", raw)
			}
		case "ext":
			sel.ext = v
		case "order":
			sel.desc = v != "asc"
		default:
			return selector{}, fmt.Errorf("progressive: unknown key %q in %q", k, raw)
		}
	}
	return sel, nil
}

// pickStream selects the best candidate for sel. Container preference is
// soft: when no progressive stream carries the requested extension the
// closest match in another container wins and a later remux fixes it up.
func pickStream(pr *playerResponse, sel selector) (stream, error) {
	if sel.audio {
		return pickAudio(pr)
	}

	muxed := pr.StreamingData.Formats
	if len(muxed) == 0 {
		return stream{}, fmt.Errorf("no progressive streams available")
	}

	candidates := muxed
	if sel.ext != "" {
		var filtered []stream
		for _, st := range muxed {
			if st.ext() == sel.ext {
				filtered = append(filtered, st)
			}
		}
		if len(filtered) > 0 {
			candidates = filtered
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].height() != candidates[j].height() {
			return candidates[i].height() > candidates[j].height()
		}
		return candidates[i].Bitrate > candidates[j].Bitrate
	})

	if sel.res > 0 {
		// Highest rendition not exceeding the requested height, matching
		// what users expect from a "720p" tier when 720p itself is absent.
		for _, st := range candidates {
			if st.height() <= sel.res {
				return st, nil
			}
		}
		return candidates[len(candidates)-1], nil
	}
	if sel.desc {
		return candidates[0], nil
	}
	return candidates[len(candidates)-1], nil
}

// pickAudio prefers the highest-bitrate audio-only stream and falls back to
// the best muxed stream when the player reports none.
func pickAudio(pr *playerResponse) (stream, error) {
	var best stream
	for _, st := range pr.StreamingData.AdaptiveFormats {
		if !strings.HasPrefix(st.MimeType, "audio/") {
			continue
		}
		if st.Bitrate > best.Bitrate {
			best = st
		}
	}
	if best.URL != "" {
		return best, nil
	}
	return pickStream(pr, selector{desc: true})
}

func (a *Adapter) download(ctx context.Context, req fetch.Request, st stream, path string) (int64, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, st.URL, nil)
	if err != nil {
		return 0, err
	}
	resp, err := a.http.Do(httpReq)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("stream http %d", resp.StatusCode)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, err
	}

	total := st.size()
	if total == 0 {
		total = resp.ContentLength
	}
	n, err := io.Copy(f, &progressReader{
		r:     resp.Body,
		total: total,
		req:   req,
		rep:   a.rep,
		name:  a.Name(),
	})
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return 0, err
	}
	return n, nil
}

// progressReader emits throttled Progress events while the body streams to
// disk.
type progressReader struct {
	r     io.Reader
	total int64
	req   fetch.Request
	rep   fetch.Reporter
	name  string

	done int64
	last time.Time
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.done += int64(n)
	if now := time.Now(); now.Sub(p.last) >= time.Second {
		p.last = now
		p.rep.Report(fetch.Event{
			RequestID: p.req.ReqID,
			URL:       p.req.URL,
			Backend:   p.name,
			Type:      fetch.EventProgress,
			Progress:  &fetch.Progress{Completed: p.done, Total: p.total},
		})
	}
	return n, err
}

// sanitizeFilename strips path separators and characters that commonly break
// filesystems, mirroring restricted-filename output from the primary backend.
func sanitizeFilename(title string) string {
	if title == "" {
		return "download"
	}
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		case r == ' ':
			return '_'
		default:
			return -1
		}
	}, title)
	mapped = strings.Trim(mapped, "._")
	if mapped == "" {
		return "download"
	}
	if len(mapped) > 120 {
		mapped = mapped[:120]
	}
	return mapped
}

package v1

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/vidfetch/vidfetch/internal/data"
	"github.com/vidfetch/vidfetch/internal/service"
)

// DownloadHandler carries the orchestrator and logger into the HTTP
// handlers.
type DownloadHandler struct {
	l   *slog.Logger
	svc service.Download
}

type rwLogger struct {
	http.ResponseWriter
	status int
	bytes  int
	err    error
}

func (w *rwLogger) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *rwLogger) SetErr(err error) {
	w.err = err
}

func (w *rwLogger) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}

	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

type errorSetter interface {
	SetErr(error)
}

func markErr(w http.ResponseWriter, err error) {
	if es, ok := w.(errorSetter); ok {
		es.SetErr(err)
	}
}

// context keys
type ctxKeyRequest struct{}

func NewDownloadHandler(l *slog.Logger, svc service.Download) *DownloadHandler {
	return &DownloadHandler{l: l, svc: svc}
}

// Download runs a validated request through the orchestrator and answers in
// the requested response mode.
func (dh *DownloadHandler) Download(w http.ResponseWriter, r *http.Request) {
	v := r.Context().Value(ctxKeyRequest{})
	req, ok := v.(*data.DownloadRequest)
	if !ok || req == nil {
		markErr(w, ErrRequestCtx)
		writeError(w, http.StatusInternalServerError, ErrRequestCtx.Error(), "")
		return
	}

	out, err := dh.svc.Download(r.Context(), req)
	if err != nil {
		markErr(w, err)
		writeError(w, statusFor(err), "download failed", err.Error())
		return
	}

	if req.ResponseType == data.ResponseBinary {
		dh.streamArtifact(w, out.Result)
		return
	}

	resp := &data.DownloadResponse{
		Success:  true,
		Message:  "download complete",
		Filename: out.Result.Filename,
		FileSize: out.Result.Size,
	}
	switch {
	case out.Uploaded:
		resp.PublicURL = out.PublicURL
	case out.UploadErr != nil:
		resp.Message = "download complete, upload failed: " + out.UploadErr.Error()
		resp.Filepath = out.Result.Path
	default:
		resp.Filepath = out.Result.Path
	}

	w.Header().Set("Content-Type", "application/json")
	if err := resp.ToJSON(w); err != nil {
		markErr(w, err)
	}
}

// streamArtifact sends the file body and removes the artifact afterwards;
// binary-mode downloads exist only for the duration of the response.
func (dh *DownloadHandler) streamArtifact(w http.ResponseWriter, res *data.DownloadResult) {
	f, err := os.Open(res.Path)
	if err != nil {
		markErr(w, err)
		writeError(w, http.StatusInternalServerError, "artifact unavailable", err.Error())
		return
	}
	defer func() {
		_ = f.Close()
		if err := os.Remove(res.Path); err != nil {
			dh.l.Warn("cannot remove streamed artifact", "path", res.Path, "err", err)
		}
	}()

	w.Header().Set("Content-Type", data.ContentType(res.Filename))
	w.Header().Set("Content-Disposition", `attachment; filename="`+res.Filename+`"`)
	w.Header().Set("Content-Length", strconv.FormatInt(res.Size, 10))
	if _, err := io.Copy(w, f); err != nil {
		markErr(w, err)
	}
}

// Formats probes available formats for the url query parameter.
func (dh *DownloadHandler) Formats(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	if url == "" {
		markErr(w, ErrMissingURL)
		writeError(w, http.StatusBadRequest, ErrMissingURL.Error(), "")
		return
	}
	probe := &data.DownloadRequest{VideoURL: url}
	probe.Normalize()
	if err := probe.Validate(); err != nil {
		markErr(w, err)
		writeError(w, http.StatusBadRequest, "invalid url", err.Error())
		return
	}

	list, err := dh.svc.Formats(r.Context(), url)
	if err != nil {
		markErr(w, err)
		writeError(w, statusFor(err), "format probe failed", err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := list.ToJSON(w); err != nil {
		markErr(w, err)
	}
}

// statusFor maps orchestrator error kinds onto HTTP statuses.
func statusFor(err error) int {
	switch data.KindOf(err) {
	case data.KindInvalidFormatRequest:
		return http.StatusBadRequest
	case data.KindDownloadFailed:
		return http.StatusBadGateway
	case data.KindStorageUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (dh *DownloadHandler) Log(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()
		rw := &rwLogger{ResponseWriter: w}
		next.ServeHTTP(rw, r)
		if rw.status == 0 {
			rw.status = http.StatusOK
		}
		timeElapsed := time.Since(startTime)
		hErr := rw.err
		if hErr != nil {
			dh.l.Error(hErr.Error(),
				"method", r.Method,
				"url", r.URL.Path,
				"status", rw.status,
				"remote", r.RemoteAddr,
				"ua", r.UserAgent(),
				"dur_ms", timeElapsed.Milliseconds(),
				"bytes", rw.bytes)
			return
		}

		dh.l.Info("", "method", r.Method,
			"url", r.URL.Path,
			"status", rw.status,
			"remote", r.RemoteAddr,
			"ua", r.UserAgent(),
			"dur_ms", timeElapsed.Milliseconds(),
			"bytes", rw.bytes)
	})
}

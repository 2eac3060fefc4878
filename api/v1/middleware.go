package v1

import (
	"context"
	"net/http"

	"github.com/vidfetch/vidfetch/internal/data"
)

// MiddlewareDownloadValidation decodes, normalizes and validates the request
// body so handlers downstream only ever see well-formed requests.
func MiddlewareDownloadValidation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req := &data.DownloadRequest{}
		if err := decodeJSONStrict(w, r, req, 1<<20, "application/json"); err != nil {
			markErr(w, err)
			if err == ErrContentType {
				writeError(w, http.StatusUnsupportedMediaType, err.Error(), "")
				return
			}
			writeError(w, http.StatusBadRequest, "invalid JSON", err.Error())
			return
		}

		req.Normalize()
		if err := req.Validate(); err != nil {
			markErr(w, err)
			writeError(w, http.StatusBadRequest, "invalid request", err.Error())
			return
		}

		ctx := context.WithValue(r.Context(), ctxKeyRequest{}, req)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

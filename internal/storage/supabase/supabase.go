// Package supabase uploads artifacts to a Supabase storage bucket over its
// REST API.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/vidfetch/vidfetch/internal/config"
	"github.com/vidfetch/vidfetch/internal/data"
	"github.com/vidfetch/vidfetch/internal/metrics"
	"github.com/vidfetch/vidfetch/internal/storage"
)

type Provider struct {
	baseURL string
	key     string
	bucket  string
	http    *http.Client
	log     *slog.Logger
	enabled bool
}

func New(cfg config.SupabaseConfig, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	p := &Provider{
		baseURL: strings.TrimRight(cfg.URL, "/"),
		key:     cfg.Key,
		bucket:  cfg.Bucket,
		http:    &http.Client{Timeout: 5 * time.Minute},
		log:     log,
		enabled: cfg.URL != "" && cfg.Key != "" && cfg.Bucket != "",
	}
	if !p.enabled {
		log.Warn("supabase credentials not fully configured, target disabled")
	}
	return p
}

func (p *Provider) Name() string { return "supabase" }

// Put uploads the file under a date-based object path and returns its public
// URL. When the object already exists the upload is retried once after a
// remove, matching overwrite semantics.
func (p *Provider) Put(ctx context.Context, localPath, filename string) (string, error) {
	if !p.enabled {
		return "", data.NewError(data.KindStorageUnavailable, "supabase target is not configured")
	}

	objectPath := storage.DatePath(filename)

	err := p.upload(ctx, localPath, filename, objectPath)
	if err != nil && isDuplicate(err) {
		p.log.Info("object exists, removing and retrying", "path", objectPath)
		if rmErr := p.remove(ctx, objectPath); rmErr != nil {
			metrics.UploadErrors.WithLabelValues(p.Name()).Inc()
			return "", data.WrapError(data.KindUploadFailed, "supabase overwrite remove failed", rmErr)
		}
		err = p.upload(ctx, localPath, filename, objectPath)
	}
	if err != nil {
		metrics.UploadErrors.WithLabelValues(p.Name()).Inc()
		return "", data.WrapError(data.KindUploadFailed, "supabase upload failed", err)
	}

	publicURL := fmt.Sprintf("%s/storage/v1/object/public/%s/%s", p.baseURL, p.bucket, escapePath(objectPath))
	p.log.Info("uploaded to supabase", "path", objectPath, "url", publicURL)
	return publicURL, nil
}

func (p *Provider) upload(ctx context.Context, localPath, filename, objectPath string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/storage/v1/object/%s/%s", p.baseURL, p.bucket, escapePath(objectPath))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, f)
	if err != nil {
		return err
	}
	req.ContentLength = info.Size()
	req.Header.Set("Authorization", "Bearer "+p.key)
	req.Header.Set("Content-Type", data.ContentType(filename))

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("supabase http %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func (p *Provider) remove(ctx context.Context, objectPath string) error {
	body, _ := json.Marshal(map[string][]string{"prefixes": {objectPath}})
	endpoint := fmt.Sprintf("%s/storage/v1/object/%s", p.baseURL, p.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+p.key)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("supabase http %d: %s", resp.StatusCode, string(b))
	}
	return nil
}

func isDuplicate(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") ||
		strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "http 409")
}

// escapePath escapes each segment while keeping the separators.
func escapePath(p string) string {
	segs := strings.Split(p, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

// Package s3 uploads artifacts to an S3 bucket with a single SigV4-signed
// PUT. The request is signed with an unsigned-payload content hash so the
// artifact can be streamed from disk without a second read.
package s3

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
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

const unsignedPayload = "UNSIGNED-PAYLOAD"

type Provider struct {
	accessKey string
	secretKey string
	bucket    string
	region    string
	http      *http.Client
	log       *slog.Logger
	now       func() time.Time
	enabled   bool
}

func New(cfg config.S3Config, log *slog.Logger) *Provider {
	if log == nil {
		log = slog.Default()
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	p := &Provider{
		accessKey: cfg.AccessKey,
		secretKey: cfg.SecretKey,
		bucket:    cfg.Bucket,
		region:    region,
		http:      &http.Client{Timeout: 5 * time.Minute},
		log:       log,
		now:       time.Now,
		enabled:   cfg.AccessKey != "" && cfg.SecretKey != "" && cfg.Bucket != "",
	}
	if !p.enabled {
		log.Warn("s3 credentials not fully configured, target disabled")
	}
	return p
}

func (p *Provider) Name() string { return "s3" }

// Put uploads the file under a date-based key and returns the public object
// URL: virtual-hosted style normally, path style when the bucket name
// contains dots (virtual-hosted TLS breaks on dotted buckets).
func (p *Provider) Put(ctx context.Context, localPath, filename string) (string, error) {
	if !p.enabled {
		return "", data.NewError(data.KindStorageUnavailable, "s3 target is not configured")
	}

	key := storage.DatePath(filename)

	f, err := os.Open(localPath)
	if err != nil {
		return "", data.WrapError(data.KindUploadFailed, "open artifact", err)
	}
	defer func() { _ = f.Close() }()
	info, err := f.Stat()
	if err != nil {
		return "", data.WrapError(data.KindUploadFailed, "stat artifact", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, p.objectURL(key), f)
	if err != nil {
		return "", data.WrapError(data.KindUploadFailed, "build request", err)
	}
	req.ContentLength = info.Size()
	req.Header.Set("Content-Type", data.ContentType(filename))
	p.sign(req)

	resp, err := p.http.Do(req)
	if err != nil {
		metrics.UploadErrors.WithLabelValues(p.Name()).Inc()
		return "", data.WrapError(data.KindUploadFailed, "s3 upload failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		metrics.UploadErrors.WithLabelValues(p.Name()).Inc()
		return "", data.NewError(data.KindUploadFailed,
			fmt.Sprintf("s3 http %d: %s", resp.StatusCode, string(b)))
	}

	public := p.objectURL(key)
	p.log.Info("uploaded to s3", "key", key, "url", public)
	return public, nil
}

func (p *Provider) objectURL(key string) string {
	escaped := escapeKey(key)
	if strings.Contains(p.bucket, ".") {
		return fmt.Sprintf("https://s3.%s.amazonaws.com/%s/%s", p.region, p.bucket, escaped)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", p.bucket, p.region, escaped)
}

// sign adds the SigV4 Authorization header for a single-chunk upload.
func (p *Provider) sign(req *http.Request) {
	t := p.now().UTC()
	amzDate := t.Format("20060102T150405Z")
	dateStamp := t.Format("20060102")

	req.Header.Set("Host", req.URL.Host)
	req.Header.Set("X-Amz-Date", amzDate)
	req.Header.Set("X-Amz-Content-Sha256", unsignedPayload)

	signedHeaders := []string{"content-type", "host", "x-amz-content-sha256", "x-amz-date"}
	var canonHeaders strings.Builder
	for _, h := range signedHeaders {
		v := req.Header.Get(h)
		if h == "host" {
			v = req.URL.Host
		}
		canonHeaders.WriteString(h + ":" + strings.TrimSpace(v) + "\n")
	}

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.URL.EscapedPath(),
		req.URL.RawQuery,
		canonHeaders.String(),
		strings.Join(signedHeaders, ";"),
		unsignedPayload,
	}, "\n")

	scope := strings.Join([]string{dateStamp, p.region, "s3", "aws4_request"}, "/")
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hexSHA256([]byte(canonicalRequest)),
	}, "\n")

	signingKey := hmacSHA256(
		hmacSHA256(
			hmacSHA256(
				hmacSHA256([]byte("AWS4"+p.secretKey), dateStamp),
				p.region),
			"s3"),
		"aws4_request")
	signature := hex.EncodeToString(hmacSHA256(signingKey, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		p.accessKey, scope, strings.Join(signedHeaders, ";"), signature))
}

func hmacSHA256(key []byte, msg string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(msg))
	return mac.Sum(nil)
}

func hexSHA256(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func escapeKey(key string) string {
	segs := strings.Split(key, "/")
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, "/")
}

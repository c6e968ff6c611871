// Package download fetches image URLs into a keyword's output directory at
// a bounded request rate.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/keyword-harvester/internal/hash/sha256"
)

const partSuffix = ".part"

// ErrNothingSaved is returned when no URL produced a file.
var ErrNothingSaved = errors.New("no files downloaded")

// Observer receives per-download telemetry.
type Observer interface {
	ObserveDownload(rawURL, status string, bytes int64)
	ObserveRateLimitDelay(rawURL string, d time.Duration)
}

// Config controls request pacing and limits.
type Config struct {
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	Timeout           time.Duration
	// MaxBytes caps a single file; zero means 20 MiB.
	MaxBytes int64
}

// Result counts what one Fetch call did.
type Result struct {
	Saved   int
	Skipped int
	Failed  int
}

// Downloader writes files named by the SHA-256 of their source URL, so a
// retried keyword skips files it already has.
type Downloader struct {
	cfg      Config
	fs       afero.Fs
	client   *http.Client
	limiter  *rate.Limiter
	hasher   *sha256.Hasher
	observer Observer
	logger   *zap.Logger
}

// Option customizes a Downloader.
type Option func(*Downloader)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.client = c }
}

// WithObserver installs a telemetry sink.
func WithObserver(o Observer) Option {
	return func(d *Downloader) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

// New builds a Downloader writing through fs.
func New(fs afero.Fs, cfg Config, opts ...Option) (*Downloader, error) {
	if cfg.RequestsPerSecond <= 0 {
		return nil, fmt.Errorf("requests per second must be > 0")
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 20 << 20
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	d := &Downloader{
		cfg:     cfg,
		fs:      fs,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		hasher:  sha256.New(),
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Fetch downloads urls into dir until limit files exist (saved or already
// present). It fails only when ctx ends or nothing at all was stored.
func (d *Downloader) Fetch(ctx context.Context, urls []string, dir string, limit int) (Result, error) {
	var res Result
	if err := d.fs.MkdirAll(dir, 0o750); err != nil {
		return res, fmt.Errorf("create output dir %s: %w", dir, err)
	}
	for _, u := range urls {
		if limit > 0 && res.Saved+res.Skipped >= limit {
			break
		}
		name, err := d.fileName(u)
		if err != nil {
			res.Failed++
			continue
		}
		if d.exists(dir, name) {
			res.Skipped++
			continue
		}

		waitStart := time.Now()
		if err := d.limiter.Wait(ctx); err != nil {
			return res, fmt.Errorf("rate limiter: %w", err)
		}
		if d.observer != nil {
			d.observer.ObserveRateLimitDelay(u, time.Since(waitStart))
		}

		n, err := d.fetchOne(ctx, u, filepath.Join(dir, name))
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			res.Failed++
			d.observe(u, "error", 0)
			d.logger.Debug("download failed", zap.String("url", u), zap.Error(err))
			continue
		}
		res.Saved++
		d.observe(u, "ok", n)
	}
	if res.Saved+res.Skipped == 0 {
		return res, fmt.Errorf("%w: %d urls, %d failed", ErrNothingSaved, len(urls), res.Failed)
	}
	return res, nil
}

func (d *Downloader) fetchOne(ctx context.Context, rawURL, base string) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if d.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", d.cfg.UserAgent)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("get %s: status %d", rawURL, resp.StatusCode)
	}
	target := base + extension(rawURL, resp.Header.Get("Content-Type"))
	tmp := target + partSuffix
	f, err := d.fs.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	digest, n, err := d.hasher.HashReader(io.TeeReader(io.LimitReader(resp.Body, d.cfg.MaxBytes+1), f))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	switch {
	case err != nil:
		err = fmt.Errorf("write %s: %w", tmp, err)
	case n > d.cfg.MaxBytes:
		err = fmt.Errorf("%s exceeds %d bytes", rawURL, d.cfg.MaxBytes)
	case n == 0:
		err = fmt.Errorf("%s returned an empty body", rawURL)
	}
	if err != nil {
		_ = d.fs.Remove(tmp)
		return 0, err
	}
	if err := d.fs.Rename(tmp, target); err != nil {
		_ = d.fs.Remove(tmp)
		return 0, fmt.Errorf("rename %s: %w", tmp, err)
	}
	d.logger.Debug("downloaded", zap.String("url", rawURL), zap.String("file", target), zap.String("content_sha256", digest))
	return n, nil
}

// exists reports whether a finished file for name is already in dir.
func (d *Downloader) exists(dir, name string) bool {
	matches, _ := afero.Glob(d.fs, filepath.Join(dir, name+".*"))
	for _, m := range matches {
		if !strings.HasSuffix(m, partSuffix) {
			return true
		}
	}
	return false
}

func (d *Downloader) fileName(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", fmt.Errorf("unsupported url %q", rawURL)
	}
	digest, err := d.hasher.Hash([]byte(rawURL))
	if err != nil {
		return "", err
	}
	return digest[:32], nil
}

func (d *Downloader) observe(rawURL, status string, n int64) {
	if d.observer != nil {
		d.observer.ObserveDownload(rawURL, status, n)
	}
}

// extension prefers a known image suffix from the URL path, then the
// content type, then .jpg.
func extension(rawURL, contentType string) string {
	if u, err := url.Parse(rawURL); err == nil {
		switch ext := strings.ToLower(path.Ext(u.Path)); ext {
		case ".jpg", ".jpeg", ".png", ".gif", ".webp":
			return ext
		}
	}
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mt {
		case "image/png":
			return ".png"
		case "image/gif":
			return ".gif"
		case "image/webp":
			return ".webp"
		}
	}
	return ".jpg"
}

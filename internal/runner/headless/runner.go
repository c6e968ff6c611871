// Package headless scrapes JavaScript-rendered search pages with chromedp,
// scrolling to trigger lazy loading, and downloads the images found.
package headless

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/runner"
	"github.com/JakeFAU/keyword-harvester/internal/runner/download"
)

// ErrNoResults is returned when the rendered page lists no images.
var ErrNoResults = errors.New("rendered page had no image urls")

// Config controls the browser session.
type Config struct {
	SearchURL         string
	Selector          string
	Attribute         string
	ScrollRounds      int
	ScrollPause       time.Duration
	NavigationTimeout time.Duration
	Count             int
	UserAgent         string
	SavePath          string
}

// Fetcher stores image URLs into a directory.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string, dir string, limit int) (download.Result, error)
}

// Runner implements batch.JobRunner using headless Chrome.
type Runner struct {
	cfg         Config
	downloader  Fetcher
	logger      *zap.Logger
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New starts a Chrome allocator. Close releases it.
func New(cfg Config, downloader Fetcher, logger *zap.Logger) (*Runner, error) {
	cfg, err := normalize(cfg)
	if err != nil {
		return nil, err
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	return &Runner{
		cfg:         cfg,
		downloader:  downloader,
		logger:      logger,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

func normalize(cfg Config) (Config, error) {
	if cfg.SearchURL == "" {
		return cfg, fmt.Errorf("search url is required")
	}
	if cfg.ScrollRounds < 0 {
		return cfg, fmt.Errorf("scroll rounds must be >= 0")
	}
	if cfg.Selector == "" {
		cfg.Selector = "img"
	}
	if cfg.Attribute == "" {
		cfg.Attribute = "src"
	}
	if cfg.ScrollPause <= 0 {
		cfg.ScrollPause = 1500 * time.Millisecond
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	return cfg, nil
}

// Close cancels the allocator context.
func (r *Runner) Close() {
	r.allocCancel()
}

// Run renders the search page for keyword and downloads its images.
func (r *Runner) Run(ctx context.Context, keyword string) (string, error) {
	urls, err := r.Collect(ctx, keyword)
	if err != nil {
		return "", err
	}
	dir := runner.OutputDir(r.cfg.SavePath, keyword)
	res, err := r.downloader.Fetch(ctx, urls, dir, r.cfg.Count)
	if err != nil {
		return "", fmt.Errorf("download %q: %w", keyword, err)
	}
	r.logger.Info("headless run finished",
		zap.String("keyword", keyword),
		zap.Int("urls", len(urls)),
		zap.Int("saved", res.Saved),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return dir, nil
}

// Collect navigates to the search page, scrolls until enough images are on
// the page or scrolling stops producing more, and extracts their URLs.
func (r *Runner) Collect(ctx context.Context, keyword string) ([]string, error) {
	taskCtx, taskCancel := chromedp.NewContext(r.allocator)
	defer taskCancel()
	// Tie the browser tab to the caller's context as well.
	stop := context.AfterFunc(ctx, taskCancel)
	defer stop()

	timeout := r.cfg.NavigationTimeout + time.Duration(r.cfg.ScrollRounds)*r.cfg.ScrollPause
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	meta := &documentStatus{}
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	pageURL := runner.SearchURL(r.cfg.SearchURL, keyword, 1)
	if err := chromedp.Run(taskCtx,
		r.networkSetupAction(),
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("chromedp navigate %s: %w", pageURL, err)
	}
	if status := meta.get(); status >= 400 {
		return nil, fmt.Errorf("search page %s returned status %d", pageURL, status)
	}

	if err := r.scroll(taskCtx); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	var raw []string
	if err := chromedp.Run(taskCtx, chromedp.Evaluate(extractScript(r.cfg.Selector, r.cfg.Attribute), &raw)); err != nil {
		return nil, fmt.Errorf("extract image urls: %w", err)
	}
	urls := runner.Dedupe(nil, make(map[string]struct{}), raw...)
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, keyword)
	}
	return urls, nil
}

func (r *Runner) scroll(ctx context.Context) error {
	countJS := countScript(r.cfg.Selector)
	last, stalled := -1, 0
	for round := 0; round < r.cfg.ScrollRounds; round++ {
		var n int
		if err := chromedp.Run(ctx,
			chromedp.Evaluate(`window.scrollTo(0, document.body.scrollHeight)`, nil),
			chromedp.Sleep(r.cfg.ScrollPause),
			chromedp.Evaluate(countJS, &n),
		); err != nil {
			return fmt.Errorf("scroll round %d: %w", round+1, err)
		}
		if r.cfg.Count > 0 && n >= r.cfg.Count {
			return nil
		}
		if n == last {
			stalled++
			if stalled >= 2 {
				return nil
			}
		} else {
			stalled = 0
		}
		last = n
	}
	return nil
}

func (r *Runner) networkSetupAction() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if r.cfg.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(r.cfg.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		return nil
	})
}

// documentStatus records the HTTP status of the top-level document.
type documentStatus struct {
	mu     sync.Mutex
	status int
}

func (d *documentStatus) captureEvent(ev any) {
	resp, ok := ev.(*network.EventResponseReceived)
	if !ok || resp.Type != network.ResourceTypeDocument || resp.Response == nil {
		return
	}
	d.mu.Lock()
	if d.status == 0 {
		d.status = int(resp.Response.Status)
	}
	d.mu.Unlock()
}

func (d *documentStatus) get() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.status
}

func countScript(selector string) string {
	return fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(selector))
}

// extractScript returns absolute URLs for attr on every selector match,
// falling back to data-src for lazily loaded images.
func extractScript(selector, attr string) string {
	return fmt.Sprintf(`Array.from(document.querySelectorAll(%s)).map(function (el) {
  var v = el.getAttribute(%s) || el.getAttribute("data-src") || "";
  try { return v ? new URL(v, document.baseURI).href : ""; } catch (e) { return ""; }
}).filter(function (v) { return v !== ""; })`, jsString(selector), jsString(attr))
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

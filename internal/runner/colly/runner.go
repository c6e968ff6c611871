// Package collyrunner scrapes a static search results page with colly and
// downloads the images it lists.
package collyrunner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/keyword-harvester/internal/runner"
	"github.com/JakeFAU/keyword-harvester/internal/runner/download"
)

// ErrNoResults is returned when the first search page lists nothing.
var ErrNoResults = errors.New("search returned no image urls")

// Config controls scraping.
type Config struct {
	// SearchURL contains {keyword} and optionally {page}.
	SearchURL string
	Selector  string
	Attribute string
	MaxPages  int
	Count     int
	UserAgent string
	Timeout   time.Duration
	SavePath  string
}

// Fetcher stores image URLs into a directory.
type Fetcher interface {
	Fetch(ctx context.Context, urls []string, dir string, limit int) (download.Result, error)
}

// Runner implements batch.JobRunner.
type Runner struct {
	cfg        Config
	base       *colly.Collector
	downloader Fetcher
	logger     *zap.Logger
}

// New builds a Runner.
func New(cfg Config, downloader Fetcher, logger *zap.Logger) (*Runner, error) {
	if cfg.SearchURL == "" {
		return nil, fmt.Errorf("search url is required")
	}
	if downloader == nil {
		return nil, fmt.Errorf("downloader is required")
	}
	if cfg.Selector == "" {
		cfg.Selector = "img"
	}
	if cfg.Attribute == "" {
		cfg.Attribute = "src"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		cfg:        cfg,
		base:       colly.NewCollector(colly.Async(false), colly.AllowURLRevisit()),
		downloader: downloader,
		logger:     logger,
	}, nil
}

// Run collects image URLs for keyword and downloads them into the
// keyword's output directory.
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
	r.logger.Info("colly run finished",
		zap.String("keyword", keyword),
		zap.Int("urls", len(urls)),
		zap.Int("saved", res.Saved),
		zap.Int("skipped", res.Skipped),
		zap.Int("failed", res.Failed),
	)
	return dir, nil
}

// Collect walks search pages until Count URLs are known, a page adds
// nothing new, or MaxPages is reached.
func (r *Runner) Collect(ctx context.Context, keyword string) ([]string, error) {
	var (
		urls []string
		seen = make(map[string]struct{})
	)
	for page := 1; page <= r.cfg.MaxPages; page++ {
		if r.cfg.Count > 0 && len(urls) >= r.cfg.Count {
			break
		}
		found, err := r.visitPage(ctx, runner.SearchURL(r.cfg.SearchURL, keyword, page))
		if err != nil {
			if page == 1 || ctx.Err() != nil {
				return nil, err
			}
			r.logger.Warn("search page failed; keeping earlier pages", zap.Int("page", page), zap.Error(err))
			break
		}
		before := len(urls)
		urls = runner.Dedupe(urls, seen, found...)
		if len(urls) == before {
			break
		}
	}
	if len(urls) == 0 {
		return nil, fmt.Errorf("%w for %q", ErrNoResults, keyword)
	}
	return urls, nil
}

// visitPage runs one collector visit off the caller's goroutine so ctx can
// abandon it. Results come back only through the channel.
func (r *Runner) visitPage(ctx context.Context, pageURL string) ([]string, error) {
	c := r.base.Clone()
	if r.cfg.UserAgent != "" {
		c.UserAgent = r.cfg.UserAgent
	}
	c.SetRequestTimeout(r.cfg.Timeout)

	type result struct {
		urls []string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		var (
			found    []string
			fetchErr error
		)
		c.OnHTML(r.cfg.Selector, func(e *colly.HTMLElement) {
			v := e.Attr(r.cfg.Attribute)
			if v == "" && r.cfg.Attribute == "src" {
				v = e.Attr("data-src")
			}
			if v != "" {
				found = append(found, e.Request.AbsoluteURL(v))
			}
		})
		c.OnError(func(_ *colly.Response, err error) {
			fetchErr = err
		})
		err := c.Visit(pageURL)
		if err == nil {
			err = fetchErr
		}
		done <- result{urls: found, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("colly visit canceled: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return nil, fmt.Errorf("colly visit %s: %w", pageURL, res.err)
		}
		return res.urls, nil
	}
}

package headless

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/keyword-harvester/internal/runner/download"
)

type nopFetcher struct{}

func (nopFetcher) Fetch(context.Context, []string, string, int) (download.Result, error) {
	return download.Result{}, nil
}

func TestNormalizeDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := normalize(Config{SearchURL: "https://img.example.com/?q={keyword}"})
	require.NoError(t, err)
	require.Equal(t, "img", cfg.Selector)
	require.Equal(t, "src", cfg.Attribute)
	require.Equal(t, 1500*time.Millisecond, cfg.ScrollPause)
	require.Equal(t, 45*time.Second, cfg.NavigationTimeout)

	_, err = normalize(Config{})
	require.ErrorContains(t, err, "search url")
	_, err = normalize(Config{SearchURL: "x", ScrollRounds: -1})
	require.ErrorContains(t, err, "scroll rounds")
}

func TestNewRequiresDownloader(t *testing.T) {
	t.Parallel()

	_, err := New(Config{SearchURL: "https://img.example.com"}, nil, nil)
	require.ErrorContains(t, err, "downloader")

	r, err := New(Config{SearchURL: "https://img.example.com"}, nopFetcher{}, nil)
	require.NoError(t, err)
	r.Close()
}

func TestScriptsQuoteSelectors(t *testing.T) {
	t.Parallel()

	js := extractScript(`img[alt="a \"b\""]`, "data-lazy")
	require.Contains(t, js, `document.querySelectorAll("img[alt=\"a \\\"b\\\"\"]")`)
	require.Contains(t, js, `el.getAttribute("data-lazy")`)
	require.True(t, strings.HasPrefix(countScript(".grid img"), `document.querySelectorAll(".grid img")`))
}

func TestDocumentStatusKeepsFirstDocument(t *testing.T) {
	t.Parallel()

	d := &documentStatus{}
	d.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeImage, Response: &network.Response{Status: 404}})
	d.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeDocument, Response: &network.Response{Status: 429}})
	d.captureEvent(&network.EventResponseReceived{Type: network.ResourceTypeDocument, Response: &network.Response{Status: 200}})
	d.captureEvent("unrelated")
	require.Equal(t, 429, d.get())
}

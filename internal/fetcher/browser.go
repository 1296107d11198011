package fetcher

import (
	"context"
	"os/exec"

	"github.com/chromedp/chromedp"
)

// BrowserLoader fetches pages through headless Chrome. It is the fallback
// strategy for periods when plain HTTP requests get served bot walls; the
// rendered DOM is handed to the same parser as HTTP-fetched pages.
type BrowserLoader struct {
	execPath string
}

// NewBrowserLoader locates a Chrome binary and returns a loader using it.
// An empty path lets chromedp pick its own default.
func NewBrowserLoader() *BrowserLoader {
	return &BrowserLoader{execPath: findChromeBinary()}
}

// Load navigates to the page and returns the rendered document HTML.
// A fresh browser context per request keeps cookie state from accumulating
// into a trackable session.
func (b *BrowserLoader) Load(ctx context.Context, pageURL string, id Identity) ([]byte, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(id.UserAgent),
	)
	if b.execPath != "" {
		opts = append(opts, chromedp.ExecPath(b.execPath))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(pageURL),
		chromedp.WaitReady("body"),
		chromedp.OuterHTML("html", &html),
	)
	if err != nil {
		return nil, &Error{Kind: Transient, URL: pageURL, Err: err}
	}
	return []byte(html), nil
}

func findChromeBinary() string {
	candidates := []string{
		"google-chrome",
		"google-chrome-stable",
		"chromium",
		"chromium-browser",
	}
	for _, name := range candidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
)

// Chrome is the production Automator: a real browser driven over the Chrome
// DevTools Protocol. Pairing shows a QR code, so the window is visible
// unless headless is explicitly requested.
type Chrome struct {
	headless bool

	mu      sync.Mutex
	browser context.Context
	cancels []context.CancelFunc
}

func NewChrome(headless bool) *Chrome { return &Chrome{headless: headless} }

var errNotStarted = errors.New("chrome: browser not started")

func (c *Chrome) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser != nil {
		return nil
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("headless", c.headless),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-accelerated-2d-canvas", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.WindowSize(1280, 720),
	}
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)

	// Run with no actions forces the browser process up so a launch failure
	// surfaces here instead of on the first send.
	if err := chromedp.Run(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("chrome: start: %w", err)
	}

	c.browser = browserCtx
	c.cancels = []context.CancelFunc{cancelBrowser, cancelAlloc}
	return nil
}

// run executes actions against the browser tab, honoring the caller's
// deadline when one is set.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	c.mu.Lock()
	bctx := c.browser
	c.mu.Unlock()
	if bctx == nil {
		return errNotStarted
	}
	if d, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		bctx, cancel = context.WithDeadline(bctx, d)
		defer cancel()
	}
	return chromedp.Run(bctx, actions...)
}

func (c *Chrome) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url))
}

func (c *Chrome) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	c.mu.Lock()
	bctx := c.browser
	c.mu.Unlock()
	if bctx == nil {
		return errNotStarted
	}
	tctx, cancel := context.WithTimeout(bctx, timeout)
	defer cancel()
	return chromedp.Run(tctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (c *Chrome) Click(ctx context.Context, selector string) error {
	return c.run(ctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (c *Chrome) ForceClick(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(
		`(() => { const el = document.querySelector(%q); if (!el) return false; el.click(); return true; })()`,
		selector)
	var clicked bool
	if err := c.run(ctx, chromedp.Evaluate(js, &clicked)); err != nil {
		return false, err
	}
	return clicked, nil
}

func (c *Chrome) PressEnter(ctx context.Context) error {
	return c.run(ctx, chromedp.KeyEvent(kb.Enter))
}

func (c *Chrome) Exists(ctx context.Context, selector string) (bool, error) {
	js := fmt.Sprintf(`document.querySelector(%q) !== null`, selector)
	var present bool
	if err := c.run(ctx, chromedp.Evaluate(js, &present)); err != nil {
		return false, err
	}
	return present, nil
}

func (c *Chrome) Stop(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.browser == nil {
		return nil
	}
	for _, cancel := range c.cancels {
		cancel()
	}
	c.browser = nil
	c.cancels = nil
	return nil
}

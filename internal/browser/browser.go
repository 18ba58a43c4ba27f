// Package browser owns the headless Chrome instance shared by reverse image
// search and page scraping. The browser starts on first use and lives until
// Close; every caller gets its own tab.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/chromedp"
)

// ErrDisabled is returned when browser automation is turned off in config.
var ErrDisabled = errors.New("browser automation disabled")

var (
	chromedpExecAllocator = chromedp.NewExecAllocator
	chromedpContext       = chromedp.NewContext
	chromedpRunner        = chromedp.Run
)

// Options configures the shared browser.
type Options struct {
	Enabled   bool
	Headless  bool
	ExecPath  string
	UserAgent string
}

// Pool is a lazily started browser. It is safe for concurrent use.
type Pool struct {
	opts Options

	mu            sync.Mutex
	browserCtx    context.Context
	cancelAlloc   context.CancelFunc
	cancelBrowser context.CancelFunc
}

// New returns a Pool that starts Chrome on the first NewTab call.
func New(opts Options) *Pool {
	return &Pool{opts: opts}
}

// Enabled reports whether the pool may start a browser.
func (p *Pool) Enabled() bool {
	return p != nil && p.opts.Enabled
}

func (p *Pool) allocatorOptions() []chromedp.ExecAllocatorOption {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Flag("headless", p.opts.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	}
	if p.opts.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(p.opts.ExecPath))
	}
	if p.opts.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(p.opts.UserAgent))
	}
	return opts
}

// start launches the browser if it is not running. Callers hold p.mu.
func (p *Pool) start() error {
	if p.browserCtx != nil {
		return nil
	}

	slog.Debug("Starting shared browser", "headless", p.opts.Headless, "exec_path", p.opts.ExecPath)
	allocCtx, cancelAlloc := chromedpExecAllocator(context.Background(), p.allocatorOptions()...)
	browserCtx, cancelBrowser := chromedpContext(allocCtx)

	// An empty run forces the browser process to launch.
	if err := chromedpRunner(browserCtx); err != nil {
		cancelBrowser()
		cancelAlloc()
		return fmt.Errorf("failed to start browser: %w", err)
	}

	p.browserCtx = browserCtx
	p.cancelAlloc = cancelAlloc
	p.cancelBrowser = cancelBrowser
	return nil
}

// NewTab opens a tab bound to ctx: the tab closes when ctx is done or the
// returned cancel func is called, whichever comes first.
func (p *Pool) NewTab(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if !p.Enabled() {
		return nil, nil, ErrDisabled
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	p.mu.Lock()
	if err := p.start(); err != nil {
		p.mu.Unlock()
		return nil, nil, err
	}
	browserCtx := p.browserCtx
	p.mu.Unlock()

	tabCtx, cancelTab := chromedpContext(browserCtx)
	stop := context.AfterFunc(ctx, cancelTab)
	cancel := func() {
		stop()
		cancelTab()
	}

	if p.opts.UserAgent != "" {
		if err := chromedpRunner(tabCtx, emulation.SetUserAgentOverride(p.opts.UserAgent)); err != nil {
			cancel()
			return nil, nil, fmt.Errorf("failed to set user agent: %w", err)
		}
	}
	return tabCtx, cancel, nil
}

// Run executes actions in a fresh tab and closes it afterwards.
func (p *Pool) Run(ctx context.Context, actions ...chromedp.Action) error {
	tabCtx, cancel, err := p.NewTab(ctx)
	if err != nil {
		return err
	}
	defer cancel()
	return chromedpRunner(tabCtx, actions...)
}

// Close shuts the browser down. A later NewTab starts a new one.
func (p *Pool) Close() error {
	if p == nil {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.browserCtx == nil {
		return nil
	}
	slog.Debug("Closing shared browser")
	p.cancelBrowser()
	p.cancelAlloc()
	p.browserCtx = nil
	p.cancelBrowser = nil
	p.cancelAlloc = nil
	return nil
}

// Running reports whether a browser process has been started.
func (p *Pool) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.browserCtx != nil
}

// Poll calls check every interval until it reports found, returns an error,
// the timeout passes or ctx is canceled.
func Poll[T any](ctx context.Context, interval, timeout time.Duration, description string, check func() (T, bool, error)) (T, error) {
	var zero T
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	tries := 0
	for {
		result, found, err := check()
		if err != nil {
			return zero, err
		}
		if found {
			return result, nil
		}

		tries++
		if tries%5 == 0 {
			slog.Debug("Polling", "description", description, "tries", tries)
		}

		select {
		case <-ctx.Done():
			return zero, fmt.Errorf("polling canceled for %s: %w", description, ctx.Err())
		case <-ticker.C:
			if time.Now().After(deadline) {
				return zero, fmt.Errorf("timeout waiting for %s", description)
			}
		}
	}
}

package browser

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/chromedp"
)

// ChromeConfig configures the chromedp-backed launcher.
type ChromeConfig struct {
	Headless  bool
	ExecPath  string // empty means chromedp's default lookup
	UserAgent string
}

// ChromeLauncher launches headless Chrome instances through chromedp.
type ChromeLauncher struct {
	config ChromeConfig
}

// NewChromeLauncher creates a launcher with the given config.
func NewChromeLauncher(cfg ChromeConfig) *ChromeLauncher {
	return &ChromeLauncher{config: cfg}
}

// Launch starts a new Chrome process. The process is detached from ctx so it
// outlives the launching phase; it ends when the returned Browser is closed.
func (l *ChromeLauncher) Launch(ctx context.Context) (Browser, error) {
	opts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	opts = append(opts, chromedp.Flag("headless", l.config.Headless))
	if l.config.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.config.ExecPath))
	}
	if l.config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(l.config.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)

	// Run with no actions starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("start chrome: %w", err)
	}

	return &chromeBrowser{
		ctx:         browserCtx,
		cancel:      browserCancel,
		allocCancel: allocCancel,
	}, nil
}

type chromeBrowser struct {
	ctx         context.Context
	cancel      context.CancelFunc
	allocCancel context.CancelFunc

	mu         sync.Mutex
	pages      int
	tabCancels []context.CancelFunc
	closed     bool
	closeErr   error
}

func (b *chromeBrowser) NewPage(_ context.Context) (Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("browser is closed")
	}
	b.pages++
	// The first page reuses the initial tab; later pages open new targets.
	if b.pages == 1 {
		return &chromePage{ctx: b.ctx}, nil
	}
	tabCtx, tabCancel := chromedp.NewContext(b.ctx)
	b.tabCancels = append(b.tabCancels, tabCancel)
	return &chromePage{ctx: tabCtx}, nil
}

func (b *chromeBrowser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return b.closeErr
	}
	b.closed = true
	for _, cancel := range b.tabCancels {
		cancel()
	}
	b.closeErr = chromedp.Cancel(b.ctx)
	b.cancel()
	b.allocCancel()
	return b.closeErr
}

// chromePage runs actions on a tab context. Each call derives a child context
// from the tab so the caller's deadline applies to that action only.
type chromePage struct {
	ctx context.Context
}

func (p *chromePage) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()
	return chromedp.Run(runCtx, actions...)
}

func (p *chromePage) Navigate(ctx context.Context, url string) error {
	return p.run(ctx, chromedp.Navigate(url))
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.Click(selector, chromedp.ByQuery))
}

func (p *chromePage) Type(ctx context.Context, selector, text string) error {
	return p.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

func (p *chromePage) Content(ctx context.Context) (string, error) {
	var html string
	if err := p.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func (p *chromePage) WaitVisible(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) WaitHidden(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.WaitNotVisible(selector, chromedp.ByQuery))
}

func (p *chromePage) ScrollIntoView(ctx context.Context, selector string) error {
	return p.run(ctx, chromedp.ScrollIntoView(selector, chromedp.ByQuery))
}

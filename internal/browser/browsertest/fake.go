// Package browsertest provides an in-memory browser backend for tests.
package browsertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/rendis/pagepilot/internal/browser"
)

// Call is one recorded page action.
type Call struct {
	Method   string
	Selector string
	Value    string
}

// Launcher is a fake browser.Launcher. It records every launch and close so
// tests can assert on browser lifecycle.
type Launcher struct {
	mu       sync.Mutex
	browsers []*Browser

	// LaunchErr, when set, is returned by Launch.
	LaunchErr error
	// Pages maps a URL to the HTML Content returns after navigating there.
	Pages map[string]string
	// Fail maps a page method name ("Navigate", "Click", ...) to the error it returns.
	Fail map[string]error
	// Hook, when set, is invoked before every page action.
	Hook func(ctx context.Context, call Call) error
}

// NewLauncher creates a fake launcher with no preset pages.
func NewLauncher() *Launcher {
	return &Launcher{
		Pages: make(map[string]string),
		Fail:  make(map[string]error),
	}
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(_ context.Context) (browser.Browser, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.LaunchErr != nil {
		return nil, l.LaunchErr
	}
	b := &Browser{launcher: l, id: len(l.browsers) + 1}
	l.browsers = append(l.browsers, b)
	return b, nil
}

// Launches returns how many browsers were launched.
func (l *Launcher) Launches() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.browsers)
}

// Closes returns the total number of Close calls across all browsers.
func (l *Launcher) Closes() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, b := range l.browsers {
		n += b.closeCount()
	}
	return n
}

// Browsers returns the launched browsers in launch order.
func (l *Launcher) Browsers() []*Browser {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]*Browser, len(l.browsers))
	copy(out, l.browsers)
	return out
}

// Calls returns every page action recorded across all browsers.
func (l *Launcher) Calls() []Call {
	l.mu.Lock()
	browsers := make([]*Browser, len(l.browsers))
	copy(browsers, l.browsers)
	l.mu.Unlock()

	var calls []Call
	for _, b := range browsers {
		calls = append(calls, b.Calls()...)
	}
	return calls
}

func (l *Launcher) failure(method string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Fail[method]
}

func (l *Launcher) pageHTML(url string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	html, ok := l.Pages[url]
	return html, ok
}

// Browser is a fake browser.Browser.
type Browser struct {
	launcher *Launcher
	id       int

	mu     sync.Mutex
	closes int
	calls  []Call
}

// ID returns the 1-based launch index.
func (b *Browser) ID() int { return b.id }

// NewPage implements browser.Browser.
func (b *Browser) NewPage(_ context.Context) (browser.Page, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closes > 0 {
		return nil, fmt.Errorf("browser %d is closed", b.id)
	}
	return &Page{browser: b}, nil
}

// Close implements browser.Browser. Every call is counted, including repeats.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

// Closed reports whether Close was called at least once.
func (b *Browser) Closed() bool {
	return b.closeCount() > 0
}

func (b *Browser) closeCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

// Calls returns the actions recorded on this browser's pages.
func (b *Browser) Calls() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Call, len(b.calls))
	copy(out, b.calls)
	return out
}

func (b *Browser) record(ctx context.Context, c Call) error {
	if hook := b.launcher.Hook; hook != nil {
		if err := hook(ctx, c); err != nil {
			return err
		}
	}
	b.mu.Lock()
	closed := b.closes > 0
	b.calls = append(b.calls, c)
	b.mu.Unlock()
	if closed {
		return fmt.Errorf("browser %d is closed", b.id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.launcher.failure(c.Method)
}

// Page is a fake browser.Page. Content returns the HTML registered for the
// current URL, or a generated document naming the URL.
type Page struct {
	browser *Browser

	mu  sync.Mutex
	url string
}

// URL returns the last navigated URL.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := p.browser.record(ctx, Call{Method: "Navigate", Value: url}); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	return p.browser.record(ctx, Call{Method: "Click", Selector: selector})
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	return p.browser.record(ctx, Call{Method: "Type", Selector: selector, Value: text})
}

func (p *Page) Content(ctx context.Context) (string, error) {
	if err := p.browser.record(ctx, Call{Method: "Content"}); err != nil {
		return "", err
	}
	url := p.URL()
	if html, ok := p.browser.launcher.pageHTML(url); ok {
		return html, nil
	}
	if url == "" {
		return "<html><head></head><body></body></html>", nil
	}
	return fmt.Sprintf("<html><head><title>%s</title></head><body><h1>%s</h1></body></html>", url, url), nil
}

func (p *Page) WaitVisible(ctx context.Context, selector string) error {
	return p.browser.record(ctx, Call{Method: "WaitVisible", Selector: selector})
}

func (p *Page) WaitHidden(ctx context.Context, selector string) error {
	return p.browser.record(ctx, Call{Method: "WaitHidden", Selector: selector})
}

func (p *Page) ScrollIntoView(ctx context.Context, selector string) error {
	return p.browser.record(ctx, Call{Method: "ScrollIntoView", Selector: selector})
}

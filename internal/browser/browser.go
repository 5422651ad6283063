package browser

import "context"

// Launcher starts a new browser instance. Implementations must return a
// Browser that is independent of any other instance they have launched.
type Launcher interface {
	Launch(ctx context.Context) (Browser, error)
}

// Browser is a running browser instance.
type Browser interface {
	// NewPage opens a new tab/page in the browser.
	NewPage(ctx context.Context) (Page, error)
	// Close terminates the browser and all its pages.
	Close() error
}

// Page is a single page driven by the engine's task executors.
// Every method blocks until the action completes or ctx is done.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Click(ctx context.Context, selector string) error
	Type(ctx context.Context, selector, text string) error
	Content(ctx context.Context) (string, error)
	WaitVisible(ctx context.Context, selector string) error
	WaitHidden(ctx context.Context, selector string) error
	ScrollIntoView(ctx context.Context, selector string) error
}

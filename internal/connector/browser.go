package connector

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
)

// Selectors locate the chat page elements a BrowserConnector drives.
type Selectors struct {
	Input    string
	Submit   string
	Response string
}

// BrowserConnector drives a model's web chat through Chrome. Login starts
// one browser and keeps it until Logout; every Execute runs in that same
// browser, so the cookies of the logged-in session carry authentication.
type BrowserConnector struct {
	name      string
	targetURL string
	remoteURL string // e.g. "ws://localhost:9222"; empty starts a headless browser
	selectors Selectors
	timeout   time.Duration

	mu       sync.RWMutex
	loggedIn bool
	browser  context.Context
	closeFn  context.CancelFunc

	// tab serializes page interactions; the browser has a single tab.
	tab sync.Mutex

	// start launches the browser and run executes actions in it; both are
	// replaced in tests.
	start func() (context.Context, context.CancelFunc, error)
	run   func(ctx context.Context, actions ...chromedp.Action) error
}

func NewBrowserConnector(name, targetURL, remoteURL string, sel Selectors, timeout time.Duration) *BrowserConnector {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	b := &BrowserConnector{
		name:      name,
		targetURL: targetURL,
		remoteURL: remoteURL,
		selectors: sel,
		timeout:   timeout,
		run:       chromedp.Run,
	}
	b.start = b.startChrome
	return b
}

func (b *BrowserConnector) Name() string { return b.name }
func (b *BrowserConnector) Type() Type   { return TypeBrowser }

func (b *BrowserConnector) Available(_ context.Context) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loggedIn
}

// Login starts the browser if needed, opens the target page and waits for
// the prompt input to appear. A failed login closes the browser.
func (b *BrowserConnector) Login(ctx context.Context) error {
	if b.targetURL == "" || b.selectors.Input == "" {
		return fmt.Errorf("browser connector %q: target url and input selector are required", b.name)
	}

	b.mu.Lock()
	if b.browser == nil {
		browser, closeFn, err := b.start()
		if err != nil {
			b.mu.Unlock()
			return fmt.Errorf("browser connector %q: start browser: %w", b.name, err)
		}
		b.browser, b.closeFn = browser, closeFn
	}
	browser := b.browser
	b.mu.Unlock()

	err := b.runIn(ctx, browser,
		chromedp.Navigate(b.targetURL),
		chromedp.WaitVisible(b.selectors.Input, chromedp.ByQuery),
	)
	if err != nil {
		b.Logout()
		return fmt.Errorf("browser connector %q: login: %w", b.name, err)
	}
	b.mu.Lock()
	b.loggedIn = true
	b.mu.Unlock()
	return nil
}

// Logout closes the browser and its session.
func (b *BrowserConnector) Logout() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loggedIn = false
	if b.closeFn != nil {
		b.closeFn()
	}
	b.browser, b.closeFn = nil, nil
}

func (b *BrowserConnector) Execute(ctx context.Context, prompt string, _ map[string]any) Response {
	b.mu.RLock()
	browser, loggedIn := b.browser, b.loggedIn
	b.mu.RUnlock()
	if !loggedIn || browser == nil {
		return Failed(b.name, "Not logged in")
	}

	var content string
	err := b.runIn(ctx, browser,
		chromedp.Navigate(b.targetURL),
		chromedp.WaitVisible(b.selectors.Input, chromedp.ByQuery),
		chromedp.SendKeys(b.selectors.Input, prompt, chromedp.ByQuery),
		chromedp.Click(b.selectors.Submit, chromedp.ByQuery),
		chromedp.WaitVisible(b.selectors.Response, chromedp.ByQuery),
		chromedp.Text(b.selectors.Response, &content, chromedp.ByQuery),
	)
	if err != nil {
		return Failed(b.name, "browser session error: %v", err)
	}
	return Response{Success: true, Content: strings.TrimSpace(content), ModelName: b.name}
}

// runIn runs actions in the browser's context, bounded by the connector
// timeout and by the caller's ctx.
func (b *BrowserConnector) runIn(ctx context.Context, browser context.Context, actions ...chromedp.Action) error {
	b.tab.Lock()
	defer b.tab.Unlock()

	callCtx, cancel := context.WithTimeout(browser, b.timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return b.run(callCtx, actions...)
}

// startChrome allocates the browser and opens its tab. The returned cancel
// func closes both.
func (b *BrowserConnector) startChrome() (context.Context, context.CancelFunc, error) {
	var allocatorCtx context.Context
	var cancelAlloc context.CancelFunc
	if b.remoteURL != "" {
		allocatorCtx, cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), b.remoteURL)
	} else {
		allocatorCtx, cancelAlloc = chromedp.NewExecAllocator(context.Background(), chromedp.DefaultExecAllocatorOptions[:]...)
	}
	browserCtx, cancelBrowser := chromedp.NewContext(allocatorCtx)
	closeFn := func() {
		cancelBrowser()
		cancelAlloc()
	}
	// An empty Run launches the browser on browserCtx itself, so later
	// per-call contexts derived from it do not own the browser's lifetime.
	if err := chromedp.Run(browserCtx); err != nil {
		closeFn()
		return nil, nil, err
	}
	return browserCtx, closeFn, nil
}

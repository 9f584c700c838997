// Package chromedp adapts the abstract engine capability onto a Chrome
// instance driven through chromedp and the CDP domains.
package chromedp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/log"
)

// Engine launches Chrome processes via a chromedp exec allocator.
type Engine struct {
	logger *log.Logger
}

// New creates a chromedp-backed engine.
func New(logger *log.Logger) *Engine {
	return &Engine{logger: logger}
}

// Launch starts a Chrome process. The returned Browser owns the allocator;
// closing it kills the process and every context and page under it.
func (e *Engine) Launch(ctx context.Context, opts engine.LaunchOptions) (engine.Browser, error) {
	e.logger.Debugf("Engine:Launch", "headless:%t args:%d", opts.Headless, len(opts.Args))

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if !opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.ExecutablePath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecutablePath))
	}
	for _, arg := range opts.Args {
		name, value, hasValue := strings.Cut(strings.TrimPrefix(arg, "--"), "=")
		if hasValue {
			allocOpts = append(allocOpts, chromedp.Flag(name, value))
		} else {
			allocOpts = append(allocOpts, chromedp.Flag(name, true))
		}
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), allocOpts...)
	rootCtx, cancelRoot := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(format string, args ...any) {
		e.logger.Debugf("Engine:chromedp", format, args...)
	}))

	// Bring the browser process up before reporting success.
	if err := chromedp.Run(rootCtx); err != nil {
		cancelRoot()
		cancelAlloc()
		return nil, fmt.Errorf("launching browser: %w", err)
	}

	b := &Browser{
		engine:        e,
		rootCtx:       rootCtx,
		cancelRoot:    cancelRoot,
		cancelAlloc:   cancelAlloc,
		downloadsPath: opts.DownloadsPath,
		logger:        e.logger,
	}
	b.version = b.fetchVersion()
	return b, nil
}

// Browser wraps the chromedp root context of one Chrome process.
type Browser struct {
	engine      *Engine
	rootCtx     context.Context
	cancelRoot  context.CancelFunc
	cancelAlloc context.CancelFunc
	logger      *log.Logger

	downloadsPath string
	version       string

	mu       sync.Mutex
	contexts []*BrowserContext
	closed   bool
}

// Version reports the browser product string.
func (b *Browser) Version() string { return b.version }

func (b *Browser) fetchVersion() string {
	var product string
	_ = chromedp.Run(b.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		_, p, _, _, _, err := cdpbrowser.GetVersion().Do(ctx)
		product = p
		return err
	}))
	return product
}

// NewContext creates an isolated browser context and applies its options.
func (b *Browser) NewContext(ctx context.Context, opts engine.ContextOptions) (engine.BrowserContext, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser closed")
	}
	b.mu.Unlock()

	var bctxID string
	err := chromedp.Run(b.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := target.CreateBrowserContext().WithDisposeOnDetach(true).Do(ctx)
		if err != nil {
			return err
		}
		bctxID = string(id)
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("creating browser context: %w", err)
	}

	bc := &BrowserContext{
		browser: b,
		id:      bctxID,
		opts:    opts,
		logger:  b.logger,
	}
	if len(opts.Permissions) > 0 {
		perms := make([]cdpbrowser.PermissionType, 0, len(opts.Permissions))
		for _, p := range opts.Permissions {
			perms = append(perms, cdpbrowser.PermissionType(p))
		}
		if err := chromedp.Run(b.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
			return cdpbrowser.GrantPermissions(perms).
				WithBrowserContextID(cdp.BrowserContextID(bctxID)).
				Do(ctx)
		})); err != nil {
			b.logger.Warnf("Browser:NewContext", "granting permissions: %v", err)
		}
	}
	b.mu.Lock()
	b.contexts = append(b.contexts, bc)
	b.mu.Unlock()
	return bc, nil
}

// Close tears the whole process down; contexts and pages die with it.
func (b *Browser) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	contexts := b.contexts
	b.contexts = nil
	b.mu.Unlock()

	for _, bc := range contexts {
		_ = bc.Close(ctx)
	}
	b.cancelRoot()
	b.cancelAlloc()
	return nil
}

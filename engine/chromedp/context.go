package chromedp

import (
	"context"
	"fmt"
	"sync"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/cdproto/tracing"
	"github.com/chromedp/chromedp"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/log"
)

// BrowserContext maps onto a CDP browser context (isolated cookie jar and
// storage). Pages are targets created inside it.
type BrowserContext struct {
	browser *Browser
	id      string
	opts    engine.ContextOptions
	logger  *log.Logger

	mu      sync.Mutex
	pages   []*Page
	tracing bool
	closed  bool
}

// NewPage creates a tab inside this context and applies the context options
// to it.
func (bc *BrowserContext) NewPage(ctx context.Context) (engine.Page, error) {
	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		return nil, fmt.Errorf("context closed")
	}
	bc.mu.Unlock()

	var tid target.ID
	err := chromedp.Run(bc.browser.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := target.CreateTarget("about:blank").
			WithBrowserContextID(cdp.BrowserContextID(bc.id)).
			Do(ctx)
		if err != nil {
			return err
		}
		tid = id
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("creating page target: %w", err)
	}

	pageCtx, cancel := chromedp.NewContext(bc.browser.rootCtx, chromedp.WithTargetID(tid))
	p := newPage(bc, pageCtx, cancel, string(tid), bc.logger)
	if err := p.applyContextOptions(ctx, bc.opts); err != nil {
		cancel()
		return nil, err
	}

	bc.mu.Lock()
	bc.pages = append(bc.pages, p)
	bc.mu.Unlock()
	return p, nil
}

// Close disposes the browser context; every page in it dies.
func (bc *BrowserContext) Close(ctx context.Context) error {
	bc.mu.Lock()
	if bc.closed {
		bc.mu.Unlock()
		return nil
	}
	bc.closed = true
	pages := bc.pages
	bc.pages = nil
	bc.mu.Unlock()

	for _, p := range pages {
		_ = p.Close(ctx)
	}
	return chromedp.Run(bc.browser.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.DisposeBrowserContext(cdp.BrowserContextID(bc.id)).Do(ctx)
	}))
}

// Cookies returns every cookie of the context.
func (bc *BrowserContext) Cookies(ctx context.Context) ([]engine.Cookie, error) {
	var out []engine.Cookie
	err := chromedp.Run(bc.browser.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := storage.GetCookies().WithBrowserContextID(cdp.BrowserContextID(bc.id)).Do(ctx)
		if err != nil {
			return err
		}
		for _, c := range cookies {
			out = append(out, engine.Cookie{
				Name:     c.Name,
				Value:    c.Value,
				Domain:   c.Domain,
				Path:     c.Path,
				Expires:  c.Expires,
				HTTPOnly: c.HTTPOnly,
				Secure:   c.Secure,
				SameSite: string(c.SameSite),
			})
		}
		return nil
	}))
	return out, err
}

// SetCookies installs cookies into the context.
func (bc *BrowserContext) SetCookies(ctx context.Context, cookies []engine.Cookie) error {
	params := make([]*network.CookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &network.CookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			URL:      c.URL,
			HTTPOnly: c.HTTPOnly,
			Secure:   c.Secure,
		}
		if c.SameSite != "" {
			p.SameSite = network.CookieSameSite(c.SameSite)
		}
		if c.Expires > 0 {
			t := cdp.TimeSinceEpoch(timeFromEpoch(c.Expires))
			p.Expires = &t
		}
		params = append(params, p)
	}
	return chromedp.Run(bc.browser.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.SetCookies(params).WithBrowserContextID(cdp.BrowserContextID(bc.id)).Do(ctx)
	}))
}

// ClearCookies drops every cookie of the context.
func (bc *BrowserContext) ClearCookies(ctx context.Context) error {
	return chromedp.Run(bc.browser.rootCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return storage.ClearCookies().WithBrowserContextID(cdp.BrowserContextID(bc.id)).Do(ctx)
	}))
}

// StorageState bundles cookies plus the localStorage of every open page's
// origin.
func (bc *BrowserContext) StorageState(ctx context.Context) (*engine.StorageState, error) {
	cookies, err := bc.Cookies(ctx)
	if err != nil {
		return nil, err
	}
	state := &engine.StorageState{Cookies: cookies}

	bc.mu.Lock()
	pages := append([]*Page(nil), bc.pages...)
	bc.mu.Unlock()

	seen := make(map[string]bool)
	for _, p := range pages {
		var origin string
		var pairs []engine.KVPair
		if err := p.Evaluate(ctx, "", storageStateScript, &struct {
			Origin *string          `json:"origin"`
			Items  *[]engine.KVPair `json:"items"`
		}{&origin, &pairs}); err != nil {
			continue
		}
		if origin == "" || seen[origin] {
			continue
		}
		seen[origin] = true
		state.Origins = append(state.Origins, engine.OriginStorage{Origin: origin, LocalStorage: pairs})
	}
	return state, nil
}

// SetStorageState installs cookies and localStorage onto the context.
func (bc *BrowserContext) SetStorageState(ctx context.Context, state *engine.StorageState) error {
	if state == nil {
		return nil
	}
	if len(state.Cookies) > 0 {
		if err := bc.SetCookies(ctx, state.Cookies); err != nil {
			return err
		}
	}
	// localStorage needs a page on the target origin; handled lazily by the
	// caller navigating first. Origins without an open page are skipped.
	bc.mu.Lock()
	pages := append([]*Page(nil), bc.pages...)
	bc.mu.Unlock()
	for _, origin := range state.Origins {
		for _, p := range pages {
			url, err := p.URL(ctx)
			if err != nil || !sameOrigin(url, origin.Origin) {
				continue
			}
			for _, kv := range origin.LocalStorage {
				script := fmt.Sprintf("localStorage.setItem(%q, %q)", kv.Name, kv.Value)
				_ = p.Evaluate(ctx, "", script, nil)
			}
		}
	}
	return nil
}

// SetGeolocation overrides the position for every page of the context.
func (bc *BrowserContext) SetGeolocation(ctx context.Context, lat, lon, accuracy float64) error {
	return bc.eachPage(func(p *Page) error {
		return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetGeolocationOverride().
				WithLatitude(lat).WithLongitude(lon).WithAccuracy(accuracy).
				Do(ctx)
		}))
	})
}

// SetOffline toggles network emulation for every page of the context.
func (bc *BrowserContext) SetOffline(ctx context.Context, offline bool) error {
	return bc.eachPage(func(p *Page) error {
		return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return network.EmulateNetworkConditions(offline, 0, -1, -1).Do(ctx)
		}))
	})
}

// SetUserAgent overrides the user agent for every page of the context.
func (bc *BrowserContext) SetUserAgent(ctx context.Context, ua string) error {
	return bc.eachPage(func(p *Page) error {
		return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			return emulation.SetUserAgentOverride(ua).Do(ctx)
		}))
	})
}

// StartTracing begins a trace on the context's first page.
func (bc *BrowserContext) StartTracing(ctx context.Context, screenshots bool) error {
	p := bc.firstPage()
	if p == nil {
		return fmt.Errorf("tracing requires an open page")
	}
	bc.mu.Lock()
	bc.tracing = true
	bc.mu.Unlock()

	categories := []string{"devtools.timeline", "disabled-by-default-devtools.timeline"}
	if screenshots {
		categories = append(categories, "disabled-by-default-devtools.screenshot")
	}
	p.startTraceCollection()
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return tracing.Start().
			WithTraceConfig(&tracing.TraceConfig{IncludedCategories: categories}).
			WithTransferMode(tracing.TransferModeReportEvents).
			Do(ctx)
	}))
}

// StopTracing ends the trace and returns the collected JSON events.
func (bc *BrowserContext) StopTracing(ctx context.Context) ([]byte, error) {
	p := bc.firstPage()
	if p == nil {
		return nil, fmt.Errorf("no page is tracing")
	}
	bc.mu.Lock()
	bc.tracing = false
	bc.mu.Unlock()

	if err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return tracing.End().Do(ctx)
	})); err != nil {
		return nil, err
	}
	return p.collectTrace(ctx)
}

func (bc *BrowserContext) firstPage() *Page {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if len(bc.pages) == 0 {
		return nil
	}
	return bc.pages[0]
}

func (bc *BrowserContext) eachPage(fn func(*Page) error) error {
	bc.mu.Lock()
	pages := append([]*Page(nil), bc.pages...)
	bc.mu.Unlock()
	for _, p := range pages {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

func (bc *BrowserContext) removePage(p *Page) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	for i, q := range bc.pages {
		if q == p {
			bc.pages = append(bc.pages[:i], bc.pages[i+1:]...)
			return
		}
	}
}

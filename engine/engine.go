// Package engine defines the abstract browser capability the BAP server
// drives. The server depends only on these interfaces; the chromedp adapter
// under engine/chromedp is the concrete collaborator.
package engine

import (
	"context"
	"time"

	"github.com/agentbrowser/bap/selector"
)

// Engine launches browsers.
type Engine interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

// Browser is a running browser process.
type Browser interface {
	NewContext(ctx context.Context, opts ContextOptions) (BrowserContext, error)
	Close(ctx context.Context) error
	Version() string
}

// BrowserContext is an isolation boundary owning pages, cookies and storage.
type BrowserContext interface {
	NewPage(ctx context.Context) (Page, error)
	Close(ctx context.Context) error

	Cookies(ctx context.Context) ([]Cookie, error)
	SetCookies(ctx context.Context, cookies []Cookie) error
	ClearCookies(ctx context.Context) error
	StorageState(ctx context.Context) (*StorageState, error)
	SetStorageState(ctx context.Context, state *StorageState) error

	SetGeolocation(ctx context.Context, lat, lon, accuracy float64) error
	SetOffline(ctx context.Context, offline bool) error
	SetUserAgent(ctx context.Context, ua string) error

	StartTracing(ctx context.Context, screenshots bool) error
	StopTracing(ctx context.Context) ([]byte, error)
}

// Page is a single tab. FrameID arguments target a subframe; the empty
// string targets the main frame.
type Page interface {
	Goto(ctx context.Context, url string, waitUntil string, timeout time.Duration) error
	Reload(ctx context.Context, timeout time.Duration) error
	GoBack(ctx context.Context, timeout time.Duration) error
	GoForward(ctx context.Context, timeout time.Duration) error
	Close(ctx context.Context) error
	Activate(ctx context.Context) error

	URL(ctx context.Context) (string, error)
	Title(ctx context.Context) (string, error)
	ViewportSize(ctx context.Context) (width, height int, err error)
	SetViewportSize(ctx context.Context, width, height int) error
	Content(ctx context.Context) (string, error)
	InnerText(ctx context.Context) (string, error)
	PDF(ctx context.Context, opts PDFOptions) ([]byte, error)
	Screenshot(ctx context.Context, opts ScreenshotOptions) ([]byte, error)

	// Evaluate runs script in the page (or the given frame) and unmarshals
	// the JSON result into out when out is non-nil.
	Evaluate(ctx context.Context, frameID string, script string, out any) error

	Frames(ctx context.Context) ([]FrameInfo, error)
	AccessibilityTree(ctx context.Context) (*AXNode, error)

	MouseClick(ctx context.Context, x, y float64, clicks int) error
	MouseMove(ctx context.Context, x, y float64) error
	KeyboardPress(ctx context.Context, key string) error
	Scroll(ctx context.Context, deltaX, deltaY float64) error

	Locator(frameID string, c selector.Compiled) Locator

	HandleDialogs(accept bool, promptText string)
	EnableInterception(ctx context.Context, patterns []string) error
	DisableInterception(ctx context.Context) error
	ContinueRequest(ctx context.Context, requestID string, overrides *RequestOverrides) error
	FulfillRequest(ctx context.Context, requestID string, response *FulfillResponse) error
	AbortRequest(ctx context.Context, requestID string, reason string) error

	// On registers an event callback. Supported event types: load,
	// domcontentloaded, close, console, dialog, download, request,
	// response, requestfailed, requestpaused.
	On(event string, cb func(Event))
}

// Locator addresses zero or more elements matching a compiled selector.
type Locator interface {
	Click(ctx context.Context, opts ClickOptions) error
	Dblclick(ctx context.Context, opts ClickOptions) error
	Fill(ctx context.Context, value string, timeout time.Duration) error
	Clear(ctx context.Context, timeout time.Duration) error
	Type(ctx context.Context, text string, delay time.Duration, timeout time.Duration) error
	Press(ctx context.Context, key string, timeout time.Duration) error
	Hover(ctx context.Context, timeout time.Duration) error
	ScrollIntoView(ctx context.Context, timeout time.Duration) error
	SelectOption(ctx context.Context, values []string, timeout time.Duration) error
	Check(ctx context.Context, timeout time.Duration) error
	Uncheck(ctx context.Context, timeout time.Duration) error
	SetInputFiles(ctx context.Context, files []string, timeout time.Duration) error
	DragTo(ctx context.Context, target Locator, timeout time.Duration) error

	BoundingBox(ctx context.Context) (x, y, width, height float64, err error)
	IsVisible(ctx context.Context) (bool, error)
	IsEnabled(ctx context.Context) (bool, error)
	IsChecked(ctx context.Context) (bool, error)
	IsDisabled(ctx context.Context) (bool, error)
	InnerText(ctx context.Context) (string, error)
	InputValue(ctx context.Context) (string, error)
	GetAttribute(ctx context.Context, name string) (string, bool, error)
	Evaluate(ctx context.Context, script string, out any) error
	WaitFor(ctx context.Context, state string, timeout time.Duration) error
	Count(ctx context.Context) (int, error)
	AriaSnapshot(ctx context.Context) (string, error)
}

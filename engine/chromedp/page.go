package chromedp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/cdproto/network"
	cdppage "github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/tracing"
	"github.com/chromedp/chromedp"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/log"
	"github.com/agentbrowser/bap/selector"
)

// Page drives one tab through its chromedp target context.
type Page struct {
	bctx     *BrowserContext
	ctx      context.Context
	cancel   context.CancelFunc
	targetID string
	logger   *log.Logger

	mu        sync.Mutex
	closed    bool
	listeners map[string][]func(engine.Event)

	// Frame id -> execution context id, maintained from runtime events.
	execContexts map[string]runtime.ExecutionContextID

	dialogMu     sync.Mutex
	dialogAccept bool
	dialogText   string
	dialogAuto   bool

	traceMu    sync.Mutex
	traceBuf   *bytes.Buffer
	intercepts bool
}

func newPage(bctx *BrowserContext, ctx context.Context, cancel context.CancelFunc, targetID string, logger *log.Logger) *Page {
	p := &Page{
		bctx:         bctx,
		ctx:          ctx,
		cancel:       cancel,
		targetID:     targetID,
		logger:       logger,
		listeners:    make(map[string][]func(engine.Event)),
		execContexts: make(map[string]runtime.ExecutionContextID),
	}
	p.listen()
	return p
}

func (p *Page) applyContextOptions(ctx context.Context, opts engine.ContextOptions) error {
	if opts.Viewport != nil {
		if err := p.SetViewportSize(ctx, opts.Viewport.Width, opts.Viewport.Height); err != nil {
			return err
		}
	}
	var actions []chromedp.Action
	if opts.UserAgent != "" || opts.Locale != "" {
		ua := emulation.SetUserAgentOverride(opts.UserAgent)
		if opts.Locale != "" {
			ua = ua.WithAcceptLanguage(opts.Locale)
		}
		actions = append(actions, ua)
	}
	if opts.TimezoneID != "" {
		actions = append(actions, emulation.SetTimezoneOverride(opts.TimezoneID))
	}
	if opts.Geolocation != nil {
		actions = append(actions, emulation.SetGeolocationOverride().
			WithLatitude(opts.Geolocation.Latitude).
			WithLongitude(opts.Geolocation.Longitude).
			WithAccuracy(opts.Geolocation.Accuracy))
	}
	if opts.ColorScheme != "" {
		actions = append(actions, emulation.SetEmulatedMedia().
			WithFeatures([]*emulation.MediaFeature{{Name: "prefers-color-scheme", Value: opts.ColorScheme}}))
	}
	if len(actions) > 0 {
		if err := chromedp.Run(p.ctx, actions...); err != nil {
			return fmt.Errorf("applying context options: %w", err)
		}
	}
	if opts.Offline {
		if err := p.bctx.SetOffline(ctx, true); err != nil {
			return err
		}
	}
	return nil
}

// Goto navigates and waits for the requested lifecycle event.
func (p *Page) Goto(ctx context.Context, url string, waitUntil string, timeout time.Duration) error {
	runCtx, cancel := p.deadline(timeout)
	defer cancel()

	actions := []chromedp.Action{chromedp.Navigate(url)}
	switch waitUntil {
	case "domcontentloaded":
		actions = append(actions, chromedp.WaitReady("body"))
	case "networkidle":
		actions = append(actions, chromedp.WaitReady("body"), chromedp.Sleep(500*time.Millisecond))
	}
	if err := chromedp.Run(runCtx, actions...); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Reload reloads the page.
func (p *Page) Reload(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := p.deadline(timeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.Reload())
}

// GoBack walks one entry back in history.
func (p *Page) GoBack(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := p.deadline(timeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.NavigateBack())
}

// GoForward walks one entry forward in history.
func (p *Page) GoForward(ctx context.Context, timeout time.Duration) error {
	runCtx, cancel := p.deadline(timeout)
	defer cancel()
	return chromedp.Run(runCtx, chromedp.NavigateForward())
}

// Close closes the tab.
func (p *Page) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.bctx.removePage(p)
	err := chromedp.Cancel(p.ctx)
	p.cancel()
	return err
}

// Activate brings the tab to front.
func (p *Page) Activate(ctx context.Context) error {
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdppage.BringToFront().Do(ctx)
	}))
}

// URL returns the current page URL.
func (p *Page) URL(ctx context.Context) (string, error) {
	var url string
	err := chromedp.Run(p.ctx, chromedp.Location(&url))
	return url, err
}

// Title returns the current page title.
func (p *Page) Title(ctx context.Context) (string, error) {
	var title string
	err := chromedp.Run(p.ctx, chromedp.Title(&title))
	return title, err
}

// ViewportSize reads the CSS viewport.
func (p *Page) ViewportSize(ctx context.Context) (int, int, error) {
	var size struct {
		W int `json:"w"`
		H int `json:"h"`
	}
	err := p.Evaluate(ctx, "", `({w: window.innerWidth, h: window.innerHeight})`, &size)
	return size.W, size.H, err
}

// SetViewportSize overrides device metrics.
func (p *Page) SetViewportSize(ctx context.Context, width, height int) error {
	return chromedp.Run(p.ctx, chromedp.EmulateViewport(int64(width), int64(height)))
}

// Content returns the full serialized HTML.
func (p *Page) Content(ctx context.Context) (string, error) {
	var html string
	err := chromedp.Run(p.ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

// InnerText returns document.body.innerText.
func (p *Page) InnerText(ctx context.Context) (string, error) {
	var text string
	err := p.Evaluate(ctx, "", "document.body ? document.body.innerText : ''", &text)
	return text, err
}

// PDF renders the page to PDF.
func (p *Page) PDF(ctx context.Context, opts engine.PDFOptions) ([]byte, error) {
	var data []byte
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := cdppage.PrintToPDF().
			WithLandscape(opts.Landscape).
			WithPrintBackground(opts.PrintBackground)
		if opts.Scale > 0 {
			params = params.WithScale(opts.Scale)
		}
		if opts.PaperWidth > 0 {
			params = params.WithPaperWidth(opts.PaperWidth)
		}
		if opts.PaperHeight > 0 {
			params = params.WithPaperHeight(opts.PaperHeight)
		}
		buf, _, err := params.Do(ctx)
		data = buf
		return err
	}))
	return data, err
}

// Screenshot captures the viewport, a clip region, or the full page.
func (p *Page) Screenshot(ctx context.Context, opts engine.ScreenshotOptions) ([]byte, error) {
	var data []byte
	format := cdppage.CaptureScreenshotFormatPng
	if opts.Format == "jpeg" {
		format = cdppage.CaptureScreenshotFormatJpeg
	}
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := cdppage.CaptureScreenshot().WithFormat(format)
		if opts.Format == "jpeg" && opts.Quality > 0 {
			params = params.WithQuality(int64(opts.Quality))
		}
		if opts.FullPage {
			params = params.WithCaptureBeyondViewport(true)
		}
		if opts.Clip != nil {
			params = params.WithClip(&cdppage.Viewport{
				X: opts.Clip.X, Y: opts.Clip.Y,
				Width: opts.Clip.Width, Height: opts.Clip.Height,
				Scale: 1,
			})
		}
		buf, err := params.Do(ctx)
		data = buf
		return err
	}))
	return data, err
}

// Evaluate runs script in the main frame or, when frameID is set, inside
// that frame's execution context.
func (p *Page) Evaluate(ctx context.Context, frameID string, script string, out any) error {
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := runtime.Evaluate(script).
			WithReturnByValue(true).
			WithAwaitPromise(true)
		if frameID != "" {
			p.mu.Lock()
			ectx, ok := p.execContexts[frameID]
			p.mu.Unlock()
			if !ok {
				return fmt.Errorf("frame %s has no execution context", frameID)
			}
			params = params.WithContextID(ectx)
		}
		res, exc, err := params.Do(ctx)
		if err != nil {
			return err
		}
		if exc != nil {
			return fmt.Errorf("evaluate threw: %s", exc.Text)
		}
		if out == nil || res == nil {
			return nil
		}
		return json.Unmarshal(res.Value, out)
	}))
}

// Frames lists the frame tree.
func (p *Page) Frames(ctx context.Context) ([]engine.FrameInfo, error) {
	var frames []engine.FrameInfo
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		tree, err := cdppage.GetFrameTree().Do(ctx)
		if err != nil {
			return err
		}
		var walk func(node *cdppage.FrameTree, main bool)
		walk = func(node *cdppage.FrameTree, main bool) {
			fi := engine.FrameInfo{
				ID:   string(node.Frame.ID),
				URL:  node.Frame.URL,
				Main: main,
			}
			if node.Frame.ParentID != "" {
				fi.ParentID = string(node.Frame.ParentID)
			}
			frames = append(frames, fi)
			for _, child := range node.ChildFrames {
				walk(child, false)
			}
		}
		walk(tree, true)
		return nil
	}))
	return frames, err
}

// AccessibilityTree returns the full AX tree rebuilt from the flat CDP form.
func (p *Page) AccessibilityTree(ctx context.Context) (*engine.AXNode, error) {
	var root *engine.AXNode
	err := chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		nodes, err := accessibility.GetFullAXTree().Do(ctx)
		if err != nil {
			return err
		}
		byID := make(map[accessibility.NodeID]*engine.AXNode, len(nodes))
		src := make(map[accessibility.NodeID]*accessibility.Node, len(nodes))
		for _, n := range nodes {
			node := &engine.AXNode{}
			if n.Role != nil {
				node.Role = axValueString(n.Role)
			}
			if n.Name != nil {
				node.Name = axValueString(n.Name)
			}
			if n.Value != nil {
				node.Value = axValueString(n.Value)
			}
			byID[n.NodeID] = node
			src[n.NodeID] = n
		}
		for id, n := range src {
			for _, childID := range n.ChildIDs {
				if child, ok := byID[childID]; ok {
					byID[id].Children = append(byID[id].Children, child)
				}
			}
		}
		for _, n := range nodes {
			if n.ParentID == "" {
				root = byID[n.NodeID]
				break
			}
		}
		return nil
	}))
	return root, err
}

// MouseClick dispatches raw mouse events at page coordinates.
func (p *Page) MouseClick(ctx context.Context, x, y float64, clicks int) error {
	if clicks <= 0 {
		clicks = 1
	}
	actions := []chromedp.Action{}
	for i := 0; i < clicks; i++ {
		actions = append(actions, chromedp.MouseClickXY(x, y))
	}
	return chromedp.Run(p.ctx, actions...)
}

// MouseMove moves the pointer to page coordinates.
func (p *Page) MouseMove(ctx context.Context, x, y float64) error {
	return chromedp.Run(p.ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

// KeyboardPress sends a key chord to the focused element.
func (p *Page) KeyboardPress(ctx context.Context, key string) error {
	return chromedp.Run(p.ctx, chromedp.KeyEvent(key))
}

// Scroll scrolls the window by the given deltas.
func (p *Page) Scroll(ctx context.Context, deltaX, deltaY float64) error {
	script := fmt.Sprintf("window.scrollBy(%f, %f)", deltaX, deltaY)
	return p.Evaluate(ctx, "", script, nil)
}

// Locator builds a locator bound to this page and frame.
func (p *Page) Locator(frameID string, c selector.Compiled) engine.Locator {
	return &Locator{page: p, frameID: frameID, compiled: c}
}

// HandleDialogs configures automatic handling of future JavaScript dialogs.
func (p *Page) HandleDialogs(accept bool, promptText string) {
	p.dialogMu.Lock()
	defer p.dialogMu.Unlock()
	p.dialogAuto = true
	p.dialogAccept = accept
	p.dialogText = promptText
}

// EnableInterception pauses requests matching the URL patterns.
func (p *Page) EnableInterception(ctx context.Context, patterns []string) error {
	reqs := make([]*fetch.RequestPattern, 0, len(patterns))
	for _, pat := range patterns {
		reqs = append(reqs, &fetch.RequestPattern{URLPattern: pat})
	}
	p.mu.Lock()
	p.intercepts = true
	p.mu.Unlock()
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return fetch.Enable().WithPatterns(reqs).Do(ctx)
	}))
}

// DisableInterception resumes normal loading.
func (p *Page) DisableInterception(ctx context.Context) error {
	p.mu.Lock()
	p.intercepts = false
	p.mu.Unlock()
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return fetch.Disable().Do(ctx)
	}))
}

// ContinueRequest resumes a paused request, optionally mutated.
func (p *Page) ContinueRequest(ctx context.Context, requestID string, overrides *engine.RequestOverrides) error {
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := fetch.ContinueRequest(fetch.RequestID(requestID))
		if overrides != nil {
			if overrides.URL != "" {
				params = params.WithURL(overrides.URL)
			}
			if overrides.Method != "" {
				params = params.WithMethod(overrides.Method)
			}
			if len(overrides.Headers) > 0 {
				params = params.WithHeaders(headerEntries(overrides.Headers))
			}
			if overrides.Body != "" {
				params = params.WithPostData(overrides.Body)
			}
		}
		return params.Do(ctx)
	}))
}

// FulfillRequest answers a paused request from the given response.
func (p *Page) FulfillRequest(ctx context.Context, requestID string, response *engine.FulfillResponse) error {
	if response == nil {
		return fmt.Errorf("fulfill requires a response")
	}
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		params := fetch.FulfillRequest(fetch.RequestID(requestID), int64(response.Status))
		if len(response.Headers) > 0 {
			params = params.WithResponseHeaders(headerEntries(response.Headers))
		}
		if response.Body != "" {
			params = params.WithBody(base64Encode(response.Body))
		}
		return params.Do(ctx)
	}))
}

// AbortRequest fails a paused request.
func (p *Page) AbortRequest(ctx context.Context, requestID string, reason string) error {
	errReason := network.ErrorReasonAborted
	switch reason {
	case "accessdenied":
		errReason = network.ErrorReasonAccessDenied
	case "connectionrefused":
		errReason = network.ErrorReasonConnectionRefused
	case "timedout":
		errReason = network.ErrorReasonTimedOut
	}
	return chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		return fetch.FailRequest(fetch.RequestID(requestID), errReason).Do(ctx)
	}))
}

// On registers an event callback.
func (p *Page) On(event string, cb func(engine.Event)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners[event] = append(p.listeners[event], cb)
}

func (p *Page) emit(ev engine.Event) {
	ev.PageID = p.targetID
	p.mu.Lock()
	cbs := append(([]func(engine.Event))(nil), p.listeners[ev.Type]...)
	p.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

func (p *Page) startTraceCollection() {
	p.traceMu.Lock()
	defer p.traceMu.Unlock()
	p.traceBuf = &bytes.Buffer{}
	p.traceBuf.WriteString(`{"traceEvents":[`)
}

func (p *Page) appendTraceChunk(chunk []byte) {
	p.traceMu.Lock()
	defer p.traceMu.Unlock()
	if p.traceBuf == nil {
		return
	}
	if p.traceBuf.Len() > len(`{"traceEvents":[`) {
		p.traceBuf.WriteByte(',')
	}
	// DataCollected carries a JSON array of events; splice its content.
	trimmed := bytes.TrimSuffix(bytes.TrimPrefix(bytes.TrimSpace(chunk), []byte("[")), []byte("]"))
	p.traceBuf.Write(trimmed)
}

func (p *Page) collectTrace(ctx context.Context) ([]byte, error) {
	// Give DataCollected events a moment to drain after tracing.End.
	select {
	case <-time.After(500 * time.Millisecond):
	case <-ctx.Done():
	}
	p.traceMu.Lock()
	defer p.traceMu.Unlock()
	if p.traceBuf == nil {
		return nil, fmt.Errorf("no trace in progress")
	}
	p.traceBuf.WriteString("]}")
	out := p.traceBuf.Bytes()
	p.traceBuf = nil
	return out, nil
}

// deadline derives the run context for one engine call.
func (p *Page) deadline(timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return context.WithTimeout(p.ctx, timeout)
}

// listen translates CDP events into engine events.
func (p *Page) listen() {
	chromedp.ListenTarget(p.ctx, func(ev any) {
		switch e := ev.(type) {
		case *cdppage.EventLoadEventFired:
			p.emit(engine.Event{Type: "load"})
		case *cdppage.EventDomContentEventFired:
			p.emit(engine.Event{Type: "domcontentloaded"})
		case *cdppage.EventJavascriptDialogOpening:
			p.dialogMu.Lock()
			auto, accept, text := p.dialogAuto, p.dialogAccept, p.dialogText
			p.dialogMu.Unlock()
			p.emit(engine.Event{Type: "dialog", Text: e.Message, Extra: map[string]any{
				"dialogType": string(e.Type),
				"url":        e.URL,
			}})
			if auto {
				go func() {
					_ = chromedp.Run(p.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
						params := cdppage.HandleJavaScriptDialog(accept)
						if text != "" {
							params = params.WithPromptText(text)
						}
						return params.Do(ctx)
					}))
				}()
			}
		case *runtime.EventConsoleAPICalled:
			p.emit(engine.Event{Type: "console", Level: string(e.Type), Text: consoleText(e.Args)})
		case *runtime.EventExecutionContextCreated:
			var aux struct {
				FrameID string `json:"frameId"`
			}
			if len(e.Context.AuxData) > 0 && json.Unmarshal(e.Context.AuxData, &aux) == nil && aux.FrameID != "" {
				p.mu.Lock()
				p.execContexts[aux.FrameID] = e.Context.ID
				p.mu.Unlock()
			}
		case *runtime.EventExecutionContextsCleared:
			p.mu.Lock()
			p.execContexts = make(map[string]runtime.ExecutionContextID)
			p.mu.Unlock()
		case *fetch.EventRequestPaused:
			p.emit(engine.Event{
				Type:      "requestpaused",
				RequestID: string(e.RequestID),
				URL:       e.Request.URL,
				Method:    e.Request.Method,
			})
		case *network.EventRequestWillBeSent:
			p.emit(engine.Event{
				Type:      "request",
				RequestID: string(e.RequestID),
				URL:       e.Request.URL,
				Method:    e.Request.Method,
			})
		case *network.EventResponseReceived:
			p.emit(engine.Event{
				Type:      "response",
				RequestID: string(e.RequestID),
				URL:       e.Response.URL,
				Status:    int(e.Response.Status),
			})
		case *network.EventLoadingFailed:
			p.emit(engine.Event{
				Type:      "requestfailed",
				RequestID: string(e.RequestID),
				Failure:   e.ErrorText,
			})
		case *tracing.EventDataCollected:
			raw, err := json.Marshal(e.Value)
			if err == nil {
				p.appendTraceChunk(raw)
			}
		case *browser.EventDownloadWillBegin:
			p.emit(engine.Event{Type: "download", URL: e.URL, Extra: map[string]any{
				"suggestedFilename": e.SuggestedFilename,
			}})
		}
	})

	// Target teardown surfaces as a page close event.
	go func() {
		<-p.ctx.Done()
		p.mu.Lock()
		wasClosed := p.closed
		p.closed = true
		p.mu.Unlock()
		if !wasClosed {
			p.bctx.removePage(p)
			p.emit(engine.Event{Type: "close"})
		}
	}()
}

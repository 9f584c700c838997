package chromedp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/input"
	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"

	"github.com/agentbrowser/bap/engine"
	"github.com/agentbrowser/bap/selector"
)

// Locator addresses elements through in-page evaluation plus raw input
// dispatch, so every selector kind (CSS, XPath, coordinates) and every frame
// goes through one code path.
type Locator struct {
	page     *Page
	frameID  string
	compiled selector.Compiled
}

const defaultActionTimeout = 30 * time.Second

// queryExpr returns a JS expression evaluating to the first matching element
// or null.
func (l *Locator) queryExpr() string {
	q, _ := json.Marshal(l.compiled.Query)
	switch l.compiled.Kind {
	case selector.LocatorXPath:
		return fmt.Sprintf(
			"document.evaluate(%s, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue", q)
	default:
		return fmt.Sprintf("document.querySelector(%s)", q)
	}
}

// countExpr returns a JS expression counting all matches.
func (l *Locator) countExpr() string {
	q, _ := json.Marshal(l.compiled.Query)
	switch l.compiled.Kind {
	case selector.LocatorXPath:
		return fmt.Sprintf(
			"document.evaluate(%s, document, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null).snapshotLength", q)
	default:
		return fmt.Sprintf("document.querySelectorAll(%s).length", q)
	}
}

// eval runs a script with `el` bound to the matched element. The script must
// be an expression.
func (l *Locator) eval(ctx context.Context, script string, out any) error {
	wrapped := fmt.Sprintf(`(() => {
	const el = %s;
	if (!el) return {__bapMissing: true};
	return {value: (el => (%s))(el)};
})()`, l.queryExpr(), script)

	var res struct {
		Missing bool            `json:"__bapMissing"`
		Value   json.RawMessage `json:"value"`
	}
	if err := l.page.Evaluate(ctx, l.frameID, wrapped, &res); err != nil {
		return err
	}
	if res.Missing {
		return fmt.Errorf("element not found: %s", l.compiled.Query)
	}
	if out == nil || res.Value == nil {
		return nil
	}
	return json.Unmarshal(res.Value, out)
}

// center resolves the element's viewport center, scrolling it into view
// first.
func (l *Locator) center(ctx context.Context) (float64, float64, error) {
	if l.compiled.Kind == selector.LocatorCoordinates {
		return l.compiled.X, l.compiled.Y, nil
	}
	var box struct {
		X, Y, W, H float64
	}
	script := `(() => {
	el.scrollIntoView({block: 'center', inline: 'center'});
	const r = el.getBoundingClientRect();
	return {X: r.x, Y: r.y, W: r.width, H: r.height};
})()`
	if err := l.eval(ctx, script, &box); err != nil {
		return 0, 0, err
	}
	if box.W == 0 && box.H == 0 {
		return 0, 0, fmt.Errorf("element is not visible: %s", l.compiled.Query)
	}
	return box.X + box.W/2, box.Y + box.H/2, nil
}

// Click clicks the element (or raw coordinates) with the requested button.
func (l *Locator) Click(ctx context.Context, opts engine.ClickOptions) error {
	if err := l.waitActionable(ctx, opts.Timeout); err != nil {
		return err
	}
	x, y, err := l.center(ctx)
	if err != nil {
		return err
	}
	count := opts.Count
	if count <= 0 {
		count = 1
	}
	mouseOpts := []chromedp.MouseOption{chromedp.ClickCount(count)}
	if opts.Button != "" && opts.Button != "left" {
		mouseOpts = append(mouseOpts, chromedp.Button(opts.Button))
	}
	return chromedp.Run(l.page.ctx, chromedp.MouseClickXY(x, y, mouseOpts...))
}

// Dblclick double clicks the element.
func (l *Locator) Dblclick(ctx context.Context, opts engine.ClickOptions) error {
	opts.Count = 2
	return l.Click(ctx, opts)
}

// Fill sets the element value directly and fires input events.
func (l *Locator) Fill(ctx context.Context, value string, timeout time.Duration) error {
	if err := l.waitActionable(ctx, timeout); err != nil {
		return err
	}
	v, _ := json.Marshal(value)
	script := fmt.Sprintf(`(() => {
	el.focus();
	if (el.isContentEditable) { el.textContent = %s; }
	else { el.value = %s; }
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`, v, v)
	return l.eval(ctx, script, nil)
}

// Clear empties the element value.
func (l *Locator) Clear(ctx context.Context, timeout time.Duration) error {
	return l.Fill(ctx, "", timeout)
}

// Type focuses the element and sends keystrokes sequentially.
func (l *Locator) Type(ctx context.Context, text string, delay time.Duration, timeout time.Duration) error {
	if err := l.waitActionable(ctx, timeout); err != nil {
		return err
	}
	if err := l.eval(ctx, "el.focus(), true", nil); err != nil {
		return err
	}
	for _, r := range text {
		if err := chromedp.Run(l.page.ctx, chromedp.KeyEvent(string(r))); err != nil {
			return err
		}
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return nil
}

// Press sends a key chord to the focused element.
func (l *Locator) Press(ctx context.Context, key string, timeout time.Duration) error {
	if err := l.waitActionable(ctx, timeout); err != nil {
		return err
	}
	if err := l.eval(ctx, "el.focus(), true", nil); err != nil {
		return err
	}
	return chromedp.Run(l.page.ctx, chromedp.KeyEvent(chordToKey(key)))
}

// Hover moves the pointer over the element.
func (l *Locator) Hover(ctx context.Context, timeout time.Duration) error {
	if err := l.waitActionable(ctx, timeout); err != nil {
		return err
	}
	x, y, err := l.center(ctx)
	if err != nil {
		return err
	}
	return chromedp.Run(l.page.ctx, chromedp.MouseEvent(input.MouseMoved, x, y))
}

// ScrollIntoView scrolls the element into the viewport.
func (l *Locator) ScrollIntoView(ctx context.Context, timeout time.Duration) error {
	if err := l.waitFor(ctx, engine.WaitExists, timeout); err != nil {
		return err
	}
	return l.eval(ctx, "el.scrollIntoView({block: 'center', inline: 'center'}), true", nil)
}

// SelectOption selects the given values of a <select>.
func (l *Locator) SelectOption(ctx context.Context, values []string, timeout time.Duration) error {
	if err := l.waitActionable(ctx, timeout); err != nil {
		return err
	}
	v, _ := json.Marshal(values)
	script := fmt.Sprintf(`(() => {
	const wanted = new Set(%s);
	for (const opt of el.options) {
		opt.selected = wanted.has(opt.value) || wanted.has(opt.label);
	}
	el.dispatchEvent(new Event('input', {bubbles: true}));
	el.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`, v)
	return l.eval(ctx, script, nil)
}

// Check ensures a checkbox or radio is checked.
func (l *Locator) Check(ctx context.Context, timeout time.Duration) error {
	return l.setChecked(ctx, true, timeout)
}

// Uncheck ensures a checkbox is unchecked.
func (l *Locator) Uncheck(ctx context.Context, timeout time.Duration) error {
	return l.setChecked(ctx, false, timeout)
}

func (l *Locator) setChecked(ctx context.Context, checked bool, timeout time.Duration) error {
	if err := l.waitActionable(ctx, timeout); err != nil {
		return err
	}
	script := fmt.Sprintf(`(() => {
	if (el.checked !== %t) { el.click(); }
	return el.checked;
})()`, checked)
	var state bool
	if err := l.eval(ctx, script, &state); err != nil {
		return err
	}
	if state != checked {
		return fmt.Errorf("element did not change checked state")
	}
	return nil
}

// SetInputFiles attaches files to an <input type=file>.
func (l *Locator) SetInputFiles(ctx context.Context, files []string, timeout time.Duration) error {
	if err := l.waitFor(ctx, engine.WaitExists, timeout); err != nil {
		return err
	}
	queryOpt := chromedp.ByQuery
	if l.compiled.Kind == selector.LocatorXPath {
		queryOpt = chromedp.BySearch
	}
	return chromedp.Run(l.page.ctx, chromedp.SetUploadFiles(l.compiled.Query, files, queryOpt))
}

// DragTo drags the element onto the target via raw mouse events.
func (l *Locator) DragTo(ctx context.Context, target engine.Locator, timeout time.Duration) error {
	if err := l.waitActionable(ctx, timeout); err != nil {
		return err
	}
	tl, ok := target.(*Locator)
	if !ok {
		return fmt.Errorf("drag target must belong to the same engine")
	}
	sx, sy, err := l.center(ctx)
	if err != nil {
		return err
	}
	tx, ty, err := tl.center(ctx)
	if err != nil {
		return err
	}
	pressed := []chromedp.MouseOption{chromedp.ButtonType(input.Left), chromedp.ClickCount(1)}
	return chromedp.Run(l.page.ctx,
		chromedp.MouseEvent(input.MousePressed, sx, sy, pressed...),
		chromedp.MouseEvent(input.MouseMoved, (sx+tx)/2, (sy+ty)/2),
		chromedp.MouseEvent(input.MouseMoved, tx, ty),
		chromedp.MouseEvent(input.MouseReleased, tx, ty, chromedp.ButtonType(input.Left)),
	)
}

// BoundingBox returns the element box in page coordinates.
func (l *Locator) BoundingBox(ctx context.Context) (float64, float64, float64, float64, error) {
	var box struct {
		X, Y, W, H float64
	}
	script := `(() => {
	const r = el.getBoundingClientRect();
	return {X: r.x + window.scrollX, Y: r.y + window.scrollY, W: r.width, H: r.height};
})()`
	if err := l.eval(ctx, script, &box); err != nil {
		return 0, 0, 0, 0, err
	}
	return box.X, box.Y, box.W, box.H, nil
}

// IsVisible reports whether the element exists and has a visible box.
func (l *Locator) IsVisible(ctx context.Context) (bool, error) {
	var visible bool
	err := l.eval(ctx, visibleExpr, &visible)
	if err != nil && isMissingErr(err) {
		return false, nil
	}
	return visible, err
}

// IsEnabled reports the inverse of the disabled property.
func (l *Locator) IsEnabled(ctx context.Context) (bool, error) {
	var enabled bool
	err := l.eval(ctx, "!el.disabled", &enabled)
	return enabled, err
}

// IsChecked reports the checked property.
func (l *Locator) IsChecked(ctx context.Context) (bool, error) {
	var checked bool
	err := l.eval(ctx, "!!el.checked", &checked)
	return checked, err
}

// IsDisabled reports the disabled property.
func (l *Locator) IsDisabled(ctx context.Context) (bool, error) {
	var disabled bool
	err := l.eval(ctx, "!!el.disabled", &disabled)
	return disabled, err
}

// InnerText returns the rendered text.
func (l *Locator) InnerText(ctx context.Context) (string, error) {
	var text string
	err := l.eval(ctx, "el.innerText !== undefined ? el.innerText : el.textContent", &text)
	return text, err
}

// InputValue returns the value property.
func (l *Locator) InputValue(ctx context.Context) (string, error) {
	var value string
	err := l.eval(ctx, "el.value !== undefined ? String(el.value) : ''", &value)
	return value, err
}

// GetAttribute returns an attribute value and whether it is present.
func (l *Locator) GetAttribute(ctx context.Context, name string) (string, bool, error) {
	n, _ := json.Marshal(name)
	var res struct {
		Present bool   `json:"present"`
		Value   string `json:"value"`
	}
	script := fmt.Sprintf(`({present: el.hasAttribute(%s), value: el.getAttribute(%s) || ''})`, n, n)
	if err := l.eval(ctx, script, &res); err != nil {
		return "", false, err
	}
	return res.Value, res.Present, nil
}

// Evaluate runs a script expression with `el` bound to the element.
func (l *Locator) Evaluate(ctx context.Context, script string, out any) error {
	return l.eval(ctx, script, out)
}

// Count returns the number of matches.
func (l *Locator) Count(ctx context.Context) (int, error) {
	var n int
	err := l.page.Evaluate(ctx, l.frameID, l.countExpr(), &n)
	return n, err
}

// AriaSnapshot renders the element subtree as an indented role/name outline.
func (l *Locator) AriaSnapshot(ctx context.Context) (string, error) {
	var snapshot string
	err := l.eval(ctx, ariaSnapshotExpr, &snapshot)
	return snapshot, err
}

// WaitFor polls until the element reaches the requested state.
func (l *Locator) WaitFor(ctx context.Context, state string, timeout time.Duration) error {
	return l.waitFor(ctx, state, timeout)
}

func (l *Locator) waitActionable(ctx context.Context, timeout time.Duration) error {
	if l.compiled.Kind == selector.LocatorCoordinates {
		return nil
	}
	return l.waitFor(ctx, engine.WaitVisible, timeout)
}

func (l *Locator) waitFor(ctx context.Context, state string, timeout time.Duration) error {
	if l.compiled.Kind == selector.LocatorCoordinates {
		return nil
	}
	if timeout <= 0 {
		timeout = defaultActionTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.stateReached(ctx, state)
		if err != nil && !isMissingErr(err) {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timeout waiting for %s to be %s", l.compiled.Query, state)
		}
		select {
		case <-time.After(100 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Locator) stateReached(ctx context.Context, state string) (bool, error) {
	switch state {
	case engine.WaitExists:
		n, err := l.Count(ctx)
		return n > 0, err
	case engine.WaitHidden:
		visible, err := l.IsVisible(ctx)
		if err != nil && isMissingErr(err) {
			return true, nil
		}
		return !visible, err
	case engine.WaitEnabled:
		return l.IsEnabled(ctx)
	case engine.WaitDisabled:
		return l.IsDisabled(ctx)
	default: // visible
		return l.IsVisible(ctx)
	}
}

const visibleExpr = `(() => {
	const style = window.getComputedStyle(el);
	if (style.display === 'none' || style.visibility === 'hidden') return false;
	const r = el.getBoundingClientRect();
	return r.width > 0 && r.height > 0;
})()`

const ariaSnapshotExpr = `(() => {
	const implicit = {A: 'link', BUTTON: 'button', INPUT: 'textbox', SELECT: 'combobox',
		TEXTAREA: 'textbox', H1: 'heading', H2: 'heading', H3: 'heading', IMG: 'img',
		NAV: 'navigation', MAIN: 'main', FORM: 'form', TABLE: 'table'};
	const name = (n) => (n.getAttribute && (n.getAttribute('aria-label') || '')) ||
		(n.children && n.children.length === 0 ? (n.textContent || '').trim().slice(0, 80) : '');
	const lines = [];
	const walk = (n, depth) => {
		if (n.nodeType !== 1) return;
		const role = n.getAttribute('role') || implicit[n.tagName];
		if (role) {
			const nm = name(n);
			lines.push('  '.repeat(depth) + '- ' + role + (nm ? ' "' + nm + '"' : ''));
			depth++;
		}
		for (const c of n.children) walk(c, depth);
	};
	walk(el, 0);
	return lines.join('\n');
})()`

func isMissingErr(err error) bool {
	return err != nil && len(err.Error()) >= 17 && err.Error()[:17] == "element not found"
}

// chordToKey maps the common named keys to the runes chromedp's KeyEvent
// expects; unrecognized names pass through.
func chordToKey(key string) string {
	switch key {
	case "Enter":
		return kb.Enter
	case "Tab":
		return kb.Tab
	case "Backspace":
		return kb.Backspace
	case "Escape":
		return kb.Escape
	case "Delete":
		return kb.Delete
	case "ArrowUp":
		return kb.ArrowUp
	case "ArrowDown":
		return kb.ArrowDown
	case "ArrowLeft":
		return kb.ArrowLeft
	case "ArrowRight":
		return kb.ArrowRight
	case "Home":
		return kb.Home
	case "End":
		return kb.End
	case "PageUp":
		return kb.PageUp
	case "PageDown":
		return kb.PageDown
	default:
		return key
	}
}

package engine

import "time"

// LaunchOptions configure a browser launch. Args must pass the launch
// argument guard before reaching the engine.
type LaunchOptions struct {
	Headless       bool          `json:"headless"`
	Args           []string      `json:"args,omitempty"`
	DownloadsPath  string        `json:"downloadsPath,omitempty"`
	ExecutablePath string        `json:"executablePath,omitempty"`
	SlowMo         time.Duration `json:"-"`
}

// ContextOptions configure an isolation context.
type ContextOptions struct {
	Viewport     *Viewport     `json:"viewport,omitempty"`
	UserAgent    string        `json:"userAgent,omitempty"`
	Locale       string        `json:"locale,omitempty"`
	TimezoneID   string        `json:"timezoneId,omitempty"`
	Geolocation  *Geolocation  `json:"geolocation,omitempty"`
	Permissions  []string      `json:"permissions,omitempty"`
	ColorScheme  string        `json:"colorScheme,omitempty"`
	Offline      bool          `json:"offline,omitempty"`
	StorageState *StorageState `json:"storageState,omitempty"`
}

// Viewport is a page viewport in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Geolocation is an emulated position.
type Geolocation struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy,omitempty"`
}

// Cookie mirrors the engine cookie shape.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain,omitempty"`
	Path     string  `json:"path,omitempty"`
	URL      string  `json:"url,omitempty"`
	Expires  float64 `json:"expires,omitempty"`
	HTTPOnly bool    `json:"httpOnly,omitempty"`
	Secure   bool    `json:"secure,omitempty"`
	SameSite string  `json:"sameSite,omitempty"`
}

// StorageState bundles cookies and per-origin localStorage.
type StorageState struct {
	Cookies []Cookie        `json:"cookies"`
	Origins []OriginStorage `json:"origins"`
}

// OriginStorage is the localStorage content of one origin.
type OriginStorage struct {
	Origin       string   `json:"origin"`
	LocalStorage []KVPair `json:"localStorage"`
}

// KVPair is one localStorage entry.
type KVPair struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PDFOptions configure page/pdf rendering.
type PDFOptions struct {
	Landscape       bool    `json:"landscape,omitempty"`
	PrintBackground bool    `json:"printBackground,omitempty"`
	Scale           float64 `json:"scale,omitempty"`
	PaperWidth      float64 `json:"paperWidth,omitempty"`
	PaperHeight     float64 `json:"paperHeight,omitempty"`
}

// ScreenshotOptions configure screenshots.
type ScreenshotOptions struct {
	FullPage bool   `json:"fullPage,omitempty"`
	Format   string `json:"format,omitempty"` // png or jpeg
	Quality  int    `json:"quality,omitempty"`
	Clip     *Clip  `json:"clip,omitempty"`
}

// Clip restricts a screenshot to a region.
type Clip struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ClickOptions configure click and dblclick.
type ClickOptions struct {
	Button   string        `json:"button,omitempty"` // left, middle, right
	Count    int           `json:"count,omitempty"`
	Delay    time.Duration `json:"-"`
	Position *Position     `json:"position,omitempty"`
	Timeout  time.Duration `json:"-"`
}

// Position is an offset within an element.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FrameInfo describes one frame of a page.
type FrameInfo struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
	Name     string `json:"name,omitempty"`
	URL      string `json:"url"`
	Main     bool   `json:"main"`
}

// AXNode is one node of the accessibility tree.
type AXNode struct {
	Role     string    `json:"role"`
	Name     string    `json:"name,omitempty"`
	Value    string    `json:"value,omitempty"`
	Focused  bool      `json:"focused,omitempty"`
	Disabled bool      `json:"disabled,omitempty"`
	Children []*AXNode `json:"children,omitempty"`
}

// Event is an engine callback payload.
type Event struct {
	Type      string         `json:"type"`
	PageID    string         `json:"pageId,omitempty"`
	URL       string         `json:"url,omitempty"`
	Text      string         `json:"text,omitempty"`  // console text / dialog message
	Level     string         `json:"level,omitempty"` // console level
	Method    string         `json:"method,omitempty"`
	Status    int            `json:"status,omitempty"`
	RequestID string         `json:"requestId,omitempty"`
	Failure   string         `json:"failure,omitempty"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// RequestOverrides mutate an intercepted request before it continues.
type RequestOverrides struct {
	URL     string            `json:"url,omitempty"`
	Method  string            `json:"method,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FulfillResponse answers an intercepted request without hitting the network.
type FulfillResponse struct {
	Status  int               `json:"status"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// Wait states accepted by Locator.WaitFor and act conditions.
const (
	WaitVisible  = "visible"
	WaitHidden   = "hidden"
	WaitEnabled  = "enabled"
	WaitDisabled = "disabled"
	WaitExists   = "exists"
)

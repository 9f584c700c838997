package chromedp

import (
	"encoding/base64"
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/runtime"
)

const storageStateScript = `(() => {
	const items = [];
	for (let i = 0; i < localStorage.length; i++) {
		const name = localStorage.key(i);
		items.push({name, value: localStorage.getItem(name)});
	}
	return {origin: location.origin, items};
})()`

func axValueString(v *accessibility.Value) string {
	if v == nil || v.Value == nil {
		return ""
	}
	var s string
	if err := json.Unmarshal(v.Value, &s); err == nil {
		return s
	}
	return strings.Trim(string(v.Value), `"`)
}

func consoleText(args []*runtime.RemoteObject) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		if a == nil {
			continue
		}
		if a.Value != nil {
			var s string
			if err := json.Unmarshal(a.Value, &s); err == nil {
				parts = append(parts, s)
				continue
			}
			parts = append(parts, string(a.Value))
			continue
		}
		if a.Description != "" {
			parts = append(parts, a.Description)
		}
	}
	return strings.Join(parts, " ")
}

func headerEntries(headers map[string]string) []*fetch.HeaderEntry {
	out := make([]*fetch.HeaderEntry, 0, len(headers))
	for k, v := range headers {
		out = append(out, &fetch.HeaderEntry{Name: k, Value: v})
	}
	return out
}

func base64Encode(s string) string {
	return base64.StdEncoding.EncodeToString([]byte(s))
}

func timeFromEpoch(seconds float64) time.Time {
	return time.Unix(int64(seconds), 0)
}

func sameOrigin(pageURL, origin string) bool {
	u, err := url.Parse(pageURL)
	if err != nil {
		return false
	}
	return u.Scheme+"://"+u.Host == origin
}

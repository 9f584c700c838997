package agent

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/agentbrowser/bap/protocol"
)

// Extraction kinds. "auto" runs every extractor and returns the non-empty
// facets.
const (
	ExtractAuto     = "auto"
	ExtractTables   = "tables"
	ExtractLists    = "lists"
	ExtractArticle  = "article"
	ExtractLinks    = "links"
	ExtractForms    = "forms"
	ExtractMetadata = "metadata"
)

// ExtractOptions is the agent/extract request body.
type ExtractOptions struct {
	Kind     string `json:"kind,omitempty"`
	Selector string `json:"selector,omitempty"`
	MaxItems int    `json:"maxItems,omitempty"`
}

// Table is an extracted HTML table.
type Table struct {
	Caption string     `json:"caption,omitempty"`
	Headers []string   `json:"headers,omitempty"`
	Rows    [][]string `json:"rows"`
}

// List is an extracted ordered or unordered list.
type List struct {
	Ordered bool     `json:"ordered"`
	Items   []string `json:"items"`
}

// Link is an extracted anchor.
type Link struct {
	Text string `json:"text"`
	Href string `json:"href"`
}

// FormField is one input of an extracted form.
type FormField struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Label    string   `json:"label,omitempty"`
	Value    string   `json:"value,omitempty"`
	Required bool     `json:"required,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// Form is an extracted form with its fields.
type Form struct {
	Action string      `json:"action,omitempty"`
	Method string      `json:"method,omitempty"`
	Fields []FormField `json:"fields"`
}

// Extraction is the agent/extract result. Deterministic and heuristic by
// design; semantic extraction is a future plug-in.
type Extraction struct {
	Tables   []Table           `json:"tables,omitempty"`
	Lists    []List            `json:"lists,omitempty"`
	Article  string            `json:"article,omitempty"`
	Links    []Link            `json:"links,omitempty"`
	Forms    []Form            `json:"forms,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

const defaultMaxItems = 100

// Extract pulls structured data out of page HTML.
func Extract(html string, opts ExtractOptions) (*Extraction, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, protocol.ErrInvalidParams("content is not parseable HTML")
	}
	root := doc.Selection
	if opts.Selector != "" {
		root = doc.Find(opts.Selector)
		if root.Length() == 0 {
			return nil, protocol.ErrElementNotFound(opts.Selector)
		}
	}
	max := opts.MaxItems
	if max <= 0 {
		max = defaultMaxItems
	}

	out := &Extraction{}
	kind := opts.Kind
	if kind == "" {
		kind = ExtractAuto
	}
	switch kind {
	case ExtractTables:
		out.Tables = extractTables(root, max)
	case ExtractLists:
		out.Lists = extractLists(root, max)
	case ExtractArticle:
		out.Article = extractArticle(root)
	case ExtractLinks:
		out.Links = extractLinks(root, max)
	case ExtractForms:
		out.Forms = extractForms(root, max)
	case ExtractMetadata:
		out.Metadata = extractMetadata(doc)
	case ExtractAuto:
		out.Tables = extractTables(root, max)
		out.Lists = extractLists(root, max)
		out.Article = extractArticle(root)
		out.Links = extractLinks(root, max)
		out.Forms = extractForms(root, max)
		out.Metadata = extractMetadata(doc)
	default:
		return nil, protocol.ErrInvalidParams("unknown extraction kind " + kind)
	}
	return out, nil
}

func extractTables(root *goquery.Selection, max int) []Table {
	var tables []Table
	root.Find("table").EachWithBreak(func(_ int, t *goquery.Selection) bool {
		table := Table{Caption: clean(t.Find("caption").First().Text())}
		t.Find("thead th, tr:first-child th").Each(func(_ int, h *goquery.Selection) {
			table.Headers = append(table.Headers, clean(h.Text()))
		})
		t.Find("tr").Each(func(_ int, tr *goquery.Selection) {
			cells := tr.Find("td")
			if cells.Length() == 0 {
				return
			}
			var row []string
			cells.Each(func(_ int, td *goquery.Selection) {
				row = append(row, clean(td.Text()))
			})
			table.Rows = append(table.Rows, row)
		})
		if len(table.Rows) > 0 {
			tables = append(tables, table)
		}
		return len(tables) < max
	})
	return tables
}

func extractLists(root *goquery.Selection, max int) []List {
	var lists []List
	root.Find("ul, ol").EachWithBreak(func(_ int, l *goquery.Selection) bool {
		// Skip nested lists; the parent list carries their text already.
		if l.ParentsFiltered("ul, ol").Length() > 0 {
			return true
		}
		list := List{Ordered: goquery.NodeName(l) == "ol"}
		l.ChildrenFiltered("li").Each(func(_ int, li *goquery.Selection) {
			if item := clean(li.Text()); item != "" {
				list.Items = append(list.Items, item)
			}
		})
		if len(list.Items) > 0 {
			lists = append(lists, list)
		}
		return len(lists) < max
	})
	return lists
}

// extractArticle picks the densest text container: an <article> or <main>
// when present, otherwise the body stripped of navigation chrome.
func extractArticle(root *goquery.Selection) string {
	for _, sel := range []string{"article", "main", "[role=main]"} {
		if node := root.Find(sel).First(); node.Length() > 0 {
			return clean(node.Text())
		}
	}
	body := root.Find("body").First()
	if body.Length() == 0 {
		body = root
	}
	stripped := body.Clone()
	stripped.Find("nav, header, footer, script, style, aside").Remove()
	return clean(stripped.Text())
}

func extractLinks(root *goquery.Selection, max int) []Link {
	var links []Link
	root.Find("a[href]").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		href, _ := a.Attr("href")
		if href == "" || strings.HasPrefix(href, "#") {
			return true
		}
		links = append(links, Link{Text: clean(a.Text()), Href: href})
		return len(links) < max
	})
	return links
}

func extractForms(root *goquery.Selection, max int) []Form {
	var forms []Form
	root.Find("form").EachWithBreak(func(_ int, f *goquery.Selection) bool {
		form := Form{}
		form.Action, _ = f.Attr("action")
		form.Method, _ = f.Attr("method")
		f.Find("input, select, textarea").Each(func(_ int, in *goquery.Selection) {
			name, _ := in.Attr("name")
			typ, _ := in.Attr("type")
			if typ == "" {
				typ = goquery.NodeName(in)
			}
			if typ == "hidden" {
				return
			}
			field := FormField{Name: name, Type: typ}
			_, field.Required = in.Attr("required")
			if id, ok := in.Attr("id"); ok {
				field.Label = clean(f.Find("label[for=" + id + "]").First().Text())
			}
			// Never extract credential values.
			if typ != "password" {
				field.Value, _ = in.Attr("value")
			}
			in.Find("option").Each(func(_ int, opt *goquery.Selection) {
				field.Options = append(field.Options, clean(opt.Text()))
			})
			form.Fields = append(form.Fields, field)
		})
		if len(form.Fields) > 0 {
			forms = append(forms, form)
		}
		return len(forms) < max
	})
	return forms
}

func extractMetadata(doc *goquery.Document) map[string]string {
	meta := make(map[string]string)
	if title := clean(doc.Find("head title").First().Text()); title != "" {
		meta["title"] = title
	}
	doc.Find("head meta").Each(func(_ int, m *goquery.Selection) {
		content, ok := m.Attr("content")
		if !ok || content == "" {
			return
		}
		if name, ok := m.Attr("name"); ok && name != "" {
			meta[name] = content
		} else if prop, ok := m.Attr("property"); ok && prop != "" {
			meta[prop] = content
		}
	})
	if canonical, ok := doc.Find("head link[rel=canonical]").First().Attr("href"); ok {
		meta["canonical"] = canonical
	}
	if len(meta) == 0 {
		return nil
	}
	return meta
}

func clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

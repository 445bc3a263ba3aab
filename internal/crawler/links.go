package crawler

import (
	"bytes"
	"fmt"
	"iter"
	"net/url"
	"path"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"
)

const linkSelector = "a[href], area[href], meta[http-equiv]"

// Extractor turns a fetched page into the links it references.
type Extractor interface {
	// Extract returns a single-use sequence of links. On a parse failure the
	// sequence is empty and the error wraps ErrParse.
	Extract(page Page) (iter.Seq[LinkRecord], error)
}

type htmlExtractor struct {
	classifier hostClassifier
}

// NewExtractor builds an Extractor that classifies links relative to rootURL.
func NewExtractor(rootURL string, includeSubdomains bool) Extractor {
	return &htmlExtractor{classifier: hostClassifier{root: hostOf(rootURL), includeSubdomains: includeSubdomains}}
}

func (e *htmlExtractor) Extract(page Page) (iter.Seq[LinkRecord], error) {
	reader, err := charset.NewReader(bytes.NewReader(page.Body), page.ContentType)
	if err != nil {
		return noLinks, fmt.Errorf("%w: decode %s: %v", ErrParse, page.URL, err)
	}
	doc, err := goquery.NewDocumentFromReader(reader)
	if err != nil {
		return noLinks, fmt.Errorf("%w: %s: %v", ErrParse, page.URL, err)
	}

	base := page.URL
	if href, ok := doc.Find("base[href]").First().Attr("href"); ok {
		if resolved, err := Normalize(href, page.URL); err == nil {
			base = resolved
		}
	}

	selection := doc.Find(linkSelector)
	return func(yield func(LinkRecord) bool) {
		selection.EachWithBreak(func(_ int, sel *goquery.Selection) bool {
			href, text, ok := linkTarget(sel)
			if !ok {
				return true
			}
			return yield(e.record(page.URL, base, href, text))
		})
	}, nil
}

func (e *htmlExtractor) record(source, base, href, text string) LinkRecord {
	rec := LinkRecord{SourcePage: source, AnchorText: text}
	normalized, err := Normalize(href, base)
	if err != nil {
		rec.TargetURL = resolveRaw(href, base)
		rec.Err = err
		return rec
	}
	rec.TargetURL = normalized
	rec.Type = e.classifier.classify(normalized)
	return rec
}

func linkTarget(sel *goquery.Selection) (href, text string, ok bool) {
	switch goquery.NodeName(sel) {
	case "meta":
		equiv, _ := sel.Attr("http-equiv")
		if !strings.EqualFold(strings.TrimSpace(equiv), "refresh") {
			return "", "", false
		}
		content, _ := sel.Attr("content")
		href = metaRefreshTarget(content)
		return href, "meta refresh", href != ""
	default:
		href, _ = sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return "", "", false
		}
		text = collapseSpace(sel.Text())
		if text == "" {
			for _, attr := range []string{"alt", "title", "aria-label"} {
				if v, exists := sel.Attr(attr); exists && strings.TrimSpace(v) != "" {
					text = collapseSpace(v)
					break
				}
			}
		}
		return href, text, true
	}
}

func metaRefreshTarget(content string) string {
	for _, part := range strings.Split(content, ";") {
		trimmed := strings.TrimSpace(part)
		if strings.HasPrefix(strings.ToLower(trimmed), "url=") {
			target := strings.TrimSpace(trimmed[4:])
			return strings.Trim(target, "'\"")
		}
	}
	return ""
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveRaw(href, base string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	baseURL, err := url.Parse(base)
	if err != nil {
		return href
	}
	return baseURL.ResolveReference(ref).String()
}

func noLinks(func(LinkRecord) bool) {}

// extensionSet lists path extensions worth expanding. The empty string stands
// for extension-less paths.
type extensionSet map[string]struct{}

func buildExpandableExtensions(list []string) extensionSet {
	allowed := make(extensionSet)
	if len(list) == 0 {
		for _, ext := range []string{"", ".html", ".htm", ".xhtml", ".php", ".asp", ".aspx", ".jsp"} {
			allowed[ext] = struct{}{}
		}
		return allowed
	}
	for _, item := range list {
		trimmed := strings.TrimSpace(item)
		if trimmed == "" {
			allowed[""] = struct{}{}
			continue
		}
		lowered := strings.ToLower(trimmed)
		if !strings.HasPrefix(lowered, ".") {
			lowered = "." + lowered
		}
		allowed[lowered] = struct{}{}
	}
	allowed[""] = struct{}{}
	return allowed
}

func (s extensionSet) expandable(rawURL string) bool {
	if len(s) == 0 {
		return true
	}
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	ext := strings.ToLower(path.Ext(parsed.Path))
	_, ok := s[ext]
	return ok
}

func isHTMLContent(contentType string) bool {
	if strings.TrimSpace(contentType) == "" {
		return true
	}
	ct := strings.ToLower(contentType)
	return strings.Contains(ct, "text/html") || strings.Contains(ct, "application/xhtml+xml")
}

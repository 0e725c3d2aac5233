package extractor

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/xkilldash9x/feedwalker/api/schemas"
	"github.com/xkilldash9x/feedwalker/internal/signals"
)

// Metadata is the textual part of an item.
type Metadata struct {
	Caption    string
	Timestamp  string
	Links      []string
	EmbedLinks []string
}

// Metadata reads caption, timestamp and links from the current item's
// container. root is that container when the caller already holds it;
// otherwise the first item_container match is used. Profiles without a
// container yield empty metadata.
func (e *Extractor) Metadata(ctx context.Context, view schemas.View, root schemas.Element, self string) Metadata {
	if e.profile.ItemContainer == nil {
		return Metadata{}
	}
	if root == nil {
		el, err := view.FindOne(ctx, *e.profile.ItemContainer)
		if err != nil || el == nil {
			e.logger.Debug("No item container mounted.", zap.Error(err))
			return Metadata{}
		}
		root = el
	}
	html, err := view.OuterHTML(ctx, root)
	if err != nil {
		e.logger.Debug("Reading item container failed.", zap.Error(err))
		return Metadata{}
	}
	md, err := ParseMetadata(html, e.profile, self)
	if err != nil {
		e.logger.Debug("Parsing item container failed.", zap.Error(err))
		return Metadata{}
	}
	return md
}

// ParseMetadata extracts metadata from an item container's HTML. self is the
// item's own URL and is left out of the embed links.
func ParseMetadata(html string, p *signals.Profile, self string) (Metadata, error) {
	var md Metadata
	if strings.TrimSpace(html) == "" {
		return md, nil
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return md, fmt.Errorf("parse item html: %w", err)
	}

	base, _ := url.Parse(firstNonEmpty(p.EmbedBase, p.HomeURL))

	if p.Caption != "" {
		md.Caption = strings.TrimSpace(doc.Find(p.Caption).First().Text())
	}

	if p.Timestamp != "" {
		ts := doc.Find(p.Timestamp).First()
		if dt, ok := ts.Attr("datetime"); ok && dt != "" {
			md.Timestamp = dt
		} else {
			md.Timestamp = strings.TrimSpace(ts.Text())
		}
	}

	if p.Links != "" {
		md.Links = hrefs(doc.Find(p.Links), base, "")
	}

	if p.EmbedLinks != "" {
		md.EmbedLinks = hrefs(doc.Find(p.EmbedLinks), base, self)
		// A status link is only an embed when it points at a different post.
		filtered := md.EmbedLinks[:0]
		for _, l := range md.EmbedLinks {
			if !strings.Contains(l, "/analytics") && !strings.Contains(l, "/photo/") {
				filtered = append(filtered, l)
			}
		}
		md.EmbedLinks = filtered
	}
	return md, nil
}

func hrefs(sel *goquery.Selection, base *url.URL, exclude string) []string {
	var out []string
	seen := make(map[string]bool)
	sel.Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok {
			return
		}
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") || strings.HasPrefix(href, "javascript:") {
			return
		}
		abs := absolute(href, base)
		if abs == "" || seen[abs] || (exclude != "" && sameURL(abs, exclude)) {
			return
		}
		seen[abs] = true
		out = append(out, abs)
	})
	return out
}

func absolute(href string, base *url.URL) string {
	u, err := url.Parse(href)
	if err != nil {
		return ""
	}
	if u.IsAbs() || base == nil {
		return u.String()
	}
	return base.ResolveReference(u).String()
}

func sameURL(a, b string) bool {
	trim := func(s string) string { return strings.TrimRight(strings.SplitN(s, "?", 2)[0], "/") }
	return strings.EqualFold(trim(a), trim(b))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

package httpserve

import (
	"net/url"
	"strings"

	"github.com/contentbridge/adaptor/metadata"
)

// encodeMetadata packs a metadata view into X-Gsa-External-Metadata: one
// comma-separated "key=value" pair per (key, value) entry, each
// component percent-encoded so commas and equals signs in either key or
// value survive the header round trip.
func encodeMetadata(view *metadata.View) string {
	entries := view.Entries()
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = url.QueryEscape(e.Key) + "=" + url.QueryEscape(e.Value)
	}
	return strings.Join(parts, ",")
}

// encodeAnchors packs anchors into X-Gsa-External-Anchor: one
// comma-separated "uri=text" pair per anchor, percent-encoded the same
// way as encodeMetadata.
func encodeAnchors(anchors []Anchor) string {
	parts := make([]string, len(anchors))
	for i, a := range anchors {
		parts[i] = url.QueryEscape(a.URI) + "=" + url.QueryEscape(a.Text)
	}
	return strings.Join(parts, ",")
}

// encodeDocControls packs the crawl/display-url flags resp carries into
// X-Gsa-Doc-Controls: comma-separated "flag" tokens plus a
// "displayurl=..." entry when set.
func encodeDocControls(resp *ResponseWriter) string {
	var parts []string
	if resp.CrawlOnce() {
		parts = append(parts, "crawl-once")
	}
	if resp.Lock() {
		parts = append(parts, "lock")
	}
	if displayURL := resp.DisplayURL(); displayURL != "" {
		parts = append(parts, "displayurl="+url.QueryEscape(displayURL))
	}
	return strings.Join(parts, ",")
}

package feed

import (
	"strings"
	"testing"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/docid"
)

type fakeCodec struct{ base string }

func (c fakeCodec) Encode(id docid.DocId) string { return c.base + id.String() }

func TestMakeMetadataAndURLFeedAttributeOrder(t *testing.T) {
	lm := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	r := docid.NewBuilder(docid.New("doc1")).
		SetCrawlOnce(true).
		SetLastModified(lm).
		Build()
	xml := MakeMetadataAndURLFeed("mysource", []docid.Record{r}, fakeCodec{"https://example.com/doc/"})

	if !strings.Contains(xml, `crawl-once="true"`) {
		t.Error("expected crawl-once attribute")
	}
	crawlIdx := strings.Index(xml, "crawl-once")
	displayIdx := strings.Index(xml, "displayurl")
	lastModIdx := strings.Index(xml, "last-modified")
	mimeIdx := strings.Index(xml, "mimetype")
	urlIdx := strings.LastIndex(xml, ` url="`)
	if !(crawlIdx < displayIdx && displayIdx < lastModIdx && lastModIdx < mimeIdx && mimeIdx < urlIdx) {
		t.Errorf("expected lexicographic attribute order, got: %s", xml)
	}
}

func TestMakeMetadataAndURLFeedEscapesSpecialCharacters(t *testing.T) {
	r := docid.NewBuilder(docid.New("doc&1<2>")).Build()
	xml := MakeMetadataAndURLFeed("src", []docid.Record{r}, fakeCodec{"https://x/"})
	if strings.Contains(xml, "doc&1<2>") {
		t.Error("expected the raw docid to be XML-escaped in the URL")
	}
	if !strings.Contains(xml, "&amp;") || !strings.Contains(xml, "&lt;") {
		t.Errorf("expected escaped entities, got: %s", xml)
	}
}

func TestMakeMetadataAndURLFeedDeleteAction(t *testing.T) {
	r := docid.NewBuilder(docid.New("gone")).SetDeleteFromIndex(true).Build()
	xml := MakeMetadataAndURLFeed("src", []docid.Record{r}, fakeCodec{"https://x/"})
	if !strings.Contains(xml, `action="delete"`) {
		t.Errorf("expected action=delete, got: %s", xml)
	}
}

func TestMakeMetadataAndURLFeedEmptyRecordsSkeleton(t *testing.T) {
	xml := MakeMetadataAndURLFeed("t3sT", nil, fakeCodec{"https://x/"})
	if !strings.Contains(xml, "<datasource>t3sT</datasource>") {
		t.Errorf("expected datasource element, got: %s", xml)
	}
	if !strings.Contains(xml, "<feedtype>metadata-and-url</feedtype>") {
		t.Errorf("expected feedtype element, got: %s", xml)
	}
	if !strings.Contains(xml, "<group/>") {
		t.Errorf("expected a self-closing group element for an empty batch, got: %s", xml)
	}
}

func TestMakeXMLGroupsFeedCaseSensitivity(t *testing.T) {
	groups := map[string][]acl.Principal{
		"admins": {acl.User("alice", "Default")},
	}
	xml := MakeXMLGroupsFeed(groups, false)
	if !strings.Contains(xml, "EVERYTHING_CASE_INSENSITIVE") {
		t.Errorf("expected case-insensitive marker, got: %s", xml)
	}
	if !strings.Contains(xml, "<membership") || !strings.Contains(xml, "admins") || !strings.Contains(xml, "alice") {
		t.Errorf("expected membership/group/member content, got: %s", xml)
	}
}

func TestMakeAclFeedFragmentURLSuffix(t *testing.T) {
	r := docid.NewBuilder(docid.New("doc1")).SetAclFragment("frag").Build()
	xml := MakeMetadataAndURLFeed("src", []docid.Record{r}, fakeCodec{"https://x/"})
	if !strings.Contains(xml, "frag_generated") {
		t.Errorf("expected fragment ACL url suffix, got: %s", xml)
	}
}

// Package feed builds and sends GSA-style feed files: the XML document
// describing a batch of pushed Records or group memberships (§4.3), and
// the multipart POST that delivers it to the indexer (§4.4).
package feed

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/docid"
)

// Dialect selects between the two feed XML shapes GsaFeedFileMaker
// produces.
type Dialect int

const (
	MetadataAndURL Dialect = iota
	XMLGroups
)

// Codec resolves a DocId to the content-endpoint URL a feed record
// references.
type Codec interface {
	Encode(docid.DocId) string
}

// xmlEscape escapes the five XML-significant characters. encoding/xml's
// own marshaling already does this for element text and attribute
// values, but the maker builds its XML by hand (to control attribute
// ordering precisely per §4.3) so it must escape explicitly.
// XMLEscape escapes the five XML-significant characters. Exported so
// other packages that hand-build XML/SOAP bodies for the same reason
// (exact attribute ordering, §4.3) don't need their own copy.
func XMLEscape(s string) string { return xmlEscape(s) }

func xmlEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '&':
			b.WriteString("&amp;")
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '"':
			b.WriteString("&quot;")
		case '\'':
			b.WriteString("&apos;")
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// MakeMetadataAndURLFeed builds a metadata-and-url feed document for
// records, sourced from datasourceName, using codec to derive each
// record's URL.
func MakeMetadataAndURLFeed(datasourceName string, records []docid.Record, codec Codec) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n")
	b.WriteString("<!DOCTYPE gsafeed PUBLIC \"-//Google//DTD GSA Feeds//EN\" \"gsafeed.dtd\">\n")
	b.WriteString("<gsafeed>\n")
	fmt.Fprintf(&b, "<header><datasource>%s</datasource><feedtype>metadata-and-url</feedtype></header>\n", xmlEscape(datasourceName))
	if len(records) == 0 {
		b.WriteString("<group/>\n</gsafeed>\n")
		return b.String()
	}
	b.WriteString("<group>\n")
	for _, r := range records {
		writeRecord(&b, r, codec)
	}
	b.WriteString("</group>\n</gsafeed>\n")
	return b.String()
}

// recordAttr is one lexicographically-ordered <record> attribute.
type recordAttr struct {
	name  string
	value string
}

func writeRecord(b *strings.Builder, r docid.Record, codec Codec) {
	url := codec.Encode(r.DocID())
	if fragment, ok := r.AclFragment(); ok && fragment != "" {
		url += "#" + fragment + "_generated"
	}

	var attrs []recordAttr
	if r.DeleteFromIndex() {
		attrs = append(attrs, recordAttr{"action", "delete"})
	}
	if r.CrawlImmediately() {
		attrs = append(attrs, recordAttr{"crawl-immediately", "true"})
	}
	if r.CrawlOnce() {
		attrs = append(attrs, recordAttr{"crawl-once", "true"})
	}
	attrs = append(attrs, recordAttr{"displayurl", url})
	if lm, ok := r.LastModified(); ok {
		attrs = append(attrs, recordAttr{"last-modified", lm.UTC().Format(time.RFC1123)})
	}
	if r.Lock() {
		attrs = append(attrs, recordAttr{"lock", "true"})
	}
	attrs = append(attrs, recordAttr{"mimetype", "text/plain"})
	attrs = append(attrs, recordAttr{"url", url})

	sort.Slice(attrs, func(i, j int) bool { return attrs[i].name < attrs[j].name })

	b.WriteString("<record")
	for _, a := range attrs {
		fmt.Fprintf(b, ` %s="%s"`, a.name, xmlEscape(a.value))
	}
	b.WriteString(">\n")

	if meta := r.Metadata(); meta != nil {
		b.WriteString("<metadata>\n")
		for _, e := range meta.Entries() {
			fmt.Fprintf(b, `<meta name="%s" content="%s"/>`+"\n", xmlEscape(e.Key), xmlEscape(e.Value))
		}
		b.WriteString("</metadata>\n")
	}
	b.WriteString("</record>\n")
}

// MakeAclFeed builds a metadata-and-url feed carrying only <acl> entries
// for namedResources, per pushNamedResources (§4.5).
func MakeAclFeed(datasourceName string, namedResources map[docid.DocId]acl.Acl, codec Codec) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n")
	b.WriteString("<gsafeed>\n")
	fmt.Fprintf(&b, "<header><datasource>%s</datasource><feedtype>metadata-and-url</feedtype></header>\n", xmlEscape(datasourceName))
	b.WriteString("<group>\n")

	ids := make([]docid.DocId, 0, len(namedResources))
	for id := range namedResources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	for _, id := range ids {
		a := namedResources[id]
		url := codec.Encode(id)
		fmt.Fprintf(&b, `<acl url="%s">`+"\n", xmlEscape(url))
		writePrincipals(&b, a.PermitUsers, "permit", "user", a.CaseSensitivity)
		writePrincipals(&b, a.DenyUsers, "deny", "user", a.CaseSensitivity)
		writePrincipals(&b, a.PermitGroups, "permit", "group", a.CaseSensitivity)
		writePrincipals(&b, a.DenyGroups, "deny", "group", a.CaseSensitivity)
		b.WriteString("</acl>\n")
	}
	b.WriteString("</group>\n</gsafeed>\n")
	return b.String()
}

func writePrincipals(b *strings.Builder, principals []acl.Principal, access, scope string, cs acl.CaseSensitivity) {
	caseAttr := "EVERYTHING_CASE_SENSITIVE"
	if cs == acl.Insensitive {
		caseAttr = "EVERYTHING_CASE_INSENSITIVE"
	}
	for _, p := range principals {
		fmt.Fprintf(b, `<principal access="%s" scope="%s" namespace="%s" case-sensitivity-type="%s">%s</principal>`+"\n",
			access, scope, xmlEscape(p.Namespace), caseAttr, xmlEscape(p.Name))
	}
}

// MakeXMLGroupsFeed builds an xmlgroups feed from groups (group name ->
// member principals).
func MakeXMLGroupsFeed(groups map[string][]acl.Principal, caseSensitive bool) string {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8" standalone="no"?>` + "\n")
	b.WriteString("<xmlgroups>\n")

	caseAttr := "EVERYTHING_CASE_SENSITIVE"
	if !caseSensitive {
		caseAttr = "EVERYTHING_CASE_INSENSITIVE"
	}

	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		members := groups[name]
		fmt.Fprintf(&b, `<membership case-sensitivity-type="%s">`+"\n", caseAttr)
		fmt.Fprintf(&b, `<principal namespace="Default">%s</principal>`+"\n", xmlEscape(name))
		b.WriteString("<members>\n")
		for _, m := range members {
			scope := "user"
			if m.Type == acl.GroupPrincipal {
				scope = "group"
			}
			fmt.Fprintf(&b, `<principal scope="%s" namespace="%s">%s</principal>`+"\n", scope, xmlEscape(m.Namespace), xmlEscape(m.Name))
		}
		b.WriteString("</members>\n</membership>\n")
	}
	b.WriteString("</xmlgroups>\n")
	return b.String()
}

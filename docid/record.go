package docid

import (
	"time"

	"github.com/contentbridge/adaptor/metadata"
)

// Record is one push entry, per §3. Instances are immutable once built;
// equality is field-wise (Equal).
type Record struct {
	docID             DocId
	deleteFromIndex   bool
	crawlImmediately  bool
	crawlOnce         bool
	lock              bool
	lastModified      *time.Time
	resultLink        string
	metadata          *metadata.View
	aclFragment       string
	hasAclFragment    bool
}

func (r Record) DocID() DocId                  { return r.docID }
func (r Record) DeleteFromIndex() bool         { return r.deleteFromIndex }
func (r Record) CrawlImmediately() bool        { return r.crawlImmediately }
func (r Record) CrawlOnce() bool                { return r.crawlOnce }
func (r Record) Lock() bool                     { return r.lock }
func (r Record) LastModified() (time.Time, bool) {
	if r.lastModified == nil {
		return time.Time{}, false
	}
	return *r.lastModified, true
}
func (r Record) ResultLink() string             { return r.resultLink }
func (r Record) Metadata() *metadata.View       { return r.metadata }
func (r Record) AclFragment() (string, bool)    { return r.aclFragment, r.hasAclFragment }

// Equal compares every field, as the core's testable properties require
// (§8: "with the same builder-set fields").
func (r Record) Equal(o Record) bool {
	if !r.docID.Equal(o.docID) || r.deleteFromIndex != o.deleteFromIndex ||
		r.crawlImmediately != o.crawlImmediately || r.crawlOnce != o.crawlOnce ||
		r.lock != o.lock || r.resultLink != o.resultLink ||
		r.hasAclFragment != o.hasAclFragment || r.aclFragment != o.aclFragment {
		return false
	}
	lm1, ok1 := r.LastModified()
	lm2, ok2 := o.LastModified()
	if ok1 != ok2 || (ok1 && !lm1.Equal(lm2)) {
		return false
	}
	if (r.metadata == nil) != (o.metadata == nil) {
		return false
	}
	if r.metadata != nil {
		a, b := r.metadata.Entries(), o.metadata.Entries()
		if len(a) != len(b) {
			return false
		}
		for i := range a {
			if a[i] != b[i] {
				return false
			}
		}
	}
	return true
}

// Builder constructs a Record field by field, matching the core's
// builder-pattern API.
type Builder struct {
	r Record
}

func NewBuilder(id DocId) *Builder {
	return &Builder{r: Record{docID: id}}
}

func (b *Builder) SetDeleteFromIndex(v bool) *Builder  { b.r.deleteFromIndex = v; return b }
func (b *Builder) SetCrawlImmediately(v bool) *Builder  { b.r.crawlImmediately = v; return b }
func (b *Builder) SetCrawlOnce(v bool) *Builder         { b.r.crawlOnce = v; return b }
func (b *Builder) SetLock(v bool) *Builder              { b.r.lock = v; return b }
func (b *Builder) SetLastModified(t time.Time) *Builder { b.r.lastModified = &t; return b }
func (b *Builder) SetResultLink(link string) *Builder   { b.r.resultLink = link; return b }
func (b *Builder) SetMetadata(m *metadata.View) *Builder { b.r.metadata = m; return b }
func (b *Builder) SetAclFragment(fragment string) *Builder {
	b.r.aclFragment = fragment
	b.r.hasAclFragment = true
	return b
}

func (b *Builder) Build() Record { return b.r }

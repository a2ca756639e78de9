// Package push implements DocIdSender (§4.5): the orchestrator that
// drives a full push from an adaptor's Lister through batching,
// XML encoding, HTTP delivery, and archival, plus the group-definition
// and named-resource ACL push entry points.
package push

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/adaptor"
	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/feed"
	"github.com/contentbridge/adaptor/journal"
	"github.com/contentbridge/adaptor/logging"
)

// DefaultMaxUrls is feed.maxUrls' documented default (§6).
const DefaultMaxUrls = 5000

// Archiver persists a sent feed body for later inspection. S3Archiver is
// the production implementation; nil disables archival.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte) error
}

// ExceptionHandler decides, given the error a batch send failed with and
// the 1-based attempt number, whether DocIdSender should resend (true) or
// give up on that batch (false), per §4.5 step 3.
type ExceptionHandler func(err error, attempt int) bool

// AlwaysGiveUp never retries; the zero ExceptionHandler value behaves
// this way too, but naming it documents intent at call sites.
func AlwaysGiveUp(error, int) bool { return false }

// RetryNTimes returns a handler that retries up to n times before giving
// up.
func RetryNTimes(n int) ExceptionHandler {
	return func(_ error, attempt int) bool { return attempt <= n }
}

// DocIdSender coordinates a full push per §4.5: it implements
// adaptor.Pusher so an adaptor's DocIdProducer can stream Records to it
// directly, batching, encoding, and sending each full batch as it fills.
type DocIdSender struct {
	Sender         *feed.Sender
	Codec          feed.Codec
	Journal        *journal.Journal
	Archiver       Archiver
	DatasourceName string
	// MaxUrls caps batch size; DefaultMaxUrls is used if zero or negative.
	MaxUrls             int
	MarkAllDocsAsPublic bool
	CompressFeeds       bool
	// IndexerVersion gates whether a "replace all groups" push (§4.5) may
	// use a single non-incremental feed (requires >= 7.4.0).
	IndexerVersion string
	OnException    ExceptionHandler

	mu      sync.Mutex
	pending []docid.Record
}

var _ adaptor.Pusher = (*DocIdSender)(nil)

func (d *DocIdSender) maxUrls() int {
	if d.MaxUrls > 0 {
		return d.MaxUrls
	}
	return DefaultMaxUrls
}

func (d *DocIdSender) handler() ExceptionHandler {
	if d.OnException != nil {
		return d.OnException
	}
	return AlwaysGiveUp
}

// PushRecords implements adaptor.Pusher: it accumulates records and sends
// any full batches immediately. It returns the first DocId it could not
// push (so the caller can resume from there) or ok=false on success.
func (d *DocIdSender) PushRecords(ctx context.Context, records []docid.Record) (docid.DocId, bool, error) {
	d.mu.Lock()
	d.pending = append(d.pending, records...)
	pending := d.pending
	d.mu.Unlock()

	for len(pending) >= d.maxUrls() {
		if err := ctx.Err(); err != nil {
			d.setPending(pending)
			return pending[0].DocID(), true, nil
		}
		batch := pending[:d.maxUrls()]
		if !d.sendBatch(ctx, batch) {
			d.setPending(pending[d.maxUrls():])
			return batch[0].DocID(), true, nil
		}
		pending = pending[d.maxUrls():]
	}
	d.setPending(pending)
	return docid.DocId{}, false, nil
}

func (d *DocIdSender) setPending(p []docid.Record) {
	d.mu.Lock()
	d.pending = p
	d.mu.Unlock()
}

// Flush sends whatever partial batch remains buffered after the
// producer's GetDocIds call returns. It returns the first unsent DocId,
// if the flush failed.
func (d *DocIdSender) Flush(ctx context.Context) (docid.DocId, bool) {
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	if len(pending) == 0 {
		return docid.DocId{}, false
	}
	if !d.sendBatch(ctx, pending) {
		return pending[0].DocID(), true
	}
	return docid.DocId{}, false
}

func (d *DocIdSender) sendBatch(ctx context.Context, batch []docid.Record) bool {
	xml := feed.MakeMetadataAndURLFeed(d.DatasourceName, batch, d.Codec)
	attempt := 1
	for {
		start := time.Now()
		err := d.Sender.Send(ctx, "metadata-and-url", d.DatasourceName, xml, d.CompressFeeds)
		if err == nil {
			d.archive(ctx, xml)
			ids := make([]string, len(batch))
			for i, r := range batch {
				ids[i] = r.DocID().String()
			}
			d.Journal.RecordDocIdsPushed(ids, time.Since(start))
			return true
		}
		if d.handler()(err, attempt) {
			attempt++
			continue
		}
		logging.Logger().WithError(err).WithField("datasource", d.DatasourceName).
			WithField("batchSize", len(batch)).Error("push: batch send failed, giving up")
		return false
	}
}

func (d *DocIdSender) archive(ctx context.Context, xml string) {
	if d.Archiver == nil {
		return
	}
	key := fmt.Sprintf("%s/%s.xml", d.DatasourceName, time.Now().UTC().Format("20060102T150405.000000000Z"))
	if err := d.Archiver.Archive(ctx, key, []byte(xml)); err != nil {
		logging.Logger().WithError(err).Warn("push: archive feed failed")
	}
}

// PushFullDocIdsFromAdaptor drives a full push, per §4.5 steps 1-6:
// records the job as started, invokes producer.GetDocIds with this
// sender as the Pusher, flushes the remainder, and records the job's
// terminal status. It returns the DocId to resume from on a partial
// failure or interruption.
func (d *DocIdSender) PushFullDocIdsFromAdaptor(ctx context.Context, producer adaptor.DocIdProducer) (docid.DocId, bool, error) {
	if err := d.Journal.RecordStarted(journal.FullPush); err != nil {
		return docid.DocId{}, false, err
	}
	d.setPending(nil)

	err := producer.GetDocIds(ctx, d)
	resume, hasResume := d.Flush(ctx)

	switch {
	case ctx.Err() != nil:
		_ = d.Journal.RecordInterrupted(journal.FullPush)
		return resume, hasResume, nil
	case err != nil:
		_ = d.Journal.RecordFailed(journal.FullPush)
		return resume, hasResume, err
	case hasResume:
		_ = d.Journal.RecordFailed(journal.FullPush)
		return resume, true, nil
	default:
		_ = d.Journal.RecordSuccessful(journal.FullPush)
		return docid.DocId{}, false, nil
	}
}

// PushGroupDefinitions implements adaptor.Pusher: it splits groups into
// chunks of MaxUrls entries and sends each as an incremental xmlgroups
// feed. Emits nothing when MarkAllDocsAsPublic is set (§4.5 step 4).
func (d *DocIdSender) PushGroupDefinitions(ctx context.Context, groups map[string][]acl.Principal, caseSensitive bool) error {
	if d.MarkAllDocsAsPublic {
		return nil
	}
	return d.pushGroupChunks(ctx, groups, caseSensitive, true)
}

// PushGroupDefinitionsReplaceAll sends every group in a single
// non-incremental xmlgroups feed, signalling the indexer to discard any
// group membership it is not told about here. This needs IndexerVersion
// >= 7.4.0; with an older or unparseable IndexerVersion it sends
// incremental chunks the way PushGroupDefinitions does, per §4.5.
func (d *DocIdSender) PushGroupDefinitionsReplaceAll(ctx context.Context, groups map[string][]acl.Principal, caseSensitive bool) error {
	if d.MarkAllDocsAsPublic {
		return nil
	}
	if !indexerAtLeast(d.IndexerVersion, "7.4.0") {
		return d.pushGroupChunks(ctx, groups, caseSensitive, true)
	}
	xml := feed.MakeXMLGroupsFeed(groups, caseSensitive)
	if err := d.Sender.SendGroups(ctx, d.DatasourceName, xml, d.CompressFeeds, false); err != nil {
		return err
	}
	d.Journal.RecordGroupPush()
	return nil
}

func (d *DocIdSender) pushGroupChunks(ctx context.Context, groups map[string][]acl.Principal, caseSensitive bool, incremental bool) error {
	names := make([]string, 0, len(groups))
	for name := range groups {
		names = append(names, name)
	}
	sort.Strings(names)

	max := d.maxUrls()
	for i := 0; i < len(names); i += max {
		end := i + max
		if end > len(names) {
			end = len(names)
		}
		chunk := make(map[string][]acl.Principal, end-i)
		for _, name := range names[i:end] {
			chunk[name] = groups[name]
		}
		xml := feed.MakeXMLGroupsFeed(chunk, caseSensitive)
		if err := d.Sender.SendGroups(ctx, d.DatasourceName, xml, d.CompressFeeds, incremental); err != nil {
			return err
		}
		d.Journal.RecordGroupPush()
	}
	return nil
}

// PushNamedResources implements adaptor.Pusher: it emits ACL-only
// records for resources as one or more metadata-and-url feeds, chunked
// at MaxUrls. Emits nothing when MarkAllDocsAsPublic is set.
func (d *DocIdSender) PushNamedResources(ctx context.Context, resources map[docid.DocId]acl.Acl) error {
	if d.MarkAllDocsAsPublic {
		return nil
	}
	ids := make([]docid.DocId, 0, len(resources))
	for id := range resources {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].String() < ids[j].String() })

	max := d.maxUrls()
	for i := 0; i < len(ids); i += max {
		end := i + max
		if end > len(ids) {
			end = len(ids)
		}
		chunk := make(map[docid.DocId]acl.Acl, end-i)
		for _, id := range ids[i:end] {
			chunk[id] = resources[id]
		}
		xml := feed.MakeAclFeed(d.DatasourceName, chunk, d.Codec)
		if err := d.Sender.Send(ctx, "metadata-and-url", d.DatasourceName, xml, d.CompressFeeds); err != nil {
			return err
		}
	}
	return nil
}

// indexerAtLeast compares two "x.y.z" version strings; a malformed
// version on either side is treated as not satisfying the requirement.
func indexerAtLeast(version, required string) bool {
	v := parseVersion(version)
	r := parseVersion(required)
	if v == nil {
		return false
	}
	for i := 0; i < len(r); i++ {
		var vi int
		if i < len(v) {
			vi = v[i]
		}
		if vi != r[i] {
			return vi > r[i]
		}
	}
	return true
}

func parseVersion(s string) []int {
	if s == "" {
		return nil
	}
	var out []int
	part := 0
	has := false
	for _, c := range s {
		if c >= '0' && c <= '9' {
			part = part*10 + int(c-'0')
			has = true
			continue
		}
		if c == '.' {
			out = append(out, part)
			part = 0
			has = false
			continue
		}
		return nil
	}
	if has {
		out = append(out, part)
	}
	return out
}

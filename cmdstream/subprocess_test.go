package cmdstream

import (
	"context"
	"testing"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/docid"
)

func TestSubprocessAdaptorGetDocIds(t *testing.T) {
	script := `printf 'GSA Adaptor Data Version 1 [\000]\nid=doc1\000id=doc2\000'`
	s := &SubprocessAdaptor{Command: "/bin/sh", Args: []string{"-c", script}}

	var pushed []docid.Record
	pusher := fakePusher{
		pushRecords: func(ctx context.Context, records []docid.Record) (docid.DocId, bool, error) {
			pushed = append(pushed, records...)
			return docid.DocId{}, false, nil
		},
	}

	if err := s.GetDocIds(context.Background(), pusher); err != nil {
		t.Fatalf("GetDocIds: %v", err)
	}
	if len(pushed) != 2 {
		t.Fatalf("expected 2 pushed records, got %d", len(pushed))
	}
	if pushed[0].DocID().String() != "doc1" || pushed[1].DocID().String() != "doc2" {
		t.Errorf("unexpected pushed docIds: %v %v", pushed[0].DocID(), pushed[1].DocID())
	}
}

func TestSubprocessAdaptorGetModifiedDocIds(t *testing.T) {
	script := `printf 'GSA Adaptor Data Version 1 [\000]\nid=doc3\000'`
	s := &SubprocessAdaptor{Command: "/bin/sh", Args: []string{"-c", script}}

	var pushed []docid.Record
	pusher := fakePusher{
		pushRecords: func(ctx context.Context, records []docid.Record) (docid.DocId, bool, error) {
			pushed = append(pushed, records...)
			return docid.DocId{}, false, nil
		},
	}

	if err := s.GetModifiedDocIds(context.Background(), pusher); err != nil {
		t.Fatalf("GetModifiedDocIds: %v", err)
	}
	if len(pushed) != 1 {
		t.Fatalf("expected 1 pushed record, got %d", len(pushed))
	}
	if pushed[0].DocID().String() != "doc3" {
		t.Errorf("unexpected pushed docId: %v", pushed[0].DocID())
	}
}

type fakePusher struct {
	pushRecords func(context.Context, []docid.Record) (docid.DocId, bool, error)
}

func (f fakePusher) PushRecords(ctx context.Context, records []docid.Record) (docid.DocId, bool, error) {
	return f.pushRecords(ctx, records)
}
func (f fakePusher) PushGroupDefinitions(context.Context, map[string][]acl.Principal, bool) error {
	return nil
}
func (f fakePusher) PushNamedResources(context.Context, map[docid.DocId]acl.Acl) error {
	return nil
}

package cmdstream

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"

	"github.com/contentbridge/adaptor/acl"
	"github.com/contentbridge/adaptor/adaptor"
	"github.com/contentbridge/adaptor/docid"
	"github.com/contentbridge/adaptor/errkind"
)

// SubprocessAdaptor drives an external process over stdin/stdout as an
// Adaptor, for adaptors implemented outside this repo's process. Each
// capability invocation starts the configured command fresh, writes the
// request to stdin, and parses the response with Parser.
type SubprocessAdaptor struct {
	// Command and Args name the external program; each capability call
	// appends its own mode-specific arguments.
	Command string
	Args    []string
}

var _ adaptor.DocIdProducer = (*SubprocessAdaptor)(nil)
var _ adaptor.PollingIncrementalLister = (*SubprocessAdaptor)(nil)
var _ adaptor.ContentProvider = (*SubprocessAdaptor)(nil)
var _ adaptor.AuthzAuthority = (*SubprocessAdaptor)(nil)

func (s *SubprocessAdaptor) run(ctx context.Context, mode string, stdin io.Reader) (io.ReadCloser, func() error, error) {
	cmd := exec.CommandContext(ctx, s.Command, append(append([]string{}, s.Args...), mode)...)
	cmd.Stdin = stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, errkind.Wrap(errkind.Unavailable, "cmdstream: create stdout pipe", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, errkind.Wrap(errkind.Unavailable, "cmdstream: start subprocess", err)
	}
	wait := func() error {
		if err := cmd.Wait(); err != nil {
			return errkind.Wrap(errkind.Unavailable, fmt.Sprintf("cmdstream: subprocess exited: %s", stderr.String()), err)
		}
		return nil
	}
	return stdout, wait, nil
}

// GetDocIds implements adaptor.DocIdProducer by invoking the subprocess
// in "list" mode and streaming decoded Records to pusher.
func (s *SubprocessAdaptor) GetDocIds(ctx context.Context, pusher adaptor.Pusher) error {
	stdout, wait, err := s.run(ctx, "list", nil)
	if err != nil {
		return err
	}
	defer stdout.Close()

	parser, err := NewParser(stdout)
	if err != nil {
		return err
	}
	var batch []docid.Record
	if err := parser.ReadFromLister(func(r docid.Record) error {
		batch = append(batch, r)
		if len(batch) >= 500 {
			_, _, err := pusher.PushRecords(ctx, batch)
			batch = batch[:0]
			return err
		}
		return nil
	}); err != nil {
		return err
	}
	if len(batch) > 0 {
		if _, _, err := pusher.PushRecords(ctx, batch); err != nil {
			return err
		}
	}
	return wait()
}

// GetModifiedDocIds implements adaptor.PollingIncrementalLister by
// invoking the subprocess in "incremental" mode; the subprocess decides
// for itself what "modified since last poll" means (it is not handed a
// resume token), matching the line protocol's full-listing body shape.
func (s *SubprocessAdaptor) GetModifiedDocIds(ctx context.Context, pusher adaptor.Pusher) error {
	stdout, wait, err := s.run(ctx, "incremental", nil)
	if err != nil {
		return err
	}
	defer stdout.Close()

	parser, err := NewParser(stdout)
	if err != nil {
		return err
	}
	var batch []docid.Record
	if err := parser.ReadFromLister(func(r docid.Record) error {
		batch = append(batch, r)
		if len(batch) >= 500 {
			_, _, err := pusher.PushRecords(ctx, batch)
			batch = batch[:0]
			return err
		}
		return nil
	}); err != nil {
		return err
	}
	if len(batch) > 0 {
		if _, _, err := pusher.PushRecords(ctx, batch); err != nil {
			return err
		}
	}
	return wait()
}

// GetDocContent implements adaptor.ContentProvider by invoking the
// subprocess in "retrieve" mode with the DocId on stdin.
func (s *SubprocessAdaptor) GetDocContent(ctx context.Context, req *adaptor.Request, resp adaptor.Response) error {
	stdout, wait, err := s.run(ctx, "retrieve", bytes.NewBufferString(req.DocID.String()+"\n"))
	if err != nil {
		return err
	}
	defer stdout.Close()

	parser, err := NewParser(stdout)
	if err != nil {
		return err
	}
	rr, err := parser.ReadFromRetriever()
	if err != nil {
		return err
	}

	if rr.UpToDate {
		return resp.RespondNotModified()
	}
	if !rr.LastModified.IsZero() {
		resp.SetLastModified(rr.LastModified)
	}
	resp.SetDisplayURL(rr.DisplayURL)
	resp.SetCrawlOnce(rr.CrawlOnce)
	resp.SetLock(rr.Lock)
	resp.SetSecure(rr.Secure)
	resp.SetNoIndex(rr.NoIndex)
	resp.SetNoFollow(rr.NoFollow)
	resp.SetNoArchive(rr.NoArchive)
	if rr.Metadata != nil && rr.Metadata.Len() > 0 {
		resp.SetMetadata(rr.Metadata.Freeze())
	}
	for i := range rr.AnchorURIs {
		resp.AddAnchor(rr.AnchorURIs[i], rr.AnchorTexts[i])
	}

	out, err := resp.GetOutputStream()
	if err != nil {
		return err
	}
	if rr.Content != nil {
		if _, err := io.Copy(out, rr.Content); err != nil {
			return errkind.Wrap(errkind.Unavailable, "cmdstream: copy retrieved content", err)
		}
	}
	return wait()
}

// IsUserAuthorized implements adaptor.AuthzAuthority by invoking the
// subprocess in "authorize" mode with one DocId per line on stdin.
func (s *SubprocessAdaptor) IsUserAuthorized(ctx context.Context, identity acl.Identity, docIDs []docid.DocId) (map[docid.DocId]adaptor.Decision, error) {
	var stdin bytes.Buffer
	fmt.Fprintf(&stdin, "user=%s\n", identity.User.Name)
	for _, g := range identity.Groups {
		fmt.Fprintf(&stdin, "group=%s\n", g.Name)
	}
	for _, id := range docIDs {
		fmt.Fprintf(&stdin, "id=%s\n", id.String())
	}

	stdout, wait, err := s.run(ctx, "authorize", &stdin)
	if err != nil {
		return nil, err
	}
	defer stdout.Close()

	parser, err := NewParser(stdout)
	if err != nil {
		return nil, err
	}
	decisions, err := parser.ReadFromAuthorizer()
	if err != nil {
		return nil, err
	}
	if err := wait(); err != nil {
		return nil, err
	}

	out := make(map[docid.DocId]adaptor.Decision, len(decisions))
	for id, d := range decisions {
		switch d {
		case AuthzPermit:
			out[id] = acl.Permit
		case AuthzDeny:
			out[id] = acl.Deny
		default:
			out[id] = acl.Indeterminate
		}
	}
	return out, nil
}

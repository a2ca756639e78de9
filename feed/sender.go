package feed

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/contentbridge/adaptor/errkind"
)

// Sender POSTs feed XML to the indexer's feed endpoint as
// multipart/form-data, per §4.4.
type Sender struct {
	Endpoint string
	Client   *http.Client
}

// NewSender returns a Sender posting to endpoint with client, or
// http.DefaultClient if client is nil.
func NewSender(endpoint string, client *http.Client) *Sender {
	if client == nil {
		client = http.DefaultClient
	}
	return &Sender{Endpoint: endpoint, Client: client}
}

// Send POSTs a metadata-and-url or xmlgroups feed. compress gzips the
// data part. A network failure fails TRANSIENT_FAILURE; an HTTP 4xx/5xx
// fails FEED_REJECTED carrying the status.
func (s *Sender) Send(ctx context.Context, feedtype, datasource, data string, compress bool) error {
	return s.sendWithFields(ctx, feedtype, datasource, data, compress, nil)
}

// SendGroups POSTs an xmlgroups feed with an additional "incremental"
// form field, per §4.4's separate sendGroups entry point.
func (s *Sender) SendGroups(ctx context.Context, datasource, data string, compress, incremental bool) error {
	return s.sendWithFields(ctx, "xmlgroups", datasource, data, compress, map[string]string{
		"incremental": fmt.Sprintf("%t", incremental),
	})
}

func (s *Sender) sendWithFields(ctx context.Context, feedtype, datasource, data string, compress bool, extra map[string]string) error {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	if err := mw.WriteField("feedtype", feedtype); err != nil {
		return errkind.Wrap(errkind.Unavailable, "feed: write feedtype field", err)
	}
	if err := mw.WriteField("datasource", datasource); err != nil {
		return errkind.Wrap(errkind.Unavailable, "feed: write datasource field", err)
	}
	for k, v := range extra {
		if err := mw.WriteField(k, v); err != nil {
			return errkind.Wrap(errkind.Unavailable, "feed: write "+k+" field", err)
		}
	}

	payload := []byte(data)
	if compress {
		var gz bytes.Buffer
		w := gzip.NewWriter(&gz)
		if _, err := w.Write(payload); err != nil {
			return errkind.Wrap(errkind.Unavailable, "feed: gzip data", err)
		}
		if err := w.Close(); err != nil {
			return errkind.Wrap(errkind.Unavailable, "feed: close gzip writer", err)
		}
		payload = gz.Bytes()
	}
	dataWriter, err := mw.CreateFormField("data")
	if err != nil {
		return errkind.Wrap(errkind.Unavailable, "feed: create data field", err)
	}
	if _, err := dataWriter.Write(payload); err != nil {
		return errkind.Wrap(errkind.Unavailable, "feed: write data field", err)
	}
	if err := mw.Close(); err != nil {
		return errkind.Wrap(errkind.Unavailable, "feed: close multipart writer", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.Endpoint, &body)
	if err != nil {
		return errkind.Wrap(errkind.TransientFailure, "feed: build request", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if compress {
		req.Header.Set("Content-Encoding", "gzip")
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return errkind.Wrap(errkind.TransientFailure, "feed: post to indexer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return errkind.New(errkind.FeedRejected, fmt.Sprintf("feed: indexer rejected feed: status %d: %s", resp.StatusCode, respBody))
	}
	return nil
}

package transform

import (
	"bytes"
	"io"
	"strings"

	"github.com/contentbridge/adaptor/metadata"
)

func init() {
	Register("strip-html-comments", func() Stage { return stripHTMLCommentsStage{} })
	Register("add-metadata", func() Stage { return addMetadataStage{} })
}

// stripHTMLCommentsStage removes `<!-- ... -->` runs from the content,
// the simplest transform the adaptor ships out of the box.
type stripHTMLCommentsStage struct{}

func (stripHTMLCommentsStage) Name() string { return "strip-html-comments" }

func (stripHTMLCommentsStage) Apply(contentIn io.Reader, contentOut io.Writer, _ *metadata.Metadata, _ Params) error {
	data, err := io.ReadAll(contentIn)
	if err != nil {
		return err
	}
	out := data
	for {
		start := bytes.Index(out, []byte("<!--"))
		if start < 0 {
			break
		}
		end := bytes.Index(out[start:], []byte("-->"))
		if end < 0 {
			break
		}
		out = append(out[:start], out[start+end+3:]...)
	}
	_, err = contentOut.Write(out)
	return err
}

// addMetadataStage copies its params into the document's metadata
// unchanged, useful for adaptors that want static metadata injected by
// config rather than by adaptor code.
type addMetadataStage struct{}

func (addMetadataStage) Name() string { return "add-metadata" }

func (addMetadataStage) Apply(contentIn io.Reader, contentOut io.Writer, meta *metadata.Metadata, params Params) error {
	if _, err := io.Copy(contentOut, contentIn); err != nil {
		return err
	}
	if meta == nil {
		return nil
	}
	for k, v := range params {
		for _, val := range strings.Split(v, ",") {
			meta.Add(k, val)
		}
	}
	return nil
}

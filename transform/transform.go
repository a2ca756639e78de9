// Package transform implements the document transform pipeline (§4.15):
// an ordered list of stages that rewrite a retrieved document's content
// and metadata before it is delivered to the indexer or to an end user.
package transform

import (
	"bytes"
	"fmt"
	"io"

	"github.com/contentbridge/adaptor/errkind"
	"github.com/contentbridge/adaptor/metadata"
)

// Params carries a stage's per-invocation configuration, sourced from the
// config keys `<prefix>.<stageName>.<k>=<v>` (§6).
type Params map[string]string

// Stage is one DocumentTransform. Apply reads contentIn and meta, and
// writes the (possibly unchanged) output to contentOut. Implementations
// must not write into or reset contentIn: doing so is a contract
// violation the pipeline cannot detect directly, so Run instead always
// hands stages a read-only buffer they cannot mutate through the normal
// io.Reader API.
type Stage interface {
	Name() string
	Apply(contentIn io.Reader, contentOut io.Writer, meta *metadata.Metadata, params Params) error
}

// StageConfig pairs a registered stage with whether its failure aborts
// the pipeline (required) or is skipped over (optional), and the params
// it runs with.
type StageConfig struct {
	Stage    Stage
	Required bool
	Params   Params
}

// Pipeline runs an ordered sequence of stages over a document.
type Pipeline struct {
	Stages []StageConfig
}

// New returns a Pipeline running stages in order.
func New(stages ...StageConfig) *Pipeline {
	return &Pipeline{Stages: stages}
}

// Run threads content through every configured stage in order and
// returns the final bytes; stages add to meta in place. A required
// stage's error aborts with errkind.TransformFailed and no output is
// returned (per §4.15: "the content is not delivered"). An optional
// stage's error is discarded: Run passes that stage's unmodified input
// through to the next stage.
func (p *Pipeline) Run(content []byte, meta *metadata.Metadata) ([]byte, error) {
	current := content
	for _, sc := range p.Stages {
		in := bytes.NewReader(current)
		var out bytes.Buffer
		err := sc.Stage.Apply(in, &out, meta, sc.Params)
		if err != nil {
			if sc.Required {
				return nil, errkind.Wrap(errkind.TransformFailed,
					fmt.Sprintf("transform: required stage %q failed", sc.Stage.Name()), err)
			}
			continue
		}
		current = out.Bytes()
	}
	return current, nil
}

// Factory builds a Stage from its config-declared name. Registered via
// Register so BuildPipeline can resolve `transform.pipeline`'s
// comma-separated stage names.
type Factory func() Stage

var registry = map[string]Factory{}

// Register adds a stage factory under name, so BuildPipeline can
// instantiate it by name from config. Intended to be called from each
// stage implementation's package init.
func Register(name string, f Factory) {
	registry[name] = f
}

// BuildPipeline resolves names (as declared by config's
// `transform.pipeline` / `metadata.transform.pipeline` key) against the
// stage registry, pairing each with its required flag and params.
func BuildPipeline(names []string, required map[string]bool, params map[string]Params) (*Pipeline, error) {
	stages := make([]StageConfig, 0, len(names))
	for _, name := range names {
		factory, ok := registry[name]
		if !ok {
			return nil, errkind.New(errkind.InvalidConfiguration, fmt.Sprintf("transform: unknown stage %q", name))
		}
		stages = append(stages, StageConfig{
			Stage:    factory(),
			Required: required[name],
			Params:   params[name],
		})
	}
	return New(stages...), nil
}

package summarizer

import (
	"time"

	"github.com/yanqian/ai-digest/pkg/metrics"
)

// Config carries the orchestrator defaults. Zero values are replaced by
// the package defaults so a partially filled Config stays usable.
type Config struct {
	Strategy       string
	ChunkTokens    int
	OverlapTokens  int
	TargetTokens   int
	MinChunkTokens int
	MaxMergePasses int
	Concurrency    int
	PromptTemplate string
	MergeTemplate  string
	Model          string
	Temperature    float32
	MaxAttempts    int
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
}

const (
	defaultChunkTokens    = 2000
	defaultTargetTokens   = 2000
	defaultMinChunkTokens = 500
	defaultMaxMergePasses = 3
	defaultConcurrency    = 5
	defaultMaxAttempts    = 3
	defaultBaseBackoff    = 500 * time.Millisecond
	defaultMaxBackoff     = 8 * time.Second
)

const defaultPromptTemplate = `Summarize the following content in at most {{.MaxTokens}} tokens. Preserve key facts, names, and numbers.{{if .Focus}} Focus on: {{.Focus}}.{{end}}

{{.Content}}`

const defaultMergeTemplate = `Combine the following partial summaries into a single coherent summary of at most {{.MaxTokens}} tokens. Remove redundancy and keep key facts, names, and numbers.

{{.Content}}`

func (c Config) withDefaults() Config {
	if c.Strategy == "" {
		c.Strategy = "structural"
	}
	if c.ChunkTokens <= 0 {
		c.ChunkTokens = defaultChunkTokens
	}
	if c.OverlapTokens < 0 {
		c.OverlapTokens = 0
	}
	if c.TargetTokens <= 0 {
		c.TargetTokens = defaultTargetTokens
	}
	if c.MinChunkTokens <= 0 {
		c.MinChunkTokens = defaultMinChunkTokens
	}
	if c.MaxMergePasses <= 0 {
		c.MaxMergePasses = defaultMaxMergePasses
	}
	if c.Concurrency <= 0 {
		c.Concurrency = defaultConcurrency
	}
	if c.PromptTemplate == "" {
		c.PromptTemplate = defaultPromptTemplate
	}
	if c.MergeTemplate == "" {
		c.MergeTemplate = defaultMergeTemplate
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = defaultBaseBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = defaultMaxBackoff
	}
	return c
}

// Request represents one summarization invocation. It is constructed by
// the caller, consumed once, and never mutated. Zero-value fields fall
// back to the service Config.
type Request struct {
	Content        string
	PromptTemplate string
	MergeTemplate  string
	TargetTokens   int
	Strategy       string
	ChunkTokens    int
	Overlap        int
	Params         map[string]string
}

// Response is returned by Summarize. Text is the reduced content;
// Converged reports whether it landed within the target budget.
type Response struct {
	Text        string
	MapCalls    int
	MergePasses int
	Converged   bool
	DurationMs  int64
	TokenUsage  *metrics.TokenUsage
}

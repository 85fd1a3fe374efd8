// Package chunker splits text into an ordered sequence of chunks, each
// under a token budget. The structural strategy cascades through
// markdown boundaries, paragraph breaks, and finally fixed-width token
// windows, so content is never dropped; a level 1-2 heading is carried
// forward onto continuation chunks for reader context.
package chunker

import (
	"regexp"
	"strings"

	"github.com/yanqian/ai-digest/pkg/tokenizer"
)

// Strategy selects the boundary cascade used to split content.
type Strategy string

const (
	StrategyStructural Strategy = "structural"
	StrategyFixedWidth Strategy = "fixed-width"
)

const defaultChunkTokens = 2000

var (
	// Markdown headers (levels 1-4) and horizontal rules open a new section.
	boundaryRe  = regexp.MustCompile(`(?m)^(?:#{1,4} .*|(?:-{3,}|\*{3,}|_{3,})[ \t]*)$`)
	topHeaderRe = regexp.MustCompile(`^#{1,2} `)
	paragraphRe = regexp.MustCompile(`\n[ \t]*\n+`)
)

// Engine splits text into chunks of at most ChunkTokens tokens.
type Engine struct {
	Strategy    Strategy
	ChunkTokens int
	Overlap     int
}

// New constructs an Engine. Misconfigured budgets are clamped rather
// than rejected so the splitting loop always terminates.
func New(strategy Strategy, chunkTokens, overlap int) *Engine {
	if strategy != StrategyFixedWidth {
		strategy = StrategyStructural
	}
	if chunkTokens <= 0 {
		chunkTokens = defaultChunkTokens
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= chunkTokens {
		overlap = chunkTokens - 1
	}
	return &Engine{Strategy: strategy, ChunkTokens: chunkTokens, Overlap: overlap}
}

// Chunk is a convenience for one-off splits.
func Chunk(content string, strategy Strategy, chunkTokens, overlap int) []string {
	return New(strategy, chunkTokens, overlap).Chunk(content)
}

// Chunk splits content into ordered chunks. Empty content yields nil;
// content already within budget is returned as a single chunk.
func (e *Engine) Chunk(content string) []string {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	if tokenizer.Count(content) <= e.ChunkTokens {
		return []string{content}
	}
	if e.Strategy == StrategyFixedWidth {
		return fixedWidth(content, e.ChunkTokens, e.Overlap)
	}
	return e.structural(content)
}

// section is a contiguous span opened by a structural boundary. header
// is set when the span opens with a level 1-2 heading.
type section struct {
	text   string
	header string
}

func (e *Engine) structural(content string) []string {
	acc := accumulator{budget: e.ChunkTokens, overlap: e.Overlap}
	for _, sec := range splitSections(content) {
		if sec.header != "" {
			acc.header = sec.header
		}
		acc.add(sec.text)
	}
	acc.flush()
	return acc.out
}

// accumulator threads the header-context state through a single forward
// pass over the section list.
type accumulator struct {
	budget  int
	overlap int
	header  string
	parts   []string
	out     []string
}

// add appends one span to the growing chunk, closing the chunk first
// when the span would not fit, and cascading to paragraph or
// fixed-width splitting when the span alone exceeds the budget.
func (a *accumulator) add(text string) {
	if tokenizer.Count(text) > a.budget {
		a.flush()
		a.splitOversized(text)
		return
	}
	if len(a.parts) == 0 {
		a.parts = a.seeded(text)
		return
	}
	candidate := append(append([]string(nil), a.parts...), text)
	if tokenizer.Count(strings.Join(candidate, "\n\n")) > a.budget {
		a.flush()
		a.parts = a.seeded(text)
		return
	}
	a.parts = candidate
}

// splitOversized retries an over-budget span at paragraph boundaries,
// falling back to fixed-width windows when no paragraph break helps.
func (a *accumulator) splitOversized(text string) {
	paragraphs := splitParagraphs(text)
	if len(paragraphs) <= 1 {
		a.fixedTail(text)
		return
	}
	for _, p := range paragraphs {
		a.add(p)
	}
}

// fixedTail slices an indivisible span into token windows. The header
// context is prefixed once, ahead of the split, so it lands verbatim at
// the start of the first piece and every piece stays within budget.
func (a *accumulator) fixedTail(text string) {
	if a.header != "" && !strings.HasPrefix(strings.TrimSpace(text), a.header) {
		text = a.header + "\n\n" + text
	}
	a.out = append(a.out, fixedWidth(text, a.budget, a.overlap)...)
}

// seeded starts a fresh chunk, re-seeding the active header context
// unless the span already carries it or the pair would bust the budget.
func (a *accumulator) seeded(text string) []string {
	if a.header == "" || strings.HasPrefix(strings.TrimSpace(text), a.header) {
		return []string{text}
	}
	if tokenizer.Count(a.header+"\n\n"+text) > a.budget {
		return []string{text}
	}
	return []string{a.header, text}
}

func (a *accumulator) flush() {
	if len(a.parts) == 0 {
		return
	}
	a.out = append(a.out, strings.Join(a.parts, "\n\n"))
	a.parts = nil
}

// splitSections cuts content at structural boundaries. Content without
// any boundary is a single section.
func splitSections(content string) []section {
	locs := boundaryRe.FindAllStringIndex(content, -1)
	if len(locs) == 0 {
		return []section{{text: strings.TrimSpace(content)}}
	}

	var secs []section
	appendSpan := func(span string) {
		span = strings.TrimSpace(span)
		if span == "" {
			return
		}
		sec := section{text: span}
		first, _, _ := strings.Cut(span, "\n")
		if topHeaderRe.MatchString(first) {
			sec.header = strings.TrimSpace(first)
		}
		secs = append(secs, sec)
	}

	prev := 0
	for _, loc := range locs {
		if loc[0] > prev {
			appendSpan(content[prev:loc[0]])
			prev = loc[0]
		}
	}
	appendSpan(content[prev:])
	return secs
}

func splitParagraphs(text string) []string {
	parts := paragraphRe.Split(text, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// fixedWidth slices the token sequence into windows of width tokens,
// each window after the first starting overlap tokens before the
// previous window's end.
func fixedWidth(text string, width, overlap int) []string {
	units := tokenizer.Encode(text)
	if len(units) == 0 {
		return nil
	}
	if width <= 0 {
		width = defaultChunkTokens
	}
	if overlap < 0 {
		overlap = 0
	}
	if overlap >= width {
		overlap = width - 1
	}
	step := width - overlap

	var out []string
	for start := 0; start < len(units); start += step {
		end := start + width
		if end > len(units) {
			end = len(units)
		}
		out = append(out, tokenizer.Decode(units[start:end]))
		if end == len(units) {
			break
		}
	}
	return out
}

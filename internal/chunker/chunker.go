// Package chunker splits raw source text into bounded, heading-aware pieces
// ready for embedding. Pure and deterministic: identical input and budget
// always produce identical output.
package chunker

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultTokenBudget is the target token budget applied when callers pass a
// non-positive value.
const DefaultTokenBudget = 800

// MinChunkTokens is the floor below which a chunk is merged into its
// predecessor to avoid degenerate fragments.
const MinChunkTokens = 50

// sentenceSplitRatio is the fraction of the budget above which a single
// paragraph is split on sentence boundaries before accumulation.
const sentenceSplitRatio = 0.8

// Piece is one bounded segment of source text.
type Piece struct {
	Text         string
	ApproxTokens int
	Heading      string
	PageStart    int // 1-based, 0 when no page information
	PageEnd      int
}

var (
	numberedHeading = regexp.MustCompile(`^\d+(\.\d+)*[.)]?\s+\S`)
	markerHeading   = regexp.MustCompile(`(?i)^(chapter|section|part|appendix)\b`)
	sentenceSplit   = regexp.MustCompile(`(?mU)([^.!?]+[.!?]+["')\]]*)`)
)

// EstimateTokens approximates the token count of text as a blend of word and
// character counts. This is a heuristic, not a tokenizer: values are useful
// for budget compliance only and must never be treated as ground truth.
func EstimateTokens(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	words := len(strings.Fields(trimmed))
	chars := utf8.RuneCountInString(trimmed)
	est := 0.75*float64(words) + 0.25*float64(chars)/4.0
	if est < 1 {
		return 1
	}
	return int(math.Round(est))
}

// Chunk splits text into ordered pieces close to the token budget.
// Paragraphs are the primary unit; detected headings flush the accumulation
// buffer and label the chunk that follows; oversized paragraphs are split on
// sentence boundaries first; pieces under MinChunkTokens are merged into
// their predecessor. Empty or whitespace-only input returns nil.
//
// Form feeds (\f) are treated as page breaks for page-range attribution.
func Chunk(text string, budget int) []Piece {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if budget <= 0 {
		budget = DefaultTokenBudget
	}

	paras := splitParagraphs(text)
	paged := strings.ContainsRune(text, '\f')

	var pieces []Piece
	acc := accumulator{paged: paged}

	splitAt := int(sentenceSplitRatio * float64(budget))
	for _, p := range paras {
		if isHeading(p.text) {
			pieces = acc.flush(pieces)
			acc.heading = p.text
			continue
		}

		units := []string{p.text}
		if EstimateTokens(p.text) > splitAt {
			units = splitSentences(p.text)
		}
		for _, u := range units {
			tokens := EstimateTokens(u)
			if acc.tokens > 0 && acc.tokens+tokens > budget {
				pieces = acc.flush(pieces)
			}
			acc.add(u, tokens, p.page)
		}
	}
	pieces = acc.flush(pieces)

	return mergeSmall(pieces)
}

type paragraph struct {
	text string
	page int // 1-based
}

// splitParagraphs splits on blank lines, tracking page numbers from form feeds.
func splitParagraphs(text string) []paragraph {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var paras []paragraph
	page := 1
	for _, pageText := range strings.Split(text, "\f") {
		for _, block := range strings.Split(pageText, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}
			paras = append(paras, paragraph{text: block, page: page})
		}
		page++
	}
	return paras
}

// isHeading reports whether a paragraph looks like a section heading:
// a single short line that is numbered, marker-prefixed, all-caps, or
// title-cased without a terminal period.
func isHeading(text string) bool {
	if strings.ContainsRune(text, '\n') {
		return false
	}
	line := strings.TrimSpace(text)
	if line == "" || utf8.RuneCountInString(line) > 80 {
		return false
	}
	if numberedHeading.MatchString(line) || markerHeading.MatchString(line) {
		return true
	}
	if strings.HasSuffix(line, ".") || strings.HasSuffix(line, ",") {
		return false
	}
	words := strings.Fields(line)
	if len(words) > 12 {
		return false
	}
	if isAllCaps(line) {
		return true
	}
	return isTitleCase(words)
}

func isAllCaps(line string) bool {
	hasLetter := false
	for _, r := range line {
		if unicode.IsLetter(r) {
			hasLetter = true
			if !unicode.IsUpper(r) {
				return false
			}
		}
	}
	return hasLetter
}

// isTitleCase requires every significant word to start with an upper-case
// letter. Short connectives (of, the, and...) are exempt except in first
// position.
func isTitleCase(words []string) bool {
	if len(words) < 2 {
		return false
	}
	for i, w := range words {
		r, _ := utf8.DecodeRuneInString(w)
		if unicode.IsUpper(r) {
			continue
		}
		if i > 0 && len(w) <= 3 && unicode.IsLetter(r) {
			continue
		}
		return false
	}
	return true
}

// splitSentences splits a paragraph on sentence boundaries, keeping
// terminators attached. Text without terminators comes back whole.
func splitSentences(text string) []string {
	idx := sentenceSplit.FindAllStringIndex(text, -1)
	if len(idx) == 0 {
		return []string{text}
	}

	out := make([]string, 0, len(idx)+1)
	end := 0
	for _, span := range idx {
		if s := strings.TrimSpace(text[span[0]:span[1]]); s != "" {
			out = append(out, s)
		}
		end = span[1]
	}
	// Trailing fragment without a terminator.
	if rest := strings.TrimSpace(text[end:]); rest != "" {
		out = append(out, rest)
	}
	return out
}

type accumulator struct {
	parts   []string
	tokens  int
	heading string
	pageLo  int
	pageHi  int
	paged   bool
}

func (a *accumulator) add(text string, tokens, page int) {
	a.parts = append(a.parts, text)
	a.tokens += tokens
	if a.pageLo == 0 || page < a.pageLo {
		a.pageLo = page
	}
	if page > a.pageHi {
		a.pageHi = page
	}
}

func (a *accumulator) flush(pieces []Piece) []Piece {
	if len(a.parts) == 0 {
		return pieces
	}
	text := strings.Join(a.parts, "\n\n")
	p := Piece{
		Text:         text,
		ApproxTokens: EstimateTokens(text),
		Heading:      a.heading,
	}
	if a.paged {
		p.PageStart, p.PageEnd = a.pageLo, a.pageHi
	}
	pieces = append(pieces, p)
	a.parts = nil
	a.tokens = 0
	a.heading = ""
	a.pageLo = 0
	a.pageHi = 0
	return pieces
}

// mergeSmall merges pieces under MinChunkTokens into their predecessor.
// The first piece has no predecessor and is kept as is.
func mergeSmall(pieces []Piece) []Piece {
	if len(pieces) < 2 {
		return pieces
	}
	out := pieces[:1]
	for _, p := range pieces[1:] {
		if p.ApproxTokens >= MinChunkTokens {
			out = append(out, p)
			continue
		}
		prev := &out[len(out)-1]
		prev.Text = prev.Text + "\n\n" + p.Text
		prev.ApproxTokens = EstimateTokens(prev.Text)
		if p.PageEnd > prev.PageEnd {
			prev.PageEnd = p.PageEnd
		}
		if prev.PageStart == 0 {
			prev.PageStart = p.PageStart
		}
	}
	return out
}

package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/scholarlabs/citedex/internal/domain"
	"github.com/scholarlabs/citedex/internal/retry"
)

const (
	// summaryInputLimit caps how much source text is sent to the completion
	// provider.
	summaryInputLimit = 12000
	// fallbackAbstractLimit caps the truncated-text abstract used when the
	// provider output cannot be parsed.
	fallbackAbstractLimit = 400
	summaryMaxTokens      = 600
)

const summarySystemPrompt = `You summarize research documents. Respond with ` +
	`a single JSON object and nothing else, in the exact shape ` +
	`{"abstract": string, "insights": [string, ...]}. The abstract is one ` +
	`paragraph; insights are three to five short bullet points.`

type summaryDoc struct {
	Abstract string   `json:"abstract"`
	Insights []string `json:"insights"`
}

// summarize produces the source summary. Provider or parse failures never
// abort ingestion: after a strict parse and a bounded repair pass the method
// degrades to a truncated-text abstract with placeholder insights.
func (s *Service) summarize(ctx context.Context, title, text string) domain.Summary {
	input := text
	if len(input) > summaryInputLimit {
		input = truncateUTF8(input, summaryInputLimit)
	}

	req := domain.CompletionRequest{
		System:      summarySystemPrompt,
		User:        fmt.Sprintf("Title: %s\n\nDocument:\n%s", title, input),
		Temperature: 0.2,
		MaxTokens:   summaryMaxTokens,
	}

	raw, err := retry.Do(ctx, s.cfg.Retry, func(ctx context.Context) (string, error) {
		return s.completer.Complete(ctx, req)
	})
	if err != nil {
		s.logger.Warn("summary generation failed, using fallback", zap.Error(err))
		return fallbackSummary(text)
	}

	summary, err := parseSummary(raw)
	if err != nil {
		s.logger.Warn("summary unparseable, using fallback",
			zap.String("kind", string(domain.KindSummaryMalformed)), zap.Error(err))
		return fallbackSummary(text)
	}
	return summary
}

var trailingComma = regexp.MustCompile(`,\s*([}\]])`)

// parseSummary tries a strict decode first, then one repair pass over common
// provider formatting faults (code fences, leading prose, trailing commas).
func parseSummary(raw string) (domain.Summary, error) {
	var doc summaryDoc
	if err := json.Unmarshal([]byte(raw), &doc); err == nil && doc.Abstract != "" {
		return domain.Summary{Abstract: doc.Abstract, Insights: doc.Insights}, nil
	}

	repaired := repairJSON(raw)
	if err := json.Unmarshal([]byte(repaired), &doc); err != nil {
		return domain.Summary{}, domain.NewPipelineError(domain.KindSummaryMalformed,
			fmt.Errorf("summary is not valid JSON after repair: %w", err))
	}
	if doc.Abstract == "" {
		return domain.Summary{}, domain.NewPipelineError(domain.KindSummaryMalformed,
			fmt.Errorf("summary JSON has no abstract"))
	}
	return domain.Summary{Abstract: doc.Abstract, Insights: doc.Insights}, nil
}

// repairJSON strips code fences and surrounding prose, keeps the outermost
// object, and removes trailing commas.
func repairJSON(raw string) string {
	cleaned := strings.TrimSpace(raw)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start == -1 || end == -1 || end < start {
		return cleaned
	}
	cleaned = cleaned[start : end+1]

	return trailingComma.ReplaceAllString(cleaned, "$1")
}

func fallbackSummary(text string) domain.Summary {
	abstract := strings.Join(strings.Fields(text), " ")
	if len(abstract) > fallbackAbstractLimit {
		abstract = truncateUTF8(abstract, fallbackAbstractLimit) + "..."
	}
	return domain.Summary{
		Abstract: abstract,
		Insights: []string{"Summary generation unavailable for this source."},
	}
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := s[:limit]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut
}

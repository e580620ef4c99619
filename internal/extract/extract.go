// Package extract turns raw upload payloads into plain text for chunking.
package extract

import (
	"encoding/base64"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/scholarlabs/citedex/internal/domain"
)

// Text extracts plain text from an upload payload. Text payloads pass
// through; PDF payloads are base64-decoded and parsed page by page, with
// form feeds inserted between pages so downstream chunking can attribute
// page ranges. Failures carry KindExtractionFailed.
func Text(payload domain.UploadPayload) (string, error) {
	switch payload.Kind {
	case domain.SourceKindText:
		return payload.Content, nil
	case domain.SourceKindPDF:
		raw, err := base64.StdEncoding.DecodeString(payload.Content)
		if err != nil {
			return "", domain.NewPipelineError(domain.KindExtractionFailed,
				fmt.Errorf("decode base64 payload: %w", err))
		}
		text, err := fromPDF(raw)
		if err != nil {
			return "", domain.NewPipelineError(domain.KindExtractionFailed, err)
		}
		return text, nil
	default:
		return "", domain.NewPipelineError(domain.KindExtractionFailed,
			fmt.Errorf("unsupported payload kind %q", payload.Kind))
	}
}

// fromPDF extracts per-page text. The pdf library works with file paths, so
// the payload goes through a temp file.
func fromPDF(raw []byte) (string, error) {
	tmp, err := os.CreateTemp("", "citedex-upload-*.pdf")
	if err != nil {
		return "", fmt.Errorf("create temp pdf: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write temp pdf: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close temp pdf: %w", err)
	}

	f, reader, err := pdf.Open(tmp.Name())
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("read pdf page %d: %w", i, err)
		}
		pages = append(pages, text)
	}

	joined := strings.Join(pages, "\f")
	if strings.TrimSpace(joined) == "" {
		return "", fmt.Errorf("no text extracted from pdf")
	}
	return joined, nil
}

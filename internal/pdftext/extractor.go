// Package pdftext turns PDF bytes into a single text blob, one page after
// another with an explicit page-break marker in between.
package pdftext

import (
	"bytes"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/remedyhq/pdf-processor/internal/common"
)

// PageSeparator joins the text of consecutive pages. It never appears after
// the last page. Downstream consumers rely on this exact string to recover
// page boundaries, so treat it as part of the data contract.
const PageSeparator = "\n\n----- PAGE BREAK -----\n\n"

type Extractor struct {
	logger *slog.Logger
}

func NewExtractor(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{logger: logger}
}

// ExtractText parses data as a PDF and returns the concatenated page texts.
// Empty input yields empty output. An unreadable container or any page that
// fails to decode fails the whole extraction; no partial text is returned.
func (e *Extractor) ExtractText(data []byte) (out string, err error) {
	if len(data) == 0 {
		return "", nil
	}
	// The parser panics on some malformed files; surface that as a parse error.
	defer func() {
		if r := recover(); r != nil {
			out = ""
			err = common.NewAppError(common.CodeParse, fmt.Sprintf("parser panic: %v", r), nil)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", common.NewAppError(common.CodeParse, "failed to read PDF", err)
	}

	total := r.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", common.NewAppError(common.CodeParse,
				fmt.Sprintf("failed to extract text on page %d", i), err)
		}
		pages = append(pages, strings.TrimRight(text, " \t\r\n"))
	}

	out = strings.TrimSpace(JoinPages(pages))
	e.logger.Debug("pdftext.extract.ok", "pages", total, "chars", len(out))
	return out, nil
}

// JoinPages joins per-page texts with PageSeparator between consecutive pages.
func JoinPages(pages []string) string {
	return strings.Join(pages, PageSeparator)
}

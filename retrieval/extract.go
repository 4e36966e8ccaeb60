package retrieval

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// ExtractText pulls plain text out of an uploaded document. PDFs go through
// the pdf text layer; anything else is treated as UTF-8 text.
func ExtractText(mediaType string, content []byte) (string, error) {
	switch {
	case mediaType == "application/pdf":
		return extractPDF(content)
	case strings.HasPrefix(mediaType, "text/"),
		mediaType == "application/json",
		mediaType == "application/xml":
		return string(content), nil
	default:
		return "", fmt.Errorf("unsupported document type %q", mediaType)
	}
}

func extractPDF(content []byte) (string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("create PDF reader: %w", err)
	}

	var allText strings.Builder
	totalPage := reader.NumPage()
	for pageIndex := 1; pageIndex <= totalPage; pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err == nil && text != "" {
			allText.WriteString(text)
			allText.WriteString("\n")
		}
	}
	return allText.String(), nil
}

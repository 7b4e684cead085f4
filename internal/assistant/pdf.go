package assistant

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	rpdf "rsc.io/pdf"
)

var ErrNoPDFText = errors.New("pdf contains no extractable text")

// ExtractPDFText pulls the text layer out of a grant guideline PDF. The
// parser panics on some malformed files; that is reported as an error.
func ExtractPDFText(content []byte) (text string, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("pdf parser panic: %v", recovered)
			text = ""
		}
	}()

	reader, err := rpdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}

	var builder strings.Builder
	for pageIndex := 1; pageIndex <= reader.NumPage(); pageIndex++ {
		page := reader.Page(pageIndex)
		if page.V.IsNull() {
			continue
		}
		for _, fragment := range page.Content().Text {
			builder.WriteString(fragment.S)
			builder.WriteString(" ")
		}
		builder.WriteString("\n")
	}

	text = strings.Join(strings.Fields(builder.String()), " ")
	if text == "" {
		return "", ErrNoPDFText
	}
	return text, nil
}

package loader

import (
	"bytes"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFReader concatenates the plain text of every page in page order.
// Pages without extractable text contribute nothing, and a file that cannot
// be parsed yields empty text.
type PDFReader struct{}

func (PDFReader) Read(data []byte) (text string, err error) {
	if len(data) == 0 {
		return "", nil
	}
	defer func() {
		if recover() != nil {
			text, err = "", nil
		}
	}()

	r, perr := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if perr != nil {
		return "", nil
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		b.WriteString(pageText(r.Page(i)))
	}
	return b.String(), nil
}

func pageText(p pdf.Page) (text string) {
	defer func() {
		if recover() != nil {
			text = ""
		}
	}()
	if p.V.IsNull() {
		return ""
	}
	text, err := p.GetPlainText(nil)
	if err != nil {
		return ""
	}
	return text
}

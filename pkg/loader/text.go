package loader

import (
	"bufio"
	"bytes"
	"strings"
)

// TextReader decodes UTF-8 text. Invalid byte sequences are dropped.
type TextReader struct{}

func (TextReader) Read(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var b strings.Builder
	b.Grow(len(data))

	reader := bufio.NewReader(bytes.NewReader(data))
	for {
		line, err := reader.ReadString('\n')
		b.WriteString(strings.ToValidUTF8(line, ""))
		if err != nil {
			break
		}
	}
	return b.String(), nil
}

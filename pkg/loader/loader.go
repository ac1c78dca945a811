// Package loader turns uploaded files into a single text blob, selecting a
// reader by file extension.
package loader

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/xhad/docchat/internal/types"
)

// Registry maps lower-case extensions (without the dot) to readers.
type Registry struct {
	readers map[string]types.Reader
}

// New returns a registry with the built-in readers.
func New() *Registry {
	r := &Registry{readers: make(map[string]types.Reader)}
	r.Register("pdf", PDFReader{})
	r.Register("txt", TextReader{})
	r.Register("md", TextReader{})
	r.Register("html", HTMLReader{})
	r.Register("htm", HTMLReader{})
	return r
}

// Register binds ext to reader, replacing any previous binding.
func (r *Registry) Register(ext string, reader types.Reader) {
	r.readers[normalizeExt(ext)] = reader
}

// Supported lists the registered extensions in sorted order.
func (r *Registry) Supported() []string {
	exts := make([]string, 0, len(r.readers))
	for ext := range r.readers {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// Lookup returns the reader for filename, or an *types.UnsupportedFormatError
// carrying the file's extension.
func (r *Registry) Lookup(filename string) (types.Reader, error) {
	ext := filepath.Ext(filename)
	reader, ok := r.readers[normalizeExt(ext)]
	if !ok {
		return nil, &types.UnsupportedFormatError{Extension: ext}
	}
	return reader, nil
}

// Load extracts the text of data using the reader chosen by filename.
func (r *Registry) Load(filename string, data []byte) (string, error) {
	reader, err := r.Lookup(filename)
	if err != nil {
		return "", err
	}
	text, err := reader.Read(data)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", filename, err)
	}
	return text, nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

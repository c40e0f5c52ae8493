// Package slides extracts the visible text of each slide in a deck.
package slides

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Slide holds the non-empty text strings of one slide in reading order.
type Slide struct {
	Number int
	Texts  []string
}

type Format string

const (
	FormatPPTX Format = "pptx"
	FormatPDF  Format = "pdf"
)

// FormatOf maps a filename to its deck format by extension, ignoring case.
// ok is false for anything that is not a supported presentation.
func FormatOf(filename string) (f Format, ok bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pptx":
		return FormatPPTX, true
	case ".pdf":
		return FormatPDF, true
	}
	return "", false
}

// Extract reads a deck of the given format. Slides without text are omitted;
// numbering follows deck order starting at 1 and skips omitted slides.
func Extract(r io.ReaderAt, size int64, format Format) ([]Slide, error) {
	switch format {
	case FormatPPTX:
		return extractPPTX(r, size)
	case FormatPDF:
		return extractPDF(r, size)
	default:
		return nil, fmt.Errorf("unsupported deck format %q", format)
	}
}

// ExtractBytes is Extract over an in-memory deck.
func ExtractBytes(data []byte, format Format) ([]Slide, error) {
	return Extract(bytes.NewReader(data), int64(len(data)), format)
}

// ExtractFile opens path and extracts it using the format implied by its extension.
func ExtractFile(path string) ([]Slide, error) {
	format, ok := FormatOf(path)
	if !ok {
		return nil, fmt.Errorf("unsupported file extension %q", filepath.Ext(path))
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening deck: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat deck: %w", err)
	}
	return Extract(f, info.Size(), format)
}

func cleanTexts(raw []string) []string {
	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

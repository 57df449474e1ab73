// Package document extracts plain text from uploaded PDF and DOCX files so
// they can be chunked like any other document execution.
package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/blueberrycongee/agentgate/internal/metrics"
)

// Format is the kind of an uploaded document.
type Format string

const (
	FormatPDF  Format = "PDF"
	FormatDOCX Format = "DOCX"
)

// DOCX uploads may carry either content type.
const (
	DOCXContentType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	PDFContentType  = "application/pdf"
)

// maxNameLen bounds the file name echoed into prompts.
const maxNameLen = 50

var (
	// ErrUnsupportedFormat is returned for files that are neither PDF nor DOCX.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrNoText is returned when a valid document holds no extractable text.
	ErrNoText = errors.New("no text content could be extracted")
	// ErrMalformed wraps parser failures.
	ErrMalformed = errors.New("malformed document")
)

// Document is the text extracted from one upload.
type Document struct {
	Name   string
	Format Format
	Text   string
	// Parts is the number of pages (PDF) or paragraphs and tables (DOCX)
	// that contributed text.
	Parts int
}

// FormatOf infers the format from a file name's extension.
func FormatOf(filename string) (Format, bool) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return FormatPDF, true
	case ".docx":
		return FormatDOCX, true
	default:
		return "", false
	}
}

// ContentTypeAllowed reports whether an upload's declared content type fits
// its format. Browsers often send application/octet-stream, which is always
// accepted, as is an empty type.
func ContentTypeAllowed(f Format, contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "", "application/octet-stream":
		return true
	case PDFContentType:
		return f == FormatPDF
	case DOCXContentType:
		return f == FormatDOCX
	default:
		return false
	}
}

// SafeName strips a file name down to letters, digits and "._-" so it can be
// quoted in a prompt.
func SafeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, `\`, "/"))
	var b strings.Builder
	for _, r := range name {
		if b.Len() >= maxNameLen {
			break
		}
		if r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._-", r)) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Extractor turns uploads into text.
type Extractor struct {
	logger       *slog.Logger
	maxTextBytes int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxTextBytes caps the decompressed XML read from a DOCX archive.
func WithMaxTextBytes(n int64) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.maxTextBytes = n
		}
	}
}

// NewExtractor creates an extractor.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		logger:       slog.Default(),
		maxTextBytes: 64 << 20,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract reads the document in r. The format is taken from name's
// extension.
func (e *Extractor) Extract(ctx context.Context, name string, r io.ReaderAt, size int64) (doc *Document, err error) {
	format, ok := FormatOf(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, name)
	}

	result := "success"
	defer func() {
		if rec := recover(); rec != nil {
			doc, err = nil, fmt.Errorf("%w: %s parser panicked: %v", ErrMalformed, format, rec)
		}
		switch {
		case errors.Is(err, ErrNoText):
			result = "empty"
		case err != nil:
			result = "error"
		}
		metrics.DocumentsExtracted.WithLabelValues(string(format), result).Inc()
	}()

	var (
		text  string
		parts int
	)
	switch format {
	case FormatPDF:
		text, parts, err = e.extractPDF(ctx, r, size)
	case FormatDOCX:
		text, parts, err = e.extractDOCX(ctx, r, size)
	}
	if err != nil {
		e.logger.Warn("document extraction failed", "format", format, "name", SafeName(name), "error", err)
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w from the %s file", ErrNoText, format)
	}

	e.logger.Info("document extracted", "format", format, "name", SafeName(name), "parts", parts, "chars", len(text))
	return &Document{Name: name, Format: format, Text: text, Parts: parts}, nil
}

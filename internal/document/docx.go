package document

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

const docxBodyPart = "word/document.xml"

// docxDocument maps the body of word/document.xml. Element names match
// regardless of the w: namespace.
type docxDocument struct {
	Paragraphs []docxParagraph `xml:"body>p"`
	Tables     []docxTable     `xml:"body>tbl"`
}

type docxTable struct {
	Rows []struct {
		Cells []struct {
			Paragraphs []docxParagraph `xml:"p"`
		} `xml:"tc"`
	} `xml:"tr"`
}

// docxParagraph is the visible text of a w:p element: w:t runs in document
// order, w:tab as a tab and w:br or w:cr as a newline. Runs nested in
// hyperlinks and smart tags are included.
type docxParagraph string

func (p *docxParagraph) UnmarshalXML(d *xml.Decoder, _ xml.StartElement) error {
	var (
		b      strings.Builder
		inText bool
		depth  int
		skip   int // depth of a property element being skipped
	)
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if skip > 0 {
				continue
			}
			switch t.Name.Local {
			case "pPr", "rPr":
				// Tab stops are declared as w:tab inside properties.
				skip = depth
			case "t":
				inText = true
			case "tab":
				b.WriteByte('\t')
			case "br", "cr":
				b.WriteByte('\n')
			}
		case xml.EndElement:
			if depth == 0 {
				*p = docxParagraph(b.String())
				return nil
			}
			if depth == skip {
				skip = 0
			}
			depth--
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
}

// extractDOCX returns the non-empty body paragraphs one per line, followed
// by each table as "--- Table N ---" and its rows with cells joined by
// " | ".
func (e *Extractor) extractDOCX(ctx context.Context, r io.ReaderAt, size int64) (string, int, error) {
	archive, err := zip.NewReader(r, size)
	if err != nil {
		return "", 0, fmt.Errorf("%w: open docx: %v", ErrMalformed, err)
	}

	var body *zip.File
	for _, f := range archive.File {
		if f.Name == docxBodyPart {
			body = f
			break
		}
	}
	if body == nil {
		return "", 0, fmt.Errorf("%w: docx has no %s", ErrMalformed, docxBodyPart)
	}

	rc, err := body.Open()
	if err != nil {
		return "", 0, fmt.Errorf("%w: open %s: %v", ErrMalformed, docxBodyPart, err)
	}
	defer func() { _ = rc.Close() }()

	limited := &io.LimitedReader{R: rc, N: e.maxTextBytes + 1}
	var doc docxDocument
	if err := xml.NewDecoder(limited).Decode(&doc); err != nil {
		if limited.N <= 0 {
			return "", 0, fmt.Errorf("%w: %s exceeds %d bytes", ErrMalformed, docxBodyPart, e.maxTextBytes)
		}
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return "", 0, fmt.Errorf("%w: parse %s: %v", ErrMalformed, docxBodyPart, err)
	}
	if err := ctx.Err(); err != nil {
		return "", 0, err
	}

	var (
		lines []string
		parts int
	)
	for _, p := range doc.Paragraphs {
		if text := strings.TrimSpace(string(p)); text != "" {
			lines = append(lines, text)
			parts++
		}
	}

	for i, table := range doc.Tables {
		var rows []string
		for _, row := range table.Rows {
			var cells []string
			for _, cell := range row.Cells {
				texts := make([]string, len(cell.Paragraphs))
				for j, p := range cell.Paragraphs {
					texts[j] = string(p)
				}
				if text := strings.TrimSpace(strings.Join(texts, "\n")); text != "" {
					cells = append(cells, text)
				}
			}
			if len(cells) > 0 {
				rows = append(rows, strings.Join(cells, " | "))
			}
		}
		if len(rows) == 0 {
			continue
		}
		lines = append(lines, fmt.Sprintf("--- Table %d ---", i+1))
		lines = append(lines, rows...)
		lines = append(lines, "")
		parts++
	}

	return strings.Join(lines, "\n"), parts, nil
}

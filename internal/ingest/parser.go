// Package ingest extracts plain text from files handed to the detector.
package ingest

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

// MaxInputBytes caps how much of a single input is read.
const MaxInputBytes = 20 << 20

var (
	// ErrUnsupported is returned for file types ingest cannot read.
	ErrUnsupported = errors.New("unsupported file type")
	// ErrNoText means the document parsed but carried no extractable text.
	ErrNoText = errors.New("no extractable text")
	// ErrTooLarge means the input exceeded MaxInputBytes.
	ErrTooLarge = errors.New("input too large")
)

// Document is the text pulled out of one input.
type Document struct {
	Title  string `json:"title"`
	Source string `json:"source"`
	Format string `json:"format"`
	Text   string `json:"text"`
}

// Formats lists the extensions ParseFile accepts.
func Formats() []string {
	return []string{".txt", ".text", ".md", ".markdown", ".pdf", ".docx"}
}

// ParseFile reads path and extracts its text based on the file extension.
func ParseFile(path string) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	defer func() { _ = f.Close() }()

	doc, err := Parse(filepath.Base(path), f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	doc.Source = path
	return doc, nil
}

// Parse extracts text from r, using name's extension to pick the format.
// A name without an extension is read as plain text.
func Parse(name string, r io.Reader) (*Document, error) {
	raw, err := io.ReadAll(io.LimitReader(r, MaxInputBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read input: %w", err)
	}
	if len(raw) > MaxInputBytes {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, MaxInputBytes)
	}

	ext := strings.ToLower(filepath.Ext(name))
	var text, format string
	switch ext {
	case "", ".txt", ".text":
		text, format = string(raw), "text"
	case ".md", ".markdown":
		text, format = stripMarkdown(string(raw)), "markdown"
	case ".docx":
		format = "docx"
		text, err = parseDOCX(raw)
	case ".pdf":
		format = "pdf"
		text, err = parsePDF(raw)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, ext)
	}
	if err != nil {
		return nil, err
	}

	text = normalizeWhitespace(text)
	if text == "" {
		return nil, ErrNoText
	}
	return &Document{
		Title:  strings.TrimSuffix(filepath.Base(name), filepath.Ext(name)),
		Source: name,
		Format: format,
		Text:   text,
	}, nil
}

func parseDOCX(raw []byte) (string, error) {
	zr, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open docx zip: %w", err)
	}

	var xmlData []byte
	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, openErr := f.Open()
		if openErr != nil {
			return "", fmt.Errorf("open document.xml: %w", openErr)
		}
		xmlData, err = io.ReadAll(io.LimitReader(rc, MaxInputBytes))
		_ = rc.Close()
		if err != nil {
			return "", fmt.Errorf("read document.xml: %w", err)
		}
		break
	}
	if len(xmlData) == 0 {
		return "", errors.New("word/document.xml not found")
	}

	decoder := xml.NewDecoder(bytes.NewReader(xmlData))
	var b strings.Builder
	inText := false
	for {
		tok, tokenErr := decoder.Token()
		if tokenErr == io.EOF {
			break
		}
		if tokenErr != nil {
			return "", fmt.Errorf("decode document.xml: %w", tokenErr)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "p":
				if b.Len() > 0 {
					b.WriteString("\n")
				}
			case "tab":
				b.WriteString(" ")
			}
		case xml.EndElement:
			if t.Name.Local == "t" {
				inText = false
			}
		case xml.CharData:
			if inText {
				b.Write(t)
			}
		}
	}
	return b.String(), nil
}

func parsePDF(raw []byte) (text string, err error) {
	// The pdf reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("open pdf: malformed document: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return "", fmt.Errorf("open pdf: %w", err)
	}

	var b strings.Builder
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, pageErr := p.GetPlainText(nil)
		if pageErr != nil {
			continue
		}
		b.WriteString(content)
		b.WriteString("\n")
	}
	if strings.TrimSpace(b.String()) == "" {
		return "", fmt.Errorf("pdf: %w", ErrNoText)
	}
	return b.String(), nil
}

var (
	mdFence    = regexp.MustCompile("(?ms)^```.*?^```[ \t]*$")
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdLinePfx  = regexp.MustCompile(`(?m)^[ \t]*(#{1,6}[ \t]+|>[ \t]?|[-*+][ \t]+|\d+\.[ \t]+)`)
	mdEmphasis = regexp.MustCompile(`(\*\*|__|\*|_|~~|` + "`" + `)`)
)

// stripMarkdown drops code blocks and markup so only prose reaches the
// detector.
func stripMarkdown(s string) string {
	s = mdFence.ReplaceAllString(s, "")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdLinePfx.ReplaceAllString(s, "")
	return mdEmphasis.ReplaceAllString(s, "")
}

func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

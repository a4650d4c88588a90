// Package extract converts submitted document content into plain text.
package extract

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/raphaelgruber/kgtutor/internal/models"
	"github.com/raphaelgruber/kgtutor/internal/parser"
)

var (
	// ErrUnsupportedFormat means no extractor exists for the document type.
	ErrUnsupportedFormat = errors.New("unsupported document format")
	// ErrCorruptDocument means the payload could not be decoded or parsed.
	ErrCorruptDocument = errors.New("corrupt document")
)

// Extractor turns text or base64-encoded binary uploads into plain text.
type Extractor struct {
	pdftotextPath string
	timeout       time.Duration
}

// New creates an Extractor. PDF extraction shells out to poppler's pdftotext.
func New() *Extractor {
	return &Extractor{
		pdftotextPath: "pdftotext",
		timeout:       2 * time.Minute,
	}
}

// Extract returns the plain text of content. Binary content may carry a
// data-URL prefix ("data:application/pdf;base64,"), which is discarded.
func (e *Extractor) Extract(ctx context.Context, content string, kind models.ContentKind, filename string) (string, error) {
	ext := strings.ToLower(filepath.Ext(filename))

	switch kind {
	case models.ContentText:
		if isMarkdown(ext) {
			return parser.ParseMarkdown(content).Text(), nil
		}
		return content, nil
	case models.ContentBinary:
	default:
		return "", fmt.Errorf("%w: content kind %q", ErrUnsupportedFormat, kind)
	}

	data, err := DecodeBase64(content)
	if err != nil {
		return "", err
	}

	switch ext {
	case ".pdf":
		return e.pdfText(ctx, data)
	case ".docx":
		return docxText(data)
	case ".md", ".markdown":
		return parser.ParseMarkdown(decodeUTF8(data)).Text(), nil
	default:
		return decodeUTF8(data), nil
	}
}

// DecodeBase64 decodes a base64 payload, dropping any data-URL header.
func DecodeBase64(content string) ([]byte, error) {
	if _, payload, ok := strings.Cut(content, ","); ok {
		content = payload
	}
	content = strings.Join(strings.Fields(content), "")

	data, err := base64.StdEncoding.DecodeString(content)
	if err != nil {
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(content, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", ErrCorruptDocument, err)
	}
	return data, nil
}

func (e *Extractor) pdfText(ctx context.Context, data []byte) (string, error) {
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return "", fmt.Errorf("%w: missing PDF header", ErrCorruptDocument)
	}
	if _, err := exec.LookPath(e.pdftotextPath); err != nil {
		return "", fmt.Errorf("%w: pdf (pdftotext not found in PATH)", ErrUnsupportedFormat)
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, e.pdftotextPath, "-layout", "-enc", "UTF-8", "-", "-")
	cmd.Stdin = bytes.NewReader(data)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%w: pdftotext failed: %v; out=%s", ErrCorruptDocument, err, strings.TrimSpace(stderr.String()))
	}
	// pdftotext separates pages with form feeds.
	return strings.ReplaceAll(decodeUTF8(stdout.Bytes()), "\f", "\n"), nil
}

func isMarkdown(ext string) bool {
	return ext == ".md" || ext == ".markdown"
}

// decodeUTF8 drops invalid byte sequences.
func decodeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "")
}

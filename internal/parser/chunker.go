package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/raphaelgruber/kgtutor/internal/models"
)

// ChunkResult is one piece of a chunked document.
type ChunkResult struct {
	Content  string
	Position int
}

// ChunkText splits text into chunks of roughly cfg.TargetSize characters,
// preferring paragraph boundaries, then sentence boundaries (Latin and CJK
// terminators). Sizes are measured in runes so CJK text is not over-split.
func ChunkText(text string, cfg models.ChunkingConfig) []ChunkResult {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\r\n", "\n"))
	if text == "" {
		return nil
	}
	if runeLen(text) <= cfg.MaxSize {
		return []ChunkResult{{Content: text, Position: 0}}
	}

	var pieces []string
	var current strings.Builder

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			pieces = append(pieces, s)
		}
		current.Reset()
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		if runeLen(para) > cfg.MaxSize {
			flush()
			pieces = append(pieces, chunkBySentences(para, cfg)...)
			continue
		}

		if current.Len() > 0 && runeLen(current.String())+runeLen(para) > cfg.TargetSize {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	flush()

	pieces = mergeSmall(pieces, cfg.MinSize)
	pieces = applyOverlap(pieces, cfg.Overlap)

	chunks := make([]ChunkResult, len(pieces))
	for i, p := range pieces {
		chunks[i] = ChunkResult{Content: p, Position: i}
	}
	return chunks
}

func chunkBySentences(text string, cfg models.ChunkingConfig) []string {
	var chunks []string
	var current strings.Builder

	for _, sentence := range splitSentences(text) {
		sentence = strings.TrimSpace(sentence)
		if sentence == "" {
			continue
		}
		if current.Len() > 0 && runeLen(current.String())+runeLen(sentence) > cfg.TargetSize {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
		// A single oversized sentence is hard-split.
		for runeLen(sentence) > cfg.MaxSize {
			head, tail := splitAtRune(sentence, cfg.MaxSize)
			if current.Len() > 0 {
				chunks = append(chunks, strings.TrimSpace(current.String()))
				current.Reset()
			}
			chunks = append(chunks, head)
			sentence = tail
		}
		if current.Len() > 0 && !isCJK(firstRune(sentence)) {
			current.WriteByte(' ')
		}
		current.WriteString(sentence)
	}
	if current.Len() > 0 {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}
	return chunks
}

func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		switch r {
		case '。', '！', '？', '；':
			sentences = append(sentences, current.String())
			current.Reset()
		case '.', '!', '?':
			if i+1 < len(runes) && !unicode.IsSpace(runes[i+1]) {
				continue
			}
			// "Dr." style abbreviations
			if i > 1 && unicode.IsUpper(runes[i-1]) {
				continue
			}
			sentences = append(sentences, current.String())
			current.Reset()
		}
	}
	if current.Len() > 0 {
		sentences = append(sentences, current.String())
	}
	return sentences
}

func mergeSmall(pieces []string, minSize int) []string {
	if len(pieces) <= 1 || minSize <= 0 {
		return pieces
	}
	out := pieces[:1]
	for _, p := range pieces[1:] {
		if runeLen(p) < minSize {
			out[len(out)-1] += "\n\n" + p
			continue
		}
		out = append(out, p)
	}
	return out
}

// applyOverlap prefixes each chunk with the tail of its predecessor,
// cut at a word boundary when one exists.
func applyOverlap(pieces []string, overlap int) []string {
	if overlap <= 0 || len(pieces) <= 1 {
		return pieces
	}
	out := make([]string, len(pieces))
	out[0] = pieces[0]
	for i := 1; i < len(pieces); i++ {
		prev := []rune(pieces[i-1])
		if len(prev) <= overlap {
			out[i] = pieces[i]
			continue
		}
		tail := string(prev[len(prev)-overlap:])
		if idx := strings.IndexAny(tail, " \n"); idx >= 0 && idx < len(tail)-1 {
			tail = tail[idx+1:]
		}
		out[i] = strings.TrimSpace(tail) + " " + pieces[i]
	}
	return out
}

func splitAtRune(s string, n int) (string, string) {
	runes := []rune(s)
	return string(runes[:n]), string(runes[n:])
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }

func firstRune(s string) rune {
	r, _ := utf8.DecodeRuneInString(s)
	return r
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r)
}

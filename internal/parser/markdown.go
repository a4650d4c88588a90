// Package parser turns uploaded documents into text ready for indexing.
package parser

import (
	"bufio"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	h1Regex      = regexp.MustCompile(`(?m)^#\s+(.+)$`)
	headingRegex = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
)

// MarkdownDoc represents a parsed Markdown document.
type MarkdownDoc struct {
	Frontmatter map[string]any
	Title       string
	Content     string // body after frontmatter
	Sections    []Section
}

// Section represents a heading and its content.
type Section struct {
	Level   int
	Heading string
	Path    string // "# Intro > ## Setup"
	Content string
}

// ParseMarkdown splits off YAML frontmatter and collects heading sections.
// Malformed frontmatter is ignored rather than failing the document.
func ParseMarkdown(content string) *MarkdownDoc {
	content = strings.ReplaceAll(content, "\r\n", "\n")
	doc := &MarkdownDoc{Frontmatter: make(map[string]any)}

	body := content
	if strings.HasPrefix(content, "---\n") {
		if end := strings.Index(content[4:], "\n---"); end >= 0 {
			if err := yaml.Unmarshal([]byte(content[4:4+end]), &doc.Frontmatter); err != nil {
				doc.Frontmatter = make(map[string]any)
			}
			body = strings.TrimPrefix(content[4+end+4:], "\n")
		}
	}

	doc.Content = body
	doc.Title = extractTitle(doc.Frontmatter, body)
	doc.Sections = parseSections(body)
	return doc
}

// Text renders the document as plain text for indexing: the frontmatter
// title (when the body has no h1 of its own) followed by the body.
func (d *MarkdownDoc) Text() string {
	body := strings.TrimSpace(d.Content)
	if d.Title == "" || h1Regex.MatchString(body) {
		return body
	}
	if body == "" {
		return d.Title
	}
	return d.Title + "\n\n" + body
}

// FrontmatterString returns a string frontmatter value or "".
func (d *MarkdownDoc) FrontmatterString(key string) string {
	if v, ok := d.Frontmatter[key].(string); ok {
		return v
	}
	return ""
}

func extractTitle(fm map[string]any, content string) string {
	for _, key := range []string{"title", "name"} {
		if v, ok := fm[key].(string); ok && v != "" {
			return v
		}
	}
	if match := h1Regex.FindStringSubmatch(content); len(match) > 1 {
		return strings.TrimSpace(match[1])
	}
	return ""
}

func parseSections(content string) []Section {
	var (
		sections []Section
		current  *Section
		body     strings.Builder
		path     []string
		levels   []int
	)

	flush := func() {
		if current == nil {
			return
		}
		current.Content = strings.TrimSpace(body.String())
		sections = append(sections, *current)
		body.Reset()
	}

	scanner := bufio.NewScanner(strings.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		match := headingRegex.FindStringSubmatch(line)
		if match == nil {
			if current != nil {
				body.WriteString(line)
				body.WriteByte('\n')
			}
			continue
		}

		flush()
		level := len(match[1])
		heading := strings.TrimSpace(match[2])
		for len(levels) > 0 && levels[len(levels)-1] >= level {
			path = path[:len(path)-1]
			levels = levels[:len(levels)-1]
		}
		path = append(path, match[1]+" "+heading)
		levels = append(levels, level)
		current = &Section{Level: level, Heading: heading, Path: strings.Join(path, " > ")}
	}
	flush()

	return sections
}

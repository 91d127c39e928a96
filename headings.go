package main

import (
	"bufio"
	"regexp"
	"strings"
)

// Heading is one heading of a rendered document, in document order
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
	ID    string `json:"id"`
}

var (
	slugInvalidChars = regexp.MustCompile(`[^\w\s-]`)
	slugWhitespace   = regexp.MustCompile(`\s+`)

	atxHeadingLine   = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	atxClosingHashes = regexp.MustCompile(`\s+#+$`)
	codeFenceLine    = regexp.MustCompile("^ {0,3}(`{3,}|~{3,})")

	inlineCodeSpan  = regexp.MustCompile("(`+)(.*?)(`+)")
	inlineLink      = regexp.MustCompile(`!?\[([^\]]*)\]\([^)]*\)`)
	emphasisMarkers = regexp.MustCompile(`\*+|~~`)
	underscoreEmph  = regexp.MustCompile(`\b_+|_+\b`)
)

// Slug turns heading text into a fragment id. Equal texts give equal ids;
// collisions are not disambiguated.
func Slug(text string) string {
	s := strings.ToLower(text)
	s = slugInvalidChars.ReplaceAllString(s, "")
	return slugWhitespace.ReplaceAllString(s, "-")
}

// plainHeadingText drops inline Markdown from a heading line: link and
// image targets, emphasis and strikethrough markers, and code span
// backticks. Code span contents are kept verbatim; underscores inside words
// such as API_v2 survive.
func plainHeadingText(raw string) string {
	var b strings.Builder
	last := 0
	for _, m := range inlineCodeSpan.FindAllStringSubmatchIndex(raw, -1) {
		// unbalanced runs are not code spans
		if m[3]-m[2] != m[7]-m[6] {
			continue
		}
		b.WriteString(stripInlineMarkup(raw[last:m[0]]))
		b.WriteString(raw[m[4]:m[5]])
		last = m[1]
	}
	b.WriteString(stripInlineMarkup(raw[last:]))
	return strings.Join(strings.Fields(b.String()), " ")
}

func stripInlineMarkup(s string) string {
	s = inlineLink.ReplaceAllString(s, "$1")
	s = emphasisMarkers.ReplaceAllString(s, "")
	return underscoreEmph.ReplaceAllString(s, "")
}

// ExtractHeadings scans Markdown source line by line for ATX headings
// without rendering it. Ids match the ones Renderer.Render assigns.
func ExtractHeadings(src string) []Heading {
	headings := []Heading{}
	var fence string

	scanner := bufio.NewScanner(strings.NewReader(src))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if m := codeFenceLine.FindStringSubmatch(line); m != nil {
			switch {
			case fence == "":
				fence = m[1]
			case m[1][0] == fence[0] && len(m[1]) >= len(fence):
				fence = ""
			}
			continue
		}
		if fence != "" {
			continue
		}

		m := atxHeadingLine.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		text := strings.TrimSpace(m[2])
		text = plainHeadingText(atxClosingHashes.ReplaceAllString(text, ""))
		if text == "" {
			continue
		}
		headings = append(headings, Heading{
			Level: len(m[1]),
			Text:  text,
			ID:    Slug(text),
		})
	}
	return headings
}

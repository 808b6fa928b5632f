package relevance

import (
	"html"
	"regexp"
	"strings"
)

// htmlTagRe matches HTML tags.
var htmlTagRe = regexp.MustCompile(`<[^>]+>`)

// urlRe matches http(s) URLs up to the next whitespace.
var urlRe = regexp.MustCompile(`https?://\S+`)

// whitespaceRe matches runs of whitespace.
var whitespaceRe = regexp.MustCompile(`\s+`)

// Clean strips HTML tags, unescapes entities, removes URLs and collapses
// whitespace. Case is preserved.
func Clean(text string) string {
	text = htmlTagRe.ReplaceAllString(text, " ")
	text = html.UnescapeString(text)
	text = urlRe.ReplaceAllString(text, "")
	text = whitespaceRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

// normalize is Clean followed by lower-casing; all matching runs on it.
func normalize(text string) string {
	return strings.ToLower(Clean(text))
}

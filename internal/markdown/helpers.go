package markdown

import (
	"html"
	"strings"

	"mvdan.cc/xurls/v2"
)

// Taken from https://core.telegram.org/bots/api#markdownv2-style.
const mdV2SpecialChars = `._[](){}#|!+-=*~>` + "`\\"

//nolint:gochecknoglobals // Lookup table meant to be immutable.
var mdV2Lookup = func() [256]bool {
	var m [256]bool
	for i := range len(mdV2SpecialChars) {
		m[mdV2SpecialChars[i]] = true
	}
	return m
}()

//nolint:gochecknoglobals // Compiled once, read-only.
var strictURLs = xurls.Strict()

func EscapeV2(input string) string {
	charsToEscape := 0

	for i := range len(input) {
		if mdV2Lookup[input[i]] {
			charsToEscape++
		}
	}

	if charsToEscape == 0 {
		return input
	}

	var b strings.Builder
	b.Grow(len(input) + charsToEscape)

	for i := range len(input) {
		c := input[i]
		if mdV2Lookup[c] {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}

	return b.String()
}

// EscapeV2URL escapes the inside of a MarkdownV2 inline link target, where
// only ')' and '\' are special.
func EscapeV2URL(u string) string {
	r := strings.NewReplacer(`\`, `\\`, `)`, `\)`)
	return r.Replace(u)
}

// Link is a URL found in text, with byte offsets.
type Link struct {
	Start int
	End   int
	URL   string
}

func FindLinks(text string) []Link {
	var links []Link

	for _, idx := range strictURLs.FindAllStringIndex(text, -1) {
		links = append(links, Link{
			Start: idx[0],
			End:   idx[1],
			URL:   text[idx[0]:idx[1]],
		})
	}

	return links
}

// HTML escapes text for an HTML body, turns URLs into anchors and newlines
// into <br>.
func HTML(text string) string {
	var b strings.Builder
	last := 0

	for _, l := range FindLinks(text) {
		b.WriteString(html.EscapeString(text[last:l.Start]))

		escaped := html.EscapeString(l.URL)
		b.WriteString(`<a href="`)
		b.WriteString(escaped)
		b.WriteString(`">`)
		b.WriteString(escaped)
		b.WriteString(`</a>`)

		last = l.End
	}
	b.WriteString(html.EscapeString(text[last:]))

	return strings.ReplaceAll(b.String(), "\n", "<br>")
}

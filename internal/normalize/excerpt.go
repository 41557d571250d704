package normalize

import (
	"strings"

	"golang.org/x/net/html"
)

// Excerpt returns the body text offered to a classifier: the text body, or
// the html body stripped of markup when there is no usable text body,
// truncated to max runes. A max of zero or less disables truncation.
func (m *Message) Excerpt(max int) string {
	var body string
	switch {
	case m.TextBody != nil && strings.TrimSpace(*m.TextBody) != "":
		body = *m.TextBody
	case m.HTMLBody != nil:
		body = StripHTML(*m.HTMLBody)
	}
	return truncate(strings.TrimSpace(body), max)
}

// StripHTML returns the visible text of an html document with whitespace
// collapsed. Script and style contents are dropped.
func StripHTML(doc string) string {
	z := html.NewTokenizer(strings.NewReader(doc))

	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			if isHidden(z) {
				skip++
			}
		case html.EndTagToken:
			if isHidden(z) && skip > 0 {
				skip--
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func isHidden(z *html.Tokenizer) bool {
	name, _ := z.TagName()
	switch string(name) {
	case "script", "style", "head", "title":
		return true
	}
	return false
}

func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}

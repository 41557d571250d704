package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMessage_Excerpt(t *testing.T) {
	text := "  plain text  "
	html := "<html><head><style>p{}</style></head><body><p>Hello&amp;bye</p><script>x()</script></body></html>"
	blank := " \r\n"

	assert.Equal(t, "plain text", (&Message{TextBody: &text, HTMLBody: &html}).Excerpt(0))
	assert.Equal(t, "Hello&bye", (&Message{HTMLBody: &html}).Excerpt(0))
	assert.Equal(t, "Hello&bye", (&Message{TextBody: &blank, HTMLBody: &html}).Excerpt(0))
	assert.Equal(t, "", (&Message{}).Excerpt(10))
	assert.Equal(t, "plain", (&Message{TextBody: &text}).Excerpt(5))
}

func TestStripHTML(t *testing.T) {
	assert.Equal(t, "a b c", StripHTML("<div>a</div>\n<div> b <span>c</span></div>"))
}

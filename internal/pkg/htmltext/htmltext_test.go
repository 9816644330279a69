package htmltext

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestToText(t *testing.T) {
	in := `<div>Hello<br>World</div><table><tr><td>Date</td><td>Oct 3</td></tr></table><a href="https://forms.example.com/rsvp">RSVP here</a><script>x()</script>`
	got := ToText(in)
	assert.Contains(t, got, "Hello\nWorld")
	assert.Contains(t, got, "Date Oct 3")
	assert.Contains(t, got, "RSVP here (https://forms.example.com/rsvp)")
	assert.NotContains(t, got, "x()")
}

func TestToText_Paragraphs(t *testing.T) {
	got := ToText(`<html><head><style>p{}</style></head><body><p>Field trip on <b>Oct 12</b></p><p>Bring lunch</p></body></html>`)
	assert.Equal(t, "Field trip on Oct 12\nBring lunch", got)
}

package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

// PlainText strips all markup from free-form input such as shipping addresses and override
// reasons. It is safe for concurrent use.
type PlainText struct {
	policy *bluemonday.Policy
}

func NewPlainText() *PlainText {
	return &PlainText{policy: bluemonday.StrictPolicy()}
}

// Sanitize removes tags, unescapes the entities bluemonday leaves behind, drops control
// characters and collapses runs of whitespace.
func (p *PlainText) Sanitize(value string) string {
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(p.policy.Sanitize(value))
	cleaned = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, cleaned)
	return strings.Join(strings.Fields(cleaned), " ")
}

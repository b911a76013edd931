package query

import (
	"strconv"
	"strings"
)

// Placeholder is the positional token the planner is told to use.
const Placeholder = '?'

// Translate rewrites every `?` in template into the endpoint's positional
// marker, numbering them $1..$N from left to right. There is no escaping: a
// `?` inside a string literal is rewritten as well.
func Translate(template string) string {
	if strings.IndexByte(template, Placeholder) < 0 {
		return template
	}
	var b strings.Builder
	b.Grow(len(template) + 8)
	n := 0
	for i := 0; i < len(template); i++ {
		c := template[i]
		if c != Placeholder {
			b.WriteByte(c)
			continue
		}
		n++
		b.WriteByte('$')
		b.WriteString(strconv.Itoa(n))
	}
	return b.String()
}

// CountPlaceholders returns how many parameters template expects.
func CountPlaceholders(template string) int {
	return strings.Count(template, string(Placeholder))
}

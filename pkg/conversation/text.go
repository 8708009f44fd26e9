package conversation

import "strings"

// TextSeparator joins the bodies of consecutive text parts.
const TextSeparator = "\n"

// TextOf concatenates the bodies of all text parts in order. It returns ""
// for nil input or when there is no text part.
func TextOf(parts []Part) string {
	var texts []string
	for _, p := range parts {
		if p.Type != PartTypeText || p.Text == nil {
			continue
		}
		texts = append(texts, *p.Text)
	}
	return strings.Join(texts, TextSeparator)
}

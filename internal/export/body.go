package export

import (
	"html"
	"strings"
)

// BodyToHTML converts the agreement's plain body text into paragraph HTML.
// Blank lines separate paragraphs; single newlines become <br>.
func BodyToHTML(body string) string {
	body = strings.ReplaceAll(body, "\r\n", "\n")
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return ""
	}

	var b strings.Builder
	for _, para := range strings.Split(trimmed, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		lines := strings.Split(para, "\n")
		for i, line := range lines {
			lines[i] = html.EscapeString(strings.TrimSpace(line))
		}
		b.WriteString("<p>")
		b.WriteString(strings.Join(lines, "<br>"))
		b.WriteString("</p>")
	}
	return b.String()
}

package feed

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Sanitize turns post HTML into plain text. Line breaks and blockquotes end
// up on their own lines so quoted reposts stay readable.
func Sanitize(raw string) string {
	if !strings.Contains(raw, "<") {
		return collapseLines(html.UnescapeString(raw))
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return collapseLines(html.UnescapeString(raw))
	}
	doc.Find("script, style").Remove()
	doc.Find("br").ReplaceWithHtml("\n")
	doc.Find("blockquote, p, div").Each(func(_ int, s *goquery.Selection) {
		s.BeforeHtml("\n")
		s.AfterHtml("\n")
	})
	return collapseLines(doc.Text())
}

func collapseLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			kept = append(kept, line)
		}
	}
	return strings.Join(kept, "\n")
}

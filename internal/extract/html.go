package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLText strips markup from an HTML page, keeping the visible text.
// Script and style contents are dropped. Whitespace is collapsed so the
// result chunks cleanly.
func HTMLText(src string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(src))

	var sb strings.Builder
	skipDepth := 0
	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			if skippedTag(string(name)) {
				skipDepth++
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			if skippedTag(string(name)) && skipDepth > 0 {
				skipDepth--
			}
		case html.TextToken:
			if skipDepth == 0 {
				sb.Write(tokenizer.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func skippedTag(name string) bool {
	switch name {
	case "script", "style", "noscript", "head":
		return true
	}
	return false
}

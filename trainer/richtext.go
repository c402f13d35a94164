package trainer

import (
	"regexp"
	"strings"
)

var richTextTag = regexp.MustCompile(`</?(?:color|b|i|u|s|size|material|sprite|mark|alpha|font)(?:=[^>]*)?>`)

// StripRichText removes Unity rich text tags such as <color=#FF8800> from a label
func StripRichText(s string) string {
	return strings.TrimSpace(richTextTag.ReplaceAllString(s, ""))
}

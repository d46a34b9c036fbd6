package pipeline

import (
	"regexp"
	"strings"
)

var instagramLinkRegex = regexp.MustCompile(`(?i)https?://(?:www\.)?instagram\.com/(?:reels?|p|tv)/[A-Za-z0-9_-]+/?(?:\?[^\s]*)?`)

// ExtractLink splits shared text into a URL and a caption.
//
// When the text contains an Instagram reel/post link, the first one becomes
// the URL and the remaining text the caption (or the link itself if nothing
// else is left). Otherwise the trimmed text is both URL and caption.
func ExtractLink(text string) (url, caption string) {
	text = strings.TrimSpace(text)

	loc := instagramLinkRegex.FindStringIndex(text)
	if loc == nil {
		return text, text
	}

	url = text[loc[0]:loc[1]]
	before := strings.TrimSpace(text[:loc[0]])
	after := strings.TrimSpace(text[loc[1]:])
	switch {
	case before != "" && after != "":
		caption = before + " " + after
	default:
		caption = before + after
	}
	if caption == "" {
		caption = url
	}
	return url, caption
}

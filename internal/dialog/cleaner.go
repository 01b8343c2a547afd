// Package dialog turns raw LLM and ASR text into speakable, promptable form:
// prompt composition, markdown strip-down for TTS, sentence-level response
// shaping, and intent / confirmation classification of user utterances.
package dialog

import (
	"regexp"
	"strings"
)

var (
	boldRE       = regexp.MustCompile(`\*\*(.+?)\*\*`)
	underBoldRE  = regexp.MustCompile(`__(.+?)__`)
	italicRE     = regexp.MustCompile(`\*(.+?)\*`)
	underlineRE  = regexp.MustCompile(`_(.+?)_`)
	strikeRE     = regexp.MustCompile(`~~(.+?)~~`)
	codeBlockRE  = regexp.MustCompile("```[\\s\\S]*?```")
	inlineCodeRE = regexp.MustCompile("`(.+?)`")
	linkRE       = regexp.MustCompile(`\[(.+?)\]\(.+?\)`)
	headerRE     = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	bulletRE     = regexp.MustCompile(`(?m)^[\-\*]\s+`)
	numberedRE   = regexp.MustCompile(`(?m)^\d+\.\s+`)
	whitespaceRE = regexp.MustCompile(`\s+`)
)

// CleanMarkdown strips markdown formatting so the TTS engine does not read
// symbols aloud. Code blocks are removed entirely; all other constructs keep
// their inner text. Runs of whitespace collapse to single spaces.
func CleanMarkdown(text string) string {
	text = boldRE.ReplaceAllString(text, "$1")
	text = underBoldRE.ReplaceAllString(text, "$1")
	text = italicRE.ReplaceAllString(text, "$1")
	text = underlineRE.ReplaceAllString(text, "$1")
	text = strikeRE.ReplaceAllString(text, "$1")
	text = codeBlockRE.ReplaceAllString(text, "")
	text = inlineCodeRE.ReplaceAllString(text, "$1")
	text = linkRE.ReplaceAllString(text, "$1")
	text = headerRE.ReplaceAllString(text, "")
	text = bulletRE.ReplaceAllString(text, "")
	text = numberedRE.ReplaceAllString(text, "")
	text = whitespaceRE.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}

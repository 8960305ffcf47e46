// Package postprocess strips common LLM artifacts from translated
// fragments before they are persisted: leaked reasoning blocks, prompt
// echoes ("Here is the translation:") and whole-text quote wrapping.
package postprocess

import (
	"regexp"
	"strings"
)

// Clean applies all cleaners in order and returns the trimmed result.
func Clean(text string) string {
	for _, clean := range cleaners {
		text = clean(text)
	}
	return strings.TrimSpace(text)
}

var cleaners = []func(string) string{
	stripReasoning,
	stripEcho,
	stripQuotes,
}

// Tag variants are listed out because RE2 has no backreferences. The
// second pattern drops an opened tag whose close is missing (model cut
// off mid-thought).
var (
	reasoningRe = regexp.MustCompile(
		`(?is)<think(?:ing)?>.*?</think(?:ing)?>|<reasoning>.*?</reasoning>|<reflection>.*?</reflection>`)
	openReasoningRe = regexp.MustCompile(
		`(?is)(?:<think(?:ing)?>|<reasoning>|<reflection>).*$`)
)

func stripReasoning(text string) string {
	text = reasoningRe.ReplaceAllString(text, "")
	return strings.TrimSpace(openReasoningRe.ReplaceAllString(text, ""))
}

// echoRe matches introductory phrases models sometimes prepend despite
// instructions. Anchored at the start and requiring a colon to avoid
// eating legitimate content.
var echoRe = regexp.MustCompile(
	`(?i)^(?:(?:certainly|sure|of course)[,.]? )?(?:here(?:'s| is)(?: the)? )?(?:the )?(?:refined |polished |translated )?(?:translation|translated text|text)\s*:`)

func stripEcho(text string) string {
	if loc := echoRe.FindStringIndex(text); loc != nil {
		return strings.TrimSpace(text[loc[1]:])
	}
	return text
}

var quotePairs = [][2]rune{
	{'"', '"'},
	{'\'', '\''},
	{'«', '»'},
	{'“', '”'},
	{'‘', '’'},
}

// stripQuotes removes one matching pair of outer quotes when the whole
// text is wrapped in them.
func stripQuotes(text string) string {
	runes := []rune(text)
	if len(runes) < 2 {
		return text
	}
	for _, p := range quotePairs {
		if runes[0] == p[0] && runes[len(runes)-1] == p[1] {
			return strings.TrimSpace(string(runes[1 : len(runes)-1]))
		}
	}
	return text
}

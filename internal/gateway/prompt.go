package gateway

import (
	"fmt"
	"strings"
)

// buildSystemPrompt composes the system prompt shared by the LLM-backed
// adapters. The wording instructs the model to return only the
// translation, which the postprocess package enforces afterwards.
func buildSystemPrompt(req Request) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are a professional translator. Translate the user's text into %s.\n\n", req.TargetLang)
	b.WriteString("Rules:\n")
	b.WriteString("1. Preserve the meaning, tone and style of the original.\n")
	b.WriteString("2. Preserve formatting, line breaks and text structure.\n")
	b.WriteString("3. Keep proper names, work titles and technical terms where appropriate.\n")
	b.WriteString("4. Respond with the translation only, no comments or explanations.\n")

	if req.Instructions != "" {
		fmt.Fprintf(&b, "\nAdditional instructions:\n%s\n", req.Instructions)
	}

	return b.String()
}

package assembly

import (
	"fmt"
	"strings"

	"github.com/aiox-platform/notigen/internal/retrieval"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are an expert notification copywriter. " +
	"Use the template examples, when present, as guidance for tone, structure and length, " +
	"and write one notification that fulfils the user request. " +
	"Do not invent names, numbers or links that the request does not provide."

// BuildPrompt renders the system instruction, the selected templates and the
// user request as one prompt.
func BuildPrompt(systemPrompt string, selected []retrieval.Result, query string) string {
	return EffectiveSystemPrompt(systemPrompt) + "\n\n" + BuildUserPrompt(selected, query)
}

// EffectiveSystemPrompt returns systemPrompt, or DefaultSystemPrompt when it is blank.
func EffectiveSystemPrompt(systemPrompt string) string {
	if strings.TrimSpace(systemPrompt) == "" {
		return DefaultSystemPrompt
	}
	return systemPrompt
}

// BuildUserPrompt renders the template examples section, omitted when there
// are none, followed by the user request.
func BuildUserPrompt(selected []retrieval.Result, query string) string {
	var b strings.Builder
	if len(selected) > 0 {
		b.WriteString("## Template Examples\n\n")
		for i, r := range selected {
			fmt.Fprintf(&b, "### Example %d (score: %.2f)\n", i+1, r.Score)
			writeField(&b, "Channel", r.Payload.Channel)
			writeField(&b, "Category", r.Payload.Category)
			writeField(&b, "Tone", r.Payload.Tone)
			writeField(&b, "Language", r.Payload.Language)
			writeField(&b, "Tags", strings.Join(r.Payload.Tags, ", "))
			b.WriteString("\n")
			b.WriteString(r.Payload.Content)
			b.WriteString("\n\n")
		}
	}

	b.WriteString("## User Request\n\n")
	b.WriteString(query)
	return b.String()
}

func writeField(b *strings.Builder, name, value string) {
	if value != "" {
		fmt.Fprintf(b, "%s: %s\n", name, value)
	}
}

package agent

import (
	"encoding/json"
	"fmt"
	"strings"
)

const outputContract = `Respond with JSON only, no prose and no markdown fences.
Requirement objects carry: title, content, category, type, confidence (0-1).`

// systemPrompt assembles the shared preamble, the kind-specific task text and
// the output contract into one system message.
func systemPrompt(task string, actx *Context) string {
	var b strings.Builder
	b.WriteString("You are a requirements engineering agent.\n")
	if actx != nil {
		if actx.Industry != "" {
			fmt.Fprintf(&b, "Industry: %s.\n", actx.Industry)
		}
		if actx.SystemType != "" {
			fmt.Fprintf(&b, "System type: %s.\n", actx.SystemType)
		}
		if actx.RegulationLevel != "" {
			fmt.Fprintf(&b, "Regulation level: %s.\n", actx.RegulationLevel)
		}
	}
	b.WriteString("\n")
	b.WriteString(task)
	b.WriteString("\n\n")
	b.WriteString(outputContract)
	return b.String()
}

// userPayload renders the agent input as the user message. Candidates and the
// free-form payload are serialized as JSON so the model sees exact structure.
func userPayload(input Input) string {
	var b strings.Builder
	if input.Goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n", input.Goal)
	}
	if len(input.Candidates) > 0 {
		raw, err := json.Marshal(input.Candidates)
		if err == nil {
			fmt.Fprintf(&b, "Requirements:\n%s\n", raw)
		}
	}
	if len(input.Payload) > 0 {
		raw, err := json.Marshal(input.Payload)
		if err == nil {
			fmt.Fprintf(&b, "Additional context:\n%s\n", raw)
		}
	}
	if b.Len() == 0 {
		return "No input provided."
	}
	return b.String()
}

package assistant

import (
	"fmt"
	"strings"

	"github.com/soyeahso/kassa/internal/llm"
)

// PromptConfig controls system prompt generation.
type PromptConfig struct {
	Name    string
	Context string // retrieved knowledge, may be empty
	Tools   []llm.ToolDefinition
}

// toolHints tell the model when to prefer a tool over answering directly.
var toolHints = map[string]string{
	"search_products":        "Use for specific price or availability questions.",
	"search_physical_stores": "Use to find store locations or chains.",
	"get_product_by_id":      "Use to fetch the full record of a product you already have an id for.",
	"get_product_by_ean":     "Use when the user gives a barcode (EAN).",
	"get_physical_store":     "Use to fetch opening hours and details for a known store id.",
	"compare_prices_by_url":  "Use when the user pastes a product link from an online grocery store.",
}

// BuildSystemPrompt constructs the system prompt for one turn. It is never
// stored in session history.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, a precise guide to Norwegian groceries.\n\n", cfg.Name)

	b.WriteString("CONTEXT FROM GUIDE:\n")
	b.WriteString(cfg.Context)
	b.WriteString("\n\n")

	if len(cfg.Tools) > 0 {
		b.WriteString("TOOLS:\n")
		for _, t := range cfg.Tools {
			hint, ok := toolHints[t.Name]
			if !ok {
				hint = t.Description
			}
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, hint)
		}
		b.WriteString("\n")
	}

	b.WriteString("INSTRUCTIONS:\n")
	b.WriteString("- If the question can be answered by the Context above, answer directly.\n")
	b.WriteString("- If you need real-time data, use the tool calling feature.\n")
	b.WriteString("- If a product query is ambiguous (e.g., \"Coca Cola\" could mean regular, sugar-free, different sizes), ask the user to clarify BEFORE using tools.\n")
	b.WriteString("- After receiving tool results, always present them to the user in a clear, friendly format.\n")
	b.WriteString("- If tool results show no price data or empty results, inform the user politely.\n")
	b.WriteString("- DO NOT output tool names in tags like <function> or within the text.\n")
	b.WriteString("- Be concise but helpful.\n")

	return b.String()
}

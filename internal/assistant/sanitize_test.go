package assistant

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeReply(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain text",
			input: "Pepsi Max costs 32.90 kr at Kiwi.",
			want:  "Pepsi Max costs 32.90 kr at Kiwi.",
		},
		{
			name:  "markdown preserved",
			input: "**Cheapest:** Tine Lettmelk\n\n- Kiwi: 24.50 kr\n  - 1 liter",
			want:  "**Cheapest:** Tine Lettmelk\n\n- Kiwi: 24.50 kr\n  - 1 liter",
		},
		{
			name:  "llama function tag",
			input: "Let me check.\n<function=search_products>{\"search\": \"melk\"}</function>\nDone.",
			want:  "Let me check.\n\nDone.",
		},
		{
			name:  "bare function tag",
			input: "Before <function>search_products</function> after",
			want:  "Before\n\nafter",
		},
		{
			name:  "tool_call code block",
			input: "Here.\n\n```tool_call\n{\"tool\": \"search_products\"}\n```\n\nDone.",
			want:  "Here.\n\nDone.",
		},
		{
			name:  "function_calls xml",
			input: "Checking.\n\n<function_calls>\n<invoke name=\"search_products\">\n<parameter name=\"search\">melk</parameter>\n</invoke>\n</function_calls>\n\nFinal.",
			want:  "Checking.\n\nFinal.",
		},
		{
			name:  "bracket markers",
			input: "Ok. [TOOL_CALL]search_products(melk)[/TOOL_CALL] Bye.",
			want:  "Ok.\n\nBye.",
		},
		{
			name:  "inline parameter tag",
			input: `Hello <parameter name="store">KIWI</parameter> world.`,
			want:  "Hello world.",
		},
		{
			name:  "orphan closing tag",
			input: "The price is 20 kr.</function>",
			want:  "The price is 20 kr.",
		},
		{
			name:  "only syntax",
			input: `<function=search_products>{"search":"melk"}</function>`,
			want:  "",
		},
		{
			name:  "aligned columns kept",
			input: "Here are the prices:\n\n```\nPepsi Max 1,5l    32.90 kr\nCoca-Cola 1,5l    34.50 kr\n```",
			want:  "Here are the prices:\n\n```\nPepsi Max 1,5l    32.90 kr\nCoca-Cola 1,5l    34.50 kr\n```",
		},
		{
			name:  "columns kept beside stripped tag",
			input: "Kiwi     24.50 kr\nMeny     27.90 kr <parameter name=\"store\">KIWI</parameter>",
			want:  "Kiwi     24.50 kr\nMeny     27.90 kr",
		},
		{
			name:  "gap closed where tag was cut",
			input: "Hello   <parameter name=\"x\">y</parameter>   world.",
			want:  "Hello world.",
		},
		{
			name:  "unrelated angle brackets kept",
			input: "Prices <30 kr are rare at <Meny>.",
			want:  "Prices <30 kr are rare at <Meny>.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizeReply(tt.input, nil))
		})
	}
}

package assistant

import (
	"regexp"
	"strings"

	"github.com/soyeahso/kassa/internal/logging"
)

// block compiles a block-level pattern that also consumes the horizontal
// whitespace around it.
func block(pattern string) *regexp.Regexp {
	return regexp.MustCompile(`[ \t]*(?s:` + pattern + `)[ \t]*`)
}

// toolCallBlockRe matches ```tool_call fenced blocks.
var toolCallBlockRe = block("```tool_call\\s*\n.*?\n\\s*```")

// functionTagRe matches <function=name>{...}</function> and
// <function>...</function>, the forms Llama models leak when they write a
// tool call as text instead of using the tool-calling channel.
var functionTagRe = block(`<function(?:=[^>]*)?>.*?</function>`)

// xmlBlockRe matches self-contained XML blocks that models emit for tool use.
var xmlBlockRe = block(`<function_calls>.*?</function_calls>` +
	`|<invoke\b[^>]*>.*?</invoke>` +
	`|<tool_call\b[^>]*>.*?</tool_call>` +
	`|<tool_use\b[^>]*>.*?</tool_use>`)

// bracketCallRe matches [TOOL_CALL]...[/TOOL_CALL] and [TOOL_CALLS] [...]
// markers some instruction-tuned models print.
var bracketCallRe = block(`\[TOOL_CALL\].*?\[/TOOL_CALL\]|\[TOOL_CALLS\]\s*\[.*?\]`)

// parameterTagRe matches parameter tags that can appear inline within text.
var parameterTagRe = regexp.MustCompile(`(?s)<parameter\b[^>]*>.*?</parameter>`)

// orphanTagRe matches leftover opening or closing tool tags.
var orphanTagRe = regexp.MustCompile(`</?(?:function(?:=[^>]*)?|function_calls|tool_call|tool_use|invoke)\b[^>]*>`)

// whitespaceLineRe matches lines containing only horizontal whitespace.
var whitespaceLineRe = regexp.MustCompile(`(?m)^[ \t]+$`)

// blankLineCollapseRe collapses 3+ consecutive newlines to a single blank line.
var blankLineCollapseRe = regexp.MustCompile(`\n{3,}`)

// removed marks where an inline fragment was cut out.
const removed = "\x00"

// removedSpanRe matches removal marks with the horizontal whitespace around
// them, so only the gaps they leave are collapsed.
var removedSpanRe = regexp.MustCompile(`[ \t]*(?:\x00[ \t]*)+`)

var blockPatterns = []*regexp.Regexp{toolCallBlockRe, functionTagRe, xmlBlockRe, bracketCallRe}

// SanitizeReply removes raw tool-call syntax that leaked into a final
// answer, leaving the surrounding text. A reply without such syntax is
// returned as written, trimmed. Stripped fragments are logged. log may be
// nil.
func SanitizeReply(text string, log *logging.Logger) string {
	if !hasToolSyntax(text) {
		return strings.TrimSpace(text)
	}

	cleaned := strings.ReplaceAll(text, removed, "")
	for _, re := range blockPatterns {
		if log != nil {
			for _, m := range re.FindAllString(cleaned, -1) {
				log.Info().Str("fragment", m).Msg("stripped tool-call syntax from reply")
			}
		}
		// Block-level removals keep a paragraph break between the
		// surrounding text.
		cleaned = re.ReplaceAllString(cleaned, "\n\n")
	}

	cleaned = parameterTagRe.ReplaceAllString(cleaned, removed)
	cleaned = orphanTagRe.ReplaceAllString(cleaned, removed)
	cleaned = removedSpanRe.ReplaceAllString(cleaned, " ")

	cleaned = whitespaceLineRe.ReplaceAllString(cleaned, "")
	cleaned = blankLineCollapseRe.ReplaceAllString(cleaned, "\n\n")

	lines := strings.Split(cleaned, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func hasToolSyntax(text string) bool {
	for _, re := range blockPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return parameterTagRe.MatchString(text) || orphanTagRe.MatchString(text)
}

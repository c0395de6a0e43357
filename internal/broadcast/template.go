package broadcast

import "regexp"

var placeholderRe = regexp.MustCompile(`\{([a-zA-Z0-9_]+)\}`)

// Render substitutes {placeholder} tokens against one recipient's
// variables. Missing or empty values render as "<unknown>" so a broken
// audience row is visible in the delivered text instead of silently
// producing a half-empty message.
func Render(template string, vars map[string]string) string {
	return placeholderRe.ReplaceAllStringFunc(template, func(tok string) string {
		val := vars[tok[1:len(tok)-1]]
		if val == "" {
			return "<unknown>"
		}
		return val
	})
}

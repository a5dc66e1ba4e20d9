package jira

import (
	"fmt"
	"sort"
	"strings"
)

// BuildJQL replaces {{name}} placeholders in template with params. Strings
// are quoted, string slices become a quoted list.
func BuildJQL(template string, params map[string]any) string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	result := template
	for _, name := range names {
		var value string
		switch v := params[name].(type) {
		case string:
			value = QuoteJQL(v)
		case []string:
			quoted := make([]string, len(v))
			for i, item := range v {
				quoted[i] = QuoteJQL(item)
			}
			value = fmt.Sprintf("(%s)", strings.Join(quoted, ", "))
		default:
			value = fmt.Sprintf("%v", v)
		}
		result = strings.ReplaceAll(result, "{{"+name+"}}", value)
	}
	return result
}

// QuoteJQL wraps value in double quotes, escaping backslashes and quotes
func QuoteJQL(value string) string {
	escaped := strings.ReplaceAll(value, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}

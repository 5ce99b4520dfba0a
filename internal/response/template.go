package response

import (
	"regexp"
	"strings"
)

var (
	ifBlockRe   = regexp.MustCompile(`(?s)\{\{#if\s+(\w+)\}\}(.*?)(?:\{\{else\}\}(.*?))?\{\{/if\}\}`)
	eachBlockRe = regexp.MustCompile(`(?s)\{\{#each\s+(\w+)\}\}(.*?)\{\{/each\}\}`)
	varRe       = regexp.MustCompile(`\{\{(\w+)\}\}`)
	leftoverRe  = regexp.MustCompile(`\{\{[^}]*\}\}`)
	spacesRe    = regexp.MustCompile(`\s{2,}`)
)

// RenderTemplate fills a template with the given variables. Supported
// syntax: {{name}}, {{#if name}}...{{else}}...{{/if}} and
// {{#each name}}...{{this}}...{{/each}} over list values. Unresolved
// placeholders are stripped in a cleanup pass; an all-placeholder
// template therefore renders to the empty string and the caller moves
// on to the next candidate.
func RenderTemplate(template string, vars map[string]interface{}) string {
	out := template

	out = ifBlockRe.ReplaceAllStringFunc(out, func(block string) string {
		m := ifBlockRe.FindStringSubmatch(block)
		if truthy(vars[m[1]]) {
			return m[2]
		}
		return m[3]
	})

	out = eachBlockRe.ReplaceAllStringFunc(out, func(block string) string {
		m := eachBlockRe.FindStringSubmatch(block)
		items, ok := vars[m[1]].([]string)
		if !ok {
			return ""
		}
		var b strings.Builder
		for _, item := range items {
			b.WriteString(strings.ReplaceAll(m[2], "{{this}}", item))
		}
		return b.String()
	})

	out = varRe.ReplaceAllStringFunc(out, func(ref string) string {
		name := varRe.FindStringSubmatch(ref)[1]
		v, ok := vars[name]
		if !ok {
			return ref
		}
		return stringify(v)
	})

	out = leftoverRe.ReplaceAllString(out, "")
	out = spacesRe.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

func truthy(v interface{}) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return val != ""
	case bool:
		return val
	case []string:
		return len(val) > 0
	case float64:
		return val != 0
	case int:
		return val != 0
	default:
		return true
	}
}

func stringify(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case []string:
		return strings.Join(val, ", ")
	default:
		return ""
	}
}

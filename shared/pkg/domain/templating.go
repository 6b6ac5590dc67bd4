package domain

import (
	"maps"
	"slices"
	"strings"
)

const (
	openDelim  = "{{"
	closeDelim = "}}"
)

// ExtractVariables returns the distinct placeholder names found in text, in order
// of first occurrence. A placeholder is "{{" up to the next "}}"; the name is
// trimmed and empty names are skipped. An unterminated "{{" ends the scan.
func ExtractVariables(text string) []string {
	var (
		names []string
		seen  = map[string]struct{}{}
	)
	for rest := text; ; {
		start := strings.Index(rest, openDelim)
		if start < 0 {
			break
		}
		rest = rest[start+len(openDelim):]
		end := strings.Index(rest, closeDelim)
		if end < 0 {
			break
		}
		name := strings.TrimSpace(rest[:end])
		rest = rest[end+len(closeDelim):]
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		names = append(names, name)
	}
	return names
}

// Render replaces every "{{name}}" with bindings[name], one binding after
// another in name order, so a value that contains a placeholder for a later
// name is substituted too. Placeholders without a binding are left untouched.
func Render(text string, bindings map[string]string) string {
	if len(bindings) == 0 || !strings.Contains(text, openDelim) {
		return text
	}
	for _, k := range slices.Sorted(maps.Keys(bindings)) {
		text = strings.ReplaceAll(text, openDelim+k+closeDelim, bindings[k])
	}
	return text
}

// MissingVariables returns the entries of required that have no key in bindings.
func MissingVariables(required []string, bindings map[string]string) []string {
	var missing []string
	for _, name := range required {
		if _, ok := bindings[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

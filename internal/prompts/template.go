package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
)

// variablePattern matches Go template variable references like {{.VarName}}
// or {{ .VarName }}, including nested fields like {{.Chapter.Title}}.
var variablePattern = regexp.MustCompile(`\{\{[^}]*\.([a-zA-Z_][a-zA-Z0-9_.]*)[^}]*\}\}`)

// ExtractVariables extracts template variable names from a Go template
// string. For example, "Chapter {{.Ordinal}}: {{.Body}}" returns
// ["Body", "Ordinal"]. Results are deduplicated and sorted.
func ExtractVariables(text string) []string {
	matches := variablePattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool)
	var vars []string

	for _, match := range matches {
		if len(match) > 1 {
			name := match[1]
			if !seen[name] {
				seen[name] = true
				vars = append(vars, name)
			}
		}
	}

	sort.Strings(vars)
	return vars
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

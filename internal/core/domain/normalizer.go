package domain

import (
	"regexp"
	"strings"
)

var (
	commaRe      = regexp.MustCompile(`,\s*`)
	openBraceRe  = regexp.MustCompile(`\s*\{\s*`)
	closeBraceRe = regexp.MustCompile(`\s*\}\s*`)
	semicolonRe  = regexp.MustCompile(`;\s*`)
)

const indentUnit = "  "

// Normalize reformats code into a consistent brace/indent layout so later pattern
// matching sees one statement per line. It works on raw text, not a parse tree:
// braces, semicolons and commas inside string literals or comments are rewritten too.
// Output is stable under repeated application for input with balanced braces.
func Normalize(code string) string {
	result := commaRe.ReplaceAllString(code, ", ")
	result = openBraceRe.ReplaceAllString(result, " {\n")
	result = closeBraceRe.ReplaceAllString(result, "\n}\n")
	result = semicolonRe.ReplaceAllString(result, ";\n")

	var lines []string
	for _, line := range strings.Split(result, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			lines = append(lines, line)
		}
	}

	depth := 0
	for i, line := range lines {
		if strings.Contains(line, "}") {
			depth = max(0, depth-1)
		}
		lines[i] = strings.Repeat(indentUnit, depth) + line
		if strings.Contains(line, "{") {
			depth++
		}
	}

	return strings.Join(lines, "\n")
}

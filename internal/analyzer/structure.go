package analyzer

import (
	"regexp"
	"strings"
)

// FileStructure is what analysis extracts from one python source file.
type FileStructure struct {
	Imports   []string `json:"imports"`
	Functions []string `json:"functions"`
	Classes   []string `json:"class_def"`
	Calls     []string `json:"calls"`
}

var (
	importRe     = regexp.MustCompile(`(?m)^\s*import\s+([\w.]+(?:\s*,\s*[\w.]+)*)`)
	fromImportRe = regexp.MustCompile(`(?m)^\s*from\s+([\w.]+|\.+[\w.]*)\s+import\b`)
	defRe        = regexp.MustCompile(`(?m)^\s*(?:async\s+)?def\s+(\w+)`)
	classRe      = regexp.MustCompile(`(?m)^\s*class\s+(\w+)`)
	callRe       = regexp.MustCompile(`(\w+)\s*\(`)
)

var pythonKeywords = map[string]bool{
	"if": true, "for": true, "while": true, "return": true, "def": true,
	"class": true, "with": true, "elif": true, "print": true, "not": true,
	"and": true, "or": true, "in": true, "is": true, "lambda": true,
	"assert": true, "raise": true, "yield": true, "await": true, "except": true,
}

// extractStructureRegex is the line-oriented extractor. It is the fallback
// when tree-sitter is unavailable and the reference for its tests.
func extractStructureRegex(source []byte) *FileStructure {
	text := string(source)
	st := &FileStructure{}

	for _, m := range importRe.FindAllStringSubmatch(text, -1) {
		for _, name := range strings.Split(m[1], ",") {
			st.Imports = appendUnique(st.Imports, strings.TrimSpace(name))
		}
	}
	for _, m := range fromImportRe.FindAllStringSubmatch(text, -1) {
		st.Imports = appendUnique(st.Imports, m[1])
	}
	for _, m := range defRe.FindAllStringSubmatch(text, -1) {
		st.Functions = appendUnique(st.Functions, m[1])
	}
	for _, m := range classRe.FindAllStringSubmatch(text, -1) {
		st.Classes = appendUnique(st.Classes, m[1])
	}

	// Definition lines would read as calls to the regex; drop them first.
	var callLines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "def ") || strings.HasPrefix(trimmed, "async def ") ||
			strings.HasPrefix(trimmed, "class ") {
			continue
		}
		callLines = append(callLines, line)
	}
	for _, m := range callRe.FindAllStringSubmatch(strings.Join(callLines, "\n"), -1) {
		name := m[1]
		if pythonKeywords[name] {
			continue
		}
		st.Calls = appendUnique(st.Calls, name)
	}

	return st
}

func appendUnique(list []string, item string) []string {
	if item == "" {
		return list
	}
	for _, existing := range list {
		if existing == item {
			return list
		}
	}
	return append(list, item)
}

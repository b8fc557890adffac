//go:build !cgo

package analyzer

import "context"

// extractStructure falls back to the regex extractor when CGO is not
// available. Functionality is preserved with lower fidelity on calls.
func extractStructure(_ context.Context, source []byte) *FileStructure {
	return extractStructureRegex(source)
}

// StructureExtractorAvailable reports whether the tree-sitter path is built in.
func StructureExtractorAvailable() bool {
	return false
}

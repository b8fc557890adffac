//go:build cgo

package analyzer

import (
	"context"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/python"
)

// extractStructure parses python source with tree-sitter. Parse failures
// fall back to the regex extractor so a single odd file never loses its
// imports entirely.
func extractStructure(ctx context.Context, source []byte) *FileStructure {
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(python.GetLanguage())

	tree, err := parser.ParseCtx(ctx, nil, source)
	if err != nil || tree == nil {
		return extractStructureRegex(source)
	}
	defer tree.Close()

	st := &FileStructure{}
	walk(tree.RootNode(), func(node *sitter.Node) {
		switch node.Type() {
		case "import_statement":
			for i := 0; i < int(node.ChildCount()); i++ {
				child := node.Child(i)
				if child == nil {
					continue
				}
				switch child.Type() {
				case "dotted_name":
					st.Imports = appendUnique(st.Imports, child.Content(source))
				case "aliased_import":
					if name := child.ChildByFieldName("name"); name != nil {
						st.Imports = appendUnique(st.Imports, name.Content(source))
					}
				}
			}
		case "import_from_statement":
			if module := node.ChildByFieldName("module_name"); module != nil {
				st.Imports = appendUnique(st.Imports, module.Content(source))
			}
		case "function_definition":
			if name := node.ChildByFieldName("name"); name != nil {
				st.Functions = appendUnique(st.Functions, name.Content(source))
			}
		case "class_definition":
			if name := node.ChildByFieldName("name"); name != nil {
				st.Classes = appendUnique(st.Classes, name.Content(source))
			}
		case "call":
			if fn := node.ChildByFieldName("function"); fn != nil {
				st.Calls = appendUnique(st.Calls, callName(fn, source))
			}
		}
	})
	return st
}

// callName reduces a call target to its final identifier: obj.method -> method.
func callName(fn *sitter.Node, source []byte) string {
	if fn.Type() == "attribute" {
		if attr := fn.ChildByFieldName("attribute"); attr != nil {
			return attr.Content(source)
		}
	}
	return fn.Content(source)
}

func walk(node *sitter.Node, visit func(*sitter.Node)) {
	if node == nil {
		return
	}
	visit(node)
	for i := 0; i < int(node.ChildCount()); i++ {
		walk(node.Child(i), visit)
	}
}

// StructureExtractorAvailable reports whether the tree-sitter path is built in.
func StructureExtractorAvailable() bool {
	return true
}

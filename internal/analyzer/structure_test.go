package analyzer

import (
	"reflect"
	"testing"
)

const samplePython = `import os
import sys, json
from collections import defaultdict
from .utils import helper
from ..core.models import Repo

class Scanner:
    def __init__(self):
        self.cache = defaultdict(list)

    async def scan(self, url):
        data = fetch(url)
        return parse(data)

def main():
    scanner = Scanner()
    scanner.scan("https://example.com")
`

func TestExtractStructureRegex(t *testing.T) {
	st := extractStructureRegex([]byte(samplePython))

	wantImports := []string{"os", "sys", "json", "collections", ".utils", "..core.models"}
	if !reflect.DeepEqual(st.Imports, wantImports) {
		t.Errorf("Imports = %v, want %v", st.Imports, wantImports)
	}

	wantFuncs := []string{"__init__", "scan", "main"}
	if !reflect.DeepEqual(st.Functions, wantFuncs) {
		t.Errorf("Functions = %v, want %v", st.Functions, wantFuncs)
	}

	if !reflect.DeepEqual(st.Classes, []string{"Scanner"}) {
		t.Errorf("Classes = %v, want [Scanner]", st.Classes)
	}

	calls := map[string]bool{}
	for _, c := range st.Calls {
		calls[c] = true
	}
	for _, want := range []string{"fetch", "parse", "defaultdict"} {
		if !calls[want] {
			t.Errorf("Calls missing %q: %v", want, st.Calls)
		}
	}
}

func TestExtractStructureRegexEmpty(t *testing.T) {
	st := extractStructureRegex([]byte(""))
	if len(st.Imports)+len(st.Functions)+len(st.Classes)+len(st.Calls) != 0 {
		t.Errorf("empty source produced %+v", st)
	}
}

func TestExtractStructureRegexDeduplicates(t *testing.T) {
	src := "import os\nimport os\ndef f():\n    pass\ndef f():\n    pass\n"
	st := extractStructureRegex([]byte(src))
	if len(st.Imports) != 1 || len(st.Functions) != 1 {
		t.Errorf("duplicates not collapsed: %+v", st)
	}
}

package chunkindex

import (
	"io"
	"strings"
	"testing"

	"github.com/Nikhilk147/RepoScan/internal/logging"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	logger := logging.NewLogger(logging.Config{Format: logging.JSONFormat, Level: logging.ErrorLevel, Output: io.Discard})
	idx, err := Open(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func sampleChunks() []Chunk {
	return []Chunk{
		{Path: "src/main.py", Index: 0, Language: "python", Content: "def main():\n    pass\n"},
		{Path: "src/main.py", Index: 1, Language: "python", Content: "class App:\n    pass\n"},
		{Path: "src/util.py", Index: 0, Language: "python", Content: "import os\n"},
	}
}

func TestIngestAndLookup(t *testing.T) {
	idx := testIndex(t)

	if err := idx.Ingest("b", "c1", sampleChunks()); err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	got, err := idx.Lookup("b", "c1", nil)
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d chunks, want 3", len(got))
	}
	// zstd round trip preserves content exactly.
	if got[0].Content != "def main():\n    pass\n" {
		t.Errorf("content = %q", got[0].Content)
	}
	if got[0].Path != "src/main.py" || got[0].Index != 0 {
		t.Errorf("ordering wrong: first chunk %s#%d", got[0].Path, got[0].Index)
	}
}

func TestLookupByPath(t *testing.T) {
	idx := testIndex(t)

	if err := idx.Ingest("b", "c1", sampleChunks()); err != nil {
		t.Fatal(err)
	}

	got, err := idx.Lookup("b", "c1", []string{"src/util.py"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Path != "src/util.py" {
		t.Errorf("path filter returned %+v", got)
	}
}

func TestIngestSkipsExistingKey(t *testing.T) {
	idx := testIndex(t)

	if err := idx.Ingest("b", "c1", sampleChunks()); err != nil {
		t.Fatal(err)
	}
	// Second ingest for the same key is a no-op.
	if err := idx.Ingest("b", "c1", sampleChunks()[:1]); err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	got, _ := idx.Lookup("b", "c1", nil)
	if len(got) != 3 {
		t.Errorf("got %d chunks after repeat ingest, want 3", len(got))
	}
}

func TestLargeContentRoundTrip(t *testing.T) {
	idx := testIndex(t)

	big := strings.Repeat("def handler():\n    return 42\n\n", 500)
	if err := idx.Ingest("b", "c1", []Chunk{{Path: "big.py", Index: 0, Language: "python", Content: big}}); err != nil {
		t.Fatal(err)
	}

	got, err := idx.Lookup("b", "c1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if got[0].Content != big {
		t.Error("large content did not round-trip")
	}
}

func TestDelete(t *testing.T) {
	idx := testIndex(t)

	if err := idx.Ingest("b", "c1", sampleChunks()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Ingest("b", "c2", sampleChunks()); err != nil {
		t.Fatal(err)
	}
	if err := idx.Ingest("other", "c1", sampleChunks()); err != nil {
		t.Fatal(err)
	}

	// Delete one commit.
	if err := idx.Delete("b", "c1"); err != nil {
		t.Fatal(err)
	}
	if has, _ := idx.Has("b", "c1"); has {
		t.Error("chunks for b@c1 survived delete")
	}
	if has, _ := idx.Has("b", "c2"); !has {
		t.Error("delete of one commit removed another")
	}

	// Delete the whole repository.
	if err := idx.Delete("b", ""); err != nil {
		t.Fatal(err)
	}
	if has, _ := idx.Has("b", "c2"); has {
		t.Error("repository-wide delete left chunks behind")
	}
	if has, _ := idx.Has("other", "c1"); !has {
		t.Error("delete removed an unrelated repository")
	}
}

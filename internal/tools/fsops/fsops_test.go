package fsops

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func TestListDirectory(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":         "aaa",
		".hidden":       "h",
		"sub/b.txt":     "bb",
		"sub/deep/c.go": "c",
	})

	tool := NewListTool(Config{Workspace: root})

	params, _ := json.Marshal(map[string]any{"path": "."})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || !result.Success {
		t.Fatalf("list failed: %v %+v", err, result)
	}
	var payload struct {
		Entries []dirEntry `json:"entries"`
	}
	if err := json.Unmarshal(result.Data, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	// Non-recursive, no hidden: a.txt and sub only.
	if len(payload.Entries) != 2 {
		t.Fatalf("entries = %+v", payload.Entries)
	}
	byName := map[string]dirEntry{}
	for _, e := range payload.Entries {
		byName[e.Name] = e
	}
	if byName["a.txt"].Type != "file" || byName["a.txt"].Size != 3 {
		t.Fatalf("a.txt = %+v", byName["a.txt"])
	}
	if byName["sub"].Type != "dir" {
		t.Fatalf("sub = %+v", byName["sub"])
	}
}

func TestListDirectoryRecursiveAndHidden(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.txt":     "a",
		".hidden":   "h",
		"sub/b.txt": "b",
	})

	tool := NewListTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]any{"path": ".", "recursive": true, "show_hidden": true})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || !result.Success {
		t.Fatalf("list failed: %v %+v", err, result)
	}
	var payload struct {
		Entries []dirEntry `json:"entries"`
	}
	_ = json.Unmarshal(result.Data, &payload)

	names := map[string]bool{}
	for _, e := range payload.Entries {
		names[e.Name] = true
	}
	for _, want := range []string{"a.txt", ".hidden", "sub", filepath.Join("sub", "b.txt")} {
		if !names[want] {
			t.Fatalf("missing %q in %v", want, names)
		}
	}
}

func TestListRejectsEscape(t *testing.T) {
	tool := NewListTool(Config{Workspace: t.TempDir()})
	params, _ := json.Marshal(map[string]any{"path": "../.."})
	result, err := tool.Execute(context.Background(), params)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if result.Success {
		t.Fatal("escape accepted")
	}
}

func searchPayload(t *testing.T, result json.RawMessage) (matches []searchMatch, capped bool) {
	t.Helper()
	var payload struct {
		Matches []searchMatch `json:"matches"`
		Capped  bool          `json:"capped"`
	}
	if err := json.Unmarshal(result, &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return payload.Matches, payload.Capped
}

func TestSearchFindsMatchesCaseInsensitive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go": "func HandleRequest() {}\n",
		"b.go": "// handle nothing\n",
	})

	tool := NewSearchTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]any{"query": "handle"})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || !result.Success {
		t.Fatalf("search failed: %v %+v", err, result)
	}
	matches, _ := searchPayload(t, result.Data)
	if len(matches) != 2 {
		t.Fatalf("matches = %+v", matches)
	}
	if matches[0].File != "a.go" || matches[0].Line != 1 {
		t.Fatalf("first match = %+v", matches[0])
	}
}

func TestSearchCaseSensitive(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{"a.txt": "Alpha\nalpha\n"})

	tool := NewSearchTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]any{"query": "Alpha", "case_sensitive": true})
	result, _ := tool.Execute(context.Background(), params)
	matches, _ := searchPayload(t, result.Data)
	if len(matches) != 1 || matches[0].Line != 1 {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestSearchRespectsGitignore(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		".gitignore":      "vendor/\n*.log\n",
		"main.go":         "needle\n",
		"vendor/dep.go":   "needle\n",
		"debug.log":       "needle\n",
		"sub/.gitignore":  "secret.txt\n",
		"sub/secret.txt":  "needle\n",
		"sub/visible.txt": "needle\n",
	})

	tool := NewSearchTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]any{"query": "needle"})
	result, _ := tool.Execute(context.Background(), params)
	matches, _ := searchPayload(t, result.Data)

	files := map[string]bool{}
	for _, m := range matches {
		files[filepath.ToSlash(m.File)] = true
	}
	if !files["main.go"] || !files["sub/visible.txt"] {
		t.Fatalf("expected matches missing: %v", files)
	}
	for _, banned := range []string{"vendor/dep.go", "debug.log", "sub/secret.txt"} {
		if files[banned] {
			t.Fatalf("ignored file matched: %s", banned)
		}
	}
}

func TestSearchGlobFilter(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"a.go":  "needle\n",
		"a.txt": "needle\n",
	})

	tool := NewSearchTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]any{"query": "needle", "file_glob": "*.go"})
	result, _ := tool.Execute(context.Background(), params)
	matches, _ := searchPayload(t, result.Data)
	if len(matches) != 1 || matches[0].File != "a.go" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestSearchSkipsBinaries(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "bin.dat"), []byte("needle\x00needle"), 0o644); err != nil {
		t.Fatalf("seed binary: %v", err)
	}
	writeTree(t, root, map[string]string{"text.txt": "needle\n"})

	tool := NewSearchTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]any{"query": "needle"})
	result, _ := tool.Execute(context.Background(), params)
	matches, _ := searchPayload(t, result.Data)
	if len(matches) != 1 || matches[0].File != "text.txt" {
		t.Fatalf("matches = %+v", matches)
	}
}

func TestSearchCapsMatches(t *testing.T) {
	root := t.TempDir()
	content := ""
	for i := 0; i < 50; i++ {
		content += "needle\n"
	}
	writeTree(t, root, map[string]string{"big.txt": content})

	tool := NewSearchTool(Config{Workspace: root})
	params, _ := json.Marshal(map[string]any{"query": "needle", "max_results": 10})
	result, _ := tool.Execute(context.Background(), params)
	matches, capped := searchPayload(t, result.Data)
	if len(matches) != 10 || !capped {
		t.Fatalf("got %d matches, capped=%v", len(matches), capped)
	}
}

func TestSearchRequiresQuery(t *testing.T) {
	tool := NewSearchTool(Config{Workspace: t.TempDir()})
	params, _ := json.Marshal(map[string]any{"query": " "})
	result, err := tool.Execute(context.Background(), params)
	if err != nil || result.Success {
		t.Fatalf("blank query accepted: %v %+v", err, result)
	}
}

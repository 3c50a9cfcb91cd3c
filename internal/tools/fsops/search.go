package fsops

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/arula-run/arula/pkg/models"
)

// binaryProbeSize is how many leading bytes are checked for a null byte
// before a file is treated as binary and skipped.
const binaryProbeSize = 8192

// searchMaxLineSize bounds one matched line.
const searchMaxLineSize = 1 << 20

// SearchTool implements search_files: grep across a directory tree with
// .gitignore respect, an optional glob file filter, case-insensitive
// matching by default, a binary-file skip, and a hard cap on matches.
// Files are scanned by a worker pool fed from a single walker.
type SearchTool struct {
	cfg Config
}

// NewSearchTool creates a search_files tool scoped to the workspace.
func NewSearchTool(cfg Config) *SearchTool {
	return &SearchTool{cfg: cfg.withDefaults()}
}

func (t *SearchTool) Name() string { return "search_files" }

func (t *SearchTool) Description() string {
	return "Search file contents under a directory with a regular expression. Respects .gitignore, skips binary files, and caps the number of matches."
}

func (t *SearchTool) Schema() json.RawMessage {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "Regular expression to search for.",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Directory to search (relative to workspace, default '.').",
			},
			"file_glob": map[string]any{
				"type":        "string",
				"description": "Only search files whose base name matches this glob (e.g. '*.go').",
			},
			"case_sensitive": map[string]any{
				"type":        "boolean",
				"description": "Match case exactly (default false).",
			},
			"max_results": map[string]any{
				"type":        "integer",
				"description": "Stop after this many matches (clamped to the tool's hard cap).",
				"minimum":     1,
			},
		},
		"required": []string{"query"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

type searchMatch struct {
	File string `json:"file"`
	Line int    `json:"line"`
	Text string `json:"text"`
}

func (t *SearchTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	var input struct {
		Query         string `json:"query"`
		Path          string `json:"path"`
		FileGlob      string `json:"file_glob"`
		CaseSensitive bool   `json:"case_sensitive"`
		MaxResults    int    `json:"max_results"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return failed(fmt.Sprintf("invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Query) == "" {
		return failed("query is required"), nil
	}
	if input.Path == "" {
		input.Path = "."
	}

	pattern := input.Query
	if !input.CaseSensitive {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return failed(fmt.Sprintf("invalid query: %v", err)), nil
	}

	limit := t.cfg.MaxMatches
	if input.MaxResults > 0 && input.MaxResults < limit {
		limit = input.MaxResults
	}

	root, err := resolve(t.cfg.Workspace, input.Path)
	if err != nil {
		return failed(err.Error()), nil
	}

	searchCtx, cancelSearch := context.WithCancel(ctx)
	defer cancelSearch()

	paths := make(chan string, t.cfg.SearchWorkers*2)
	var (
		mu      sync.Mutex
		matches []searchMatch
		capped  bool
	)

	appendMatch := func(m searchMatch) bool {
		mu.Lock()
		defer mu.Unlock()
		if len(matches) >= limit {
			return false
		}
		matches = append(matches, m)
		if len(matches) >= limit {
			capped = true
			cancelSearch()
			return false
		}
		return true
	}

	var wg sync.WaitGroup
	for i := 0; i < t.cfg.SearchWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range paths {
				if searchCtx.Err() != nil {
					continue
				}
				scanFile(root, path, re, appendMatch)
			}
		}()
	}

	ignores := newIgnoreStack()
	walkErr := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if searchCtx.Err() != nil {
			return filepath.SkipAll
		}

		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}

		if d.IsDir() {
			if rel != "." {
				if d.Name() == ".git" || ignores.Match(rel, true) {
					return filepath.SkipDir
				}
			}
			ignores.Load(root, rel)
			return nil
		}

		if ignores.Match(rel, false) {
			return nil
		}
		if input.FileGlob != "" {
			if ok, _ := filepath.Match(input.FileGlob, d.Name()); !ok {
				return nil
			}
		}

		select {
		case paths <- path:
		case <-searchCtx.Done():
			return filepath.SkipAll
		}
		return nil
	})
	close(paths)
	wg.Wait()

	if walkErr != nil && ctx.Err() != nil {
		return failed("search canceled"), nil
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].File != matches[j].File {
			return matches[i].File < matches[j].File
		}
		return matches[i].Line < matches[j].Line
	})

	return success(map[string]any{
		"query":   input.Query,
		"path":    input.Path,
		"matches": matches,
		"count":   len(matches),
		"capped":  capped,
	}), nil
}

// scanFile greps one file line by line, skipping binaries detected by a
// null byte in the leading probe.
func scanFile(root, path string, re *regexp.Regexp, appendMatch func(searchMatch) bool) {
	file, err := os.Open(path)
	if err != nil {
		return
	}
	defer file.Close()

	probe := make([]byte, binaryProbeSize)
	n, err := file.Read(probe)
	if err != nil && n == 0 {
		return
	}
	if bytes.IndexByte(probe[:n], 0) >= 0 {
		return
	}
	if _, err := file.Seek(0, 0); err != nil {
		return
	}

	rel, err := filepath.Rel(root, path)
	if err != nil {
		rel = path
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), searchMaxLineSize)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if !re.MatchString(line) {
			continue
		}
		if !appendMatch(searchMatch{File: rel, Line: lineNo, Text: line}) {
			return
		}
	}
}

// ignoreStack accumulates .gitignore rules as the walk descends. It
// understands the common forms: comments, blank lines, trailing-slash
// directory patterns, leading-slash anchoring, and * globs. Negations are
// not supported; an ignored tree stays ignored.
type ignoreStack struct {
	rules []ignoreRule
}

type ignoreRule struct {
	base    string // directory the rule is anchored under, "" for root
	pattern string
	dirOnly bool
	rooted  bool
}

func newIgnoreStack() *ignoreStack {
	return &ignoreStack{}
}

// Load reads dir/.gitignore (if present) and appends its rules.
func (s *ignoreStack) Load(root, rel string) {
	dir := root
	base := ""
	if rel != "." {
		dir = filepath.Join(root, rel)
		base = rel
	}
	payload, err := os.ReadFile(filepath.Join(dir, ".gitignore"))
	if err != nil {
		return
	}
	for _, raw := range strings.Split(string(payload), "\n") {
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
			continue
		}
		rule := ignoreRule{base: base}
		if strings.HasSuffix(line, "/") {
			rule.dirOnly = true
			line = strings.TrimSuffix(line, "/")
		}
		if strings.HasPrefix(line, "/") {
			rule.rooted = true
			line = strings.TrimPrefix(line, "/")
		}
		rule.pattern = line
		s.rules = append(s.rules, rule)
	}
}

// Match reports whether the walk-relative path is ignored.
func (s *ignoreStack) Match(rel string, isDir bool) bool {
	rel = filepath.ToSlash(rel)
	for _, rule := range s.rules {
		target := rel
		if rule.base != "" {
			prefix := filepath.ToSlash(rule.base) + "/"
			if !strings.HasPrefix(rel, prefix) {
				continue
			}
			target = strings.TrimPrefix(rel, prefix)
		}
		if rule.dirOnly && !isDir {
			// A file can still live under an ignored directory.
			if !pathHasPrefixMatch(target, rule.pattern, rule.rooted) {
				continue
			}
			return true
		}
		if matchIgnorePattern(target, rule.pattern, rule.rooted) {
			return true
		}
	}
	return false
}

// matchIgnorePattern applies one pattern to a slash path: rooted patterns
// match from the start, unrooted ones match any path segment.
func matchIgnorePattern(target, pattern string, rooted bool) bool {
	if rooted {
		if ok, _ := filepath.Match(pattern, target); ok {
			return true
		}
		return pathHasPrefixMatch(target, pattern, true)
	}
	if ok, _ := filepath.Match(pattern, filepath.Base(target)); ok {
		return true
	}
	for _, segment := range strings.Split(target, "/") {
		if ok, _ := filepath.Match(pattern, segment); ok {
			return true
		}
	}
	return false
}

// pathHasPrefixMatch reports whether some leading segment of target
// matches pattern, i.e. target lives under a matched directory.
func pathHasPrefixMatch(target, pattern string, rooted bool) bool {
	segments := strings.Split(target, "/")
	if rooted {
		if len(segments) == 0 {
			return false
		}
		ok, _ := filepath.Match(pattern, segments[0])
		return ok
	}
	for _, segment := range segments {
		if ok, _ := filepath.Match(pattern, segment); ok {
			return true
		}
	}
	return false
}

// Package grammar wraps the tree-sitter grammars pecompile reads and writes:
// python for formula bodies and rule-set sources, javascript and typescript
// for checking synthesized modules.
package grammar

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/python"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

var extToLanguage = map[string]string{
	".py":  "python",
	".js":  "javascript",
	".mjs": "javascript",
	".cjs": "javascript",
	".ts":  "typescript",
}

var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"python":     python.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"typescript": ts.GetLanguage(),
		}
	})
}

// LanguageForFile returns the language name for a file path based on its
// extension.
func LanguageForFile(path string) (string, bool) {
	lang, ok := extToLanguage[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// ForLanguage returns the tree-sitter grammar for a language name.
func ForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// Parse parses src with the named grammar. The caller closes the tree.
func Parse(ctx context.Context, lang string, src []byte) (*sitter.Tree, error) {
	g, ok := ForLanguage(lang)
	if !ok {
		return nil, fmt.Errorf("grammar: unsupported language %q", lang)
	}
	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(g)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("grammar: parse %s: %w", lang, err)
	}
	return tree, nil
}

// SyntaxError locates the first error node in a parse tree.
type SyntaxError struct {
	Language string
	Line     int // 1-based
	Column   int // 1-based
	Snippet  string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("grammar: %s syntax error at %d:%d near %q", e.Language, e.Line, e.Column, e.Snippet)
}

// Check parses src and returns a *SyntaxError for the first ERROR or
// MISSING node, or nil when the text is well formed.
func Check(ctx context.Context, lang string, src string) error {
	b := []byte(src)
	tree, err := Parse(ctx, lang, b)
	if err != nil {
		return err
	}
	defer tree.Close()

	root := tree.RootNode()
	if !root.HasError() {
		return nil
	}
	bad := firstError(root)
	if bad == nil {
		bad = root
	}
	pt := bad.StartPoint()
	snippet := bad.Content(b)
	if len(snippet) > 40 {
		snippet = snippet[:40]
	}
	return &SyntaxError{
		Language: lang,
		Line:     int(pt.Row) + 1,
		Column:   int(pt.Column) + 1,
		Snippet:  snippet,
	}
}

func firstError(n *sitter.Node) *sitter.Node {
	if n.Type() == "ERROR" || n.IsMissing() {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if found := firstError(n.Child(i)); found != nil {
			return found
		}
	}
	return nil
}

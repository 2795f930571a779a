// Package codeassist implements the optional Assist capability with
// heuristic, offline suggestions. It serves the code_completion,
// code_analysis, and code_documentation methods for Go and SQL sources
// without consulting any external service.
package codeassist

import (
	"context"
	"fmt"
	"strings"

	"github.com/datamcp/datamcp"
)

// Assist is a self-contained implementation of datamcp.Assist.
type Assist struct{}

// New creates the heuristic assist backend.
func New() *Assist { return &Assist{} }

// Complete suggests keywords and snippets matching the identifier prefix at
// the cursor position.
func (a *Assist) Complete(_ context.Context, params datamcp.CompletionParams) (datamcp.CompletionResult, error) {
	lines := strings.Split(params.Code, "\n")
	if params.Line < 0 || params.Line >= len(lines) {
		return datamcp.CompletionResult{Items: []datamcp.CompletionItem{}}, nil
	}
	current := lines[params.Line]
	col := params.Column
	if col > len(current) {
		col = len(current)
	}
	if col < 0 {
		col = 0
	}
	prefix := identifierPrefix(current[:col])

	var items []datamcp.CompletionItem
	for _, cand := range candidatesFor(params.Language) {
		if prefix != "" && !strings.HasPrefix(cand.Label, prefix) {
			continue
		}
		items = append(items, cand)
	}
	if items == nil {
		items = []datamcp.CompletionItem{}
	}
	return datamcp.CompletionResult{Items: items}, nil
}

// Analyze runs line-oriented checks over a snippet and summarizes the
// findings.
func (a *Assist) Analyze(_ context.Context, params datamcp.AnalysisParams) (datamcp.AnalysisResult, error) {
	diagnostics := []datamcp.Diagnostic{}

	for i, line := range strings.Split(params.Code, "\n") {
		trimmed := strings.TrimSpace(line)
		if len(line) > 120 {
			diagnostics = append(diagnostics, datamcp.Diagnostic{
				Message:  "line exceeds 120 characters",
				Severity: "info",
				Line:     i,
				Column:   120,
			})
		}
		if idx := strings.Index(line, "TODO"); idx >= 0 {
			diagnostics = append(diagnostics, datamcp.Diagnostic{
				Message:  "unresolved TODO",
				Severity: "hint",
				Line:     i,
				Column:   idx,
			})
		}
		switch strings.ToLower(params.Language) {
		case "go":
			if strings.Contains(line, "panic(") {
				diagnostics = append(diagnostics, datamcp.Diagnostic{
					Message:  "panic in library code; prefer returning an error",
					Severity: "warning",
					Line:     i,
					Column:   strings.Index(line, "panic("),
				})
			}
			if strings.HasSuffix(trimmed, "_ = err") || strings.Contains(trimmed, "_ = err;") {
				diagnostics = append(diagnostics, datamcp.Diagnostic{
					Message:  "error is discarded",
					Severity: "warning",
					Line:     i,
					Column:   0,
				})
			}
		case "sql":
			upper := strings.ToUpper(trimmed)
			if strings.HasPrefix(upper, "SELECT *") {
				diagnostics = append(diagnostics, datamcp.Diagnostic{
					Message:  "SELECT * retrieves all columns; list the columns you need",
					Severity: "warning",
					Line:     i,
					Column:   0,
				})
			}
			if strings.HasPrefix(upper, "DELETE FROM") && !strings.Contains(upper, "WHERE") {
				diagnostics = append(diagnostics, datamcp.Diagnostic{
					Message:  "DELETE without WHERE affects every row",
					Severity: "error",
					Line:     i,
					Column:   0,
				})
			}
		}
	}

	return datamcp.AnalysisResult{
		Diagnostics: diagnostics,
		Summary:     summarize(diagnostics),
	}, nil
}

// Document returns canned reference documentation for known symbols.
func (a *Assist) Document(_ context.Context, params datamcp.DocumentationParams) (datamcp.DocumentationResult, error) {
	var docs map[string]datamcp.DocumentationResult
	switch strings.ToLower(params.Language) {
	case "go":
		docs = goDocs
	case "sql":
		docs = sqlDocs
	}
	if doc, ok := docs[params.Symbol]; ok {
		return doc, nil
	}
	return datamcp.DocumentationResult{
		Symbol:      params.Symbol,
		Description: fmt.Sprintf("No documentation available for %q.", params.Symbol),
	}, nil
}

func identifierPrefix(s string) string {
	i := len(s)
	for i > 0 {
		c := s[i-1]
		if c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' {
			i--
			continue
		}
		break
	}
	return s[i:]
}

func summarize(diagnostics []datamcp.Diagnostic) string {
	if len(diagnostics) == 0 {
		return "No issues found."
	}
	counts := map[string]int{}
	for _, d := range diagnostics {
		counts[d.Severity]++
	}
	return fmt.Sprintf("Found %d issue(s): %d error(s), %d warning(s).",
		len(diagnostics), counts["error"], counts["warning"])
}

func candidatesFor(language string) []datamcp.CompletionItem {
	switch strings.ToLower(language) {
	case "go":
		return goCompletions
	case "sql":
		return sqlCompletions
	default:
		return nil
	}
}

var goCompletions = []datamcp.CompletionItem{
	{Label: "func", Kind: "keyword", InsertText: "func "},
	{Label: "return", Kind: "keyword", InsertText: "return "},
	{Label: "if err != nil", Kind: "snippet", Detail: "error check",
		InsertText: "if err != nil {\n\treturn err\n}"},
	{Label: "for", Kind: "keyword", InsertText: "for "},
	{Label: "range", Kind: "keyword", InsertText: "range "},
	{Label: "fmt.Errorf", Kind: "function", Detail: "wrap an error",
		InsertText: "fmt.Errorf(\"%w\", err)"},
}

var sqlCompletions = []datamcp.CompletionItem{
	{Label: "SELECT", Kind: "keyword", InsertText: "SELECT "},
	{Label: "FROM", Kind: "keyword", InsertText: "FROM "},
	{Label: "WHERE", Kind: "keyword", InsertText: "WHERE "},
	{Label: "GROUP BY", Kind: "keyword", InsertText: "GROUP BY "},
	{Label: "ORDER BY", Kind: "keyword", InsertText: "ORDER BY "},
	{Label: "JOIN", Kind: "keyword", InsertText: "JOIN "},
}

var goDocs = map[string]datamcp.DocumentationResult{
	"fmt.Println": {
		Symbol:      "fmt.Println",
		Description: "Prints to standard output and appends a newline.",
		Syntax:      "func Println(a ...any) (n int, err error)",
		Example:     `fmt.Println("Hello, World!")`,
		URL:         "https://pkg.go.dev/fmt#Println",
	},
	"json.Marshal": {
		Symbol:      "json.Marshal",
		Description: "Returns the JSON encoding of v.",
		Syntax:      "func Marshal(v any) ([]byte, error)",
		Example:     "data, err := json.Marshal(v)",
		URL:         "https://pkg.go.dev/encoding/json#Marshal",
	},
	"http.ListenAndServe": {
		Symbol:      "http.ListenAndServe",
		Description: "Starts an HTTP server on the given address with the given handler.",
		Syntax:      "func ListenAndServe(addr string, handler Handler) error",
		Example:     `http.ListenAndServe(":8080", nil)`,
		URL:         "https://pkg.go.dev/net/http#ListenAndServe",
	},
}

var sqlDocs = map[string]datamcp.DocumentationResult{
	"SELECT": {
		Symbol:      "SELECT",
		Description: "Retrieves rows from one or more tables.",
		Syntax:      "SELECT column, ... FROM table [WHERE condition]",
		Example:     "SELECT id, name FROM users WHERE active = true",
	},
	"JOIN": {
		Symbol:      "JOIN",
		Description: "Combines rows from two tables on a related column.",
		Syntax:      "SELECT ... FROM a JOIN b ON a.id = b.a_id",
		Example:     "SELECT u.name, o.total FROM users u JOIN orders o ON o.user_id = u.id",
	},
}

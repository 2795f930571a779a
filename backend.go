package datamcp

import "context"

// Backend is the pluggable data-source capability the dispatcher delegates
// to. Implementations must be safe for concurrent use; the dispatcher adds
// no serialization of its own.
type Backend interface {
	// ListTables returns the names of all reachable tables.
	ListTables(ctx context.Context) ([]string, error)

	// DiscoverData returns the column layout of the named table.
	DiscoverData(ctx context.Context, table string) ([]Column, error)

	// PrepareQuery validates a query and reports its bind parameters.
	PrepareQuery(ctx context.Context, query string) (PrepareResult, error)

	// Query executes a query and returns its result set.
	Query(ctx context.Context, query string) (QueryResult, error)
}

// Column describes one column of a table.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

// PrepareResult is the outcome of preparing a query.
type PrepareResult struct {
	Prepared   bool     `json:"prepared"`
	Parameters []string `json:"parameters"`
}

// QueryResult is a tabular result set.
type QueryResult struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// BackendError reports a failure the backend could diagnose. The dispatcher
// maps it to an application error on the wire; any other error from a
// Backend is treated as internal.
type BackendError struct {
	Message string
}

func (e *BackendError) Error() string { return e.Message }

// Assist is an optional capability serving the code-assistance methods.
// Servers without one report those methods as not found.
type Assist interface {
	// Complete returns completion suggestions at a cursor position.
	Complete(ctx context.Context, params CompletionParams) (CompletionResult, error)

	// Analyze inspects a source snippet and reports diagnostics.
	Analyze(ctx context.Context, params AnalysisParams) (AnalysisResult, error)

	// Document returns reference documentation for a symbol.
	Document(ctx context.Context, params DocumentationParams) (DocumentationResult, error)
}

// CompletionParams locate a cursor inside a source snippet.
type CompletionParams struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
	Context  string `json:"context,omitempty"`
}

// CompletionItem is a single completion suggestion.
type CompletionItem struct {
	Label         string `json:"label"`
	Kind          string `json:"kind"`
	Detail        string `json:"detail,omitempty"`
	Documentation string `json:"documentation,omitempty"`
	InsertText    string `json:"insertText"`
}

// CompletionResult lists completion suggestions.
type CompletionResult struct {
	Items []CompletionItem `json:"items"`
}

// AnalysisParams carry a source snippet to inspect.
type AnalysisParams struct {
	Code     string `json:"code"`
	Language string `json:"language"`
	Context  string `json:"context,omitempty"`
}

// Diagnostic is a single issue found during analysis. Severity is one of
// "error", "warning", "info" or "hint".
type Diagnostic struct {
	Message  string `json:"message"`
	Severity string `json:"severity"`
	Line     int    `json:"line"`
	Column   int    `json:"column"`
}

// AnalysisResult lists the findings for a snippet.
type AnalysisResult struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
	Summary     string       `json:"summary"`
}

// DocumentationParams name a symbol to document.
type DocumentationParams struct {
	Symbol   string `json:"symbol"`
	Language string `json:"language"`
	Context  string `json:"context,omitempty"`
}

// DocumentationResult is reference documentation for one symbol.
type DocumentationResult struct {
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
	Syntax      string `json:"syntax,omitempty"`
	Example     string `json:"example,omitempty"`
	URL         string `json:"url,omitempty"`
}

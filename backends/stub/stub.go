// Package stub provides the fixture Backend the server ships with. It
// returns static data regardless of input, standing in for a real
// data-source integration.
package stub

import (
	"context"

	"github.com/datamcp/datamcp"
)

// Backend serves canned tables, columns, and rows.
type Backend struct{}

// New creates a stub backend.
func New() *Backend { return &Backend{} }

// ListTables returns the fixture table names.
func (b *Backend) ListTables(context.Context) ([]string, error) {
	return []string{"users", "products", "orders"}, nil
}

// DiscoverData returns the fixture column layout for any table.
func (b *Backend) DiscoverData(_ context.Context, table string) ([]datamcp.Column, error) {
	return []datamcp.Column{
		{Name: "id", Type: "integer"},
		{Name: "name", Type: "string"},
		{Name: "created_at", Type: "timestamp"},
	}, nil
}

// PrepareQuery reports every query as prepared with no bind parameters.
func (b *Backend) PrepareQuery(_ context.Context, query string) (datamcp.PrepareResult, error) {
	return datamcp.PrepareResult{Prepared: true, Parameters: []string{}}, nil
}

// Query returns the fixture result set for any query.
func (b *Backend) Query(_ context.Context, query string) (datamcp.QueryResult, error) {
	return datamcp.QueryResult{
		Columns: []string{"id", "name"},
		Rows: [][]any{
			{1, "Example"},
			{2, "Test"},
		},
	}, nil
}

// Package datasource defines the read-only execution surface for the
// clinical reporting database.
package datasource

import "context"

// MaxQueryLimit is the hard cap on rows returned by Query methods.
// This protects against unbounded queries that could crash the server.
const MaxQueryLimit = 10000

// ColumnInfo describes a result column with database-agnostic type information.
type ColumnInfo struct {
	Name string `json:"name"`
	Type string `json:"type"` // Database type name (e.g., "NVARCHAR", "INT")
}

// QueryExecutionResult holds the results from executing a query.
type QueryExecutionResult struct {
	Columns  []ColumnInfo     `json:"columns"`
	Rows     []map[string]any `json:"rows"`
	RowCount int              `json:"row_count"`
}

// ReadOnlyExecutor runs bounded SELECT statements against the reporting
// database. Rendered template SQL passes placeholder values as named
// parameters; the executor never runs DDL or DML.
type ReadOnlyExecutor interface {
	// Query runs a SELECT statement with named parameters and returns
	// bounded results. The query is always wrapped with a TOP clause:
	//   - limit <= 0 or limit > MaxQueryLimit: uses MaxQueryLimit
	//   - otherwise: uses the specified limit
	Query(ctx context.Context, sqlQuery string, params map[string]any, limit int) (*QueryExecutionResult, error)

	// TestConnection verifies the database is reachable.
	TestConnection(ctx context.Context) error

	Close() error
}

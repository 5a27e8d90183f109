// Package mssql implements the read-only reporting database executor for
// SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver
	"go.uber.org/zap"

	"github.com/clinsight-health/clinsight-engine/pkg/adapters/datasource"
	"github.com/clinsight-health/clinsight-engine/pkg/config"
	"github.com/clinsight-health/clinsight-engine/pkg/logging"
)

// Adapter provides read-only SQL Server connectivity to the clinical
// reporting database.
type Adapter struct {
	db           *sql.DB
	queryTimeout time.Duration
	maxRows      int
	logger       *zap.Logger
}

var _ datasource.ReadOnlyExecutor = (*Adapter)(nil)

// NewAdapter opens a connection pool to the reporting database.
func NewAdapter(cfg *config.ReportingConfig, logger *zap.Logger) (*Adapter, error) {
	if !cfg.IsConfigured() {
		return nil, fmt.Errorf("reporting database is not configured")
	}

	connStr := cfg.ConnectionString()
	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open reporting database: %s",
			logging.SanitizeError(err))
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	timeout := time.Duration(cfg.QueryTimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	maxRows := cfg.MaxRows
	if maxRows <= 0 || maxRows > datasource.MaxQueryLimit {
		maxRows = datasource.MaxQueryLimit
	}

	return &Adapter{
		db:           db,
		queryTimeout: timeout,
		maxRows:      maxRows,
		logger:       logger.Named("reporting-db"),
	}, nil
}

// Query runs a SELECT with named parameters and bounded results.
func (a *Adapter) Query(ctx context.Context, sqlQuery string, params map[string]any, limit int) (*datasource.QueryExecutionResult, error) {
	effectiveLimit := limit
	if effectiveLimit <= 0 || effectiveLimit > a.maxRows {
		effectiveLimit = a.maxRows
	}
	queryToRun := fmt.Sprintf("SELECT TOP (%d) * FROM (%s) AS _limited", effectiveLimit, sqlQuery)

	args := make([]any, 0, len(params))
	for name, value := range params {
		args = append(args, sql.Named(name, value))
	}

	queryCtx, cancel := context.WithTimeout(ctx, a.queryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := a.db.QueryContext(queryCtx, queryToRun, args...)
	if err != nil {
		a.logger.Error("Query failed",
			zap.String("query", logging.SanitizeQuery(sqlQuery)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer rows.Close()

	columnNames, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("failed to get column types: %w", err)
	}

	columns := make([]datasource.ColumnInfo, len(columnNames))
	for i, colName := range columnNames {
		columns[i] = datasource.ColumnInfo{
			Name: colName,
			Type: columnTypes[i].DatabaseTypeName(),
		}
	}

	resultRows := make([]map[string]any, 0)
	for rows.Next() {
		values := make([]any, len(columnNames))
		valuePtrs := make([]any, len(columnNames))
		for i := range values {
			valuePtrs[i] = &values[i]
		}
		if err := rows.Scan(valuePtrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		rowMap := make(map[string]any)
		for i, col := range columnNames {
			val := values[i]
			if b, ok := val.([]byte); ok && isStringType(columnTypes[i].DatabaseTypeName()) {
				val = string(b)
			}
			rowMap[col] = val
		}
		resultRows = append(resultRows, rowMap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	a.logger.Debug("Query executed",
		zap.Int("rows", len(resultRows)),
		zap.Duration("elapsed", time.Since(start)))

	return &datasource.QueryExecutionResult{
		Columns:  columns,
		Rows:     resultRows,
		RowCount: len(resultRows),
	}, nil
}

// TestConnection verifies the reporting database is reachable.
func (a *Adapter) TestConnection(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping reporting database: %s",
			logging.SanitizeError(err))
	}
	return nil
}

// Close closes the connection pool.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// isStringType reports whether a SQL Server type scans as []byte but should
// be surfaced as a string.
func isStringType(sqlType string) bool {
	switch sqlType {
	case "CHAR", "VARCHAR", "NCHAR", "NVARCHAR", "TEXT", "NTEXT", "XML":
		return true
	}
	return false
}

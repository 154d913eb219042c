package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/marcboeker/go-duckdb/v2"

	"github.com/johnayoung/go-ohlcv-collector/internal/models"
)

// writeParquetFile stages batch into a disposable DuckDB table via the
// Appender API (the same bulk-load path the teacher's duckdb.go uses for
// its candles table) and flushes the table straight to a Parquet file with
// COPY TO, DuckDB used here purely as a codec rather than a store of
// record.
func (p *ParquetStore) writeParquetFile(ctx context.Context, path string, batch models.Batch) error {
	numCols := batch.ColumnUnion()
	extraCols := extraColumnUnion(batch)
	table := "stage_" + strings.ReplaceAll(uuid.NewString(), "-", "")

	conn, err := p.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, createStageTableDDL(table, numCols, extraCols)); err != nil {
		return err
	}
	defer conn.ExecContext(ctx, "DROP TABLE IF EXISTS "+table)

	var appendErr error
	err = conn.Raw(func(driverConn any) error {
		dconn, ok := driverConn.(*duckdb.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection type %T", driverConn)
		}
		appender, err := duckdb.NewAppenderFromConn(dconn, "", table)
		if err != nil {
			return err
		}
		defer appender.Close()

		for _, r := range batch {
			row := make([]any, 0, 1+len(numCols)+len(extraCols))
			row = append(row, r.Ts)
			for _, c := range numCols {
				if v, ok := r.Fields[c]; ok {
					row = append(row, v)
				} else {
					row = append(row, nil)
				}
			}
			for _, c := range extraCols {
				if v, ok := r.Extra[c]; ok {
					row = append(row, v)
				} else {
					row = append(row, nil)
				}
			}
			if err := appender.AppendRow(row...); err != nil {
				appendErr = err
				return err
			}
		}
		return appender.Flush()
	})
	if err != nil {
		return err
	}
	if appendErr != nil {
		return appendErr
	}

	copyStmt := fmt.Sprintf("COPY %s TO '%s' (FORMAT parquet, COMPRESSION snappy)", table, path)
	if _, err := conn.ExecContext(ctx, copyStmt); err != nil {
		return err
	}
	return nil
}

// readParquetFile reads an entire partition file back into a Batch via
// DuckDB's read_parquet table function.
func (p *ParquetStore) readParquetFile(ctx context.Context, path string) (models.Batch, error) {
	query := fmt.Sprintf("SELECT * FROM read_parquet('%s')", escapeSingleQuotes(path))
	rows, err := p.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}

	var batch models.Batch
	for rows.Next() {
		dest := make([]any, len(cols))
		for i := range dest {
			dest[i] = new(any)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}

		record := models.Record{Fields: map[string]float64{}, Extra: map[string]string{}}
		for i, col := range cols {
			val := *(dest[i].(*any))
			if val == nil {
				continue
			}
			if col == "ts" {
				record.Ts = toInt64(val)
				continue
			}
			if isNumericDuckDBType(types[i].DatabaseTypeName()) {
				record.Fields[col] = toFloat64(val)
			} else {
				record.Extra[col] = fmt.Sprintf("%v", val)
			}
		}
		batch = append(batch, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].Ts < batch[j].Ts })
	return batch, nil
}

func createStageTableDDL(table string, numCols, extraCols []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TEMP TABLE %s (ts BIGINT", table)
	for _, c := range numCols {
		fmt.Fprintf(&b, ", %s DOUBLE", quoteIdent(c))
	}
	for _, c := range extraCols {
		fmt.Fprintf(&b, ", %s VARCHAR", quoteIdent(c))
	}
	b.WriteString(")")
	return b.String()
}

func extraColumnUnion(b models.Batch) []string {
	seen := map[string]struct{}{}
	for _, r := range b {
		for k := range r.Extra {
			seen[k] = struct{}{}
		}
	}
	cols := make([]string, 0, len(seen))
	for k := range seen {
		cols = append(cols, k)
	}
	sort.Strings(cols)
	return cols
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func escapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

func isNumericDuckDBType(typeName string) bool {
	switch strings.ToUpper(typeName) {
	case "DOUBLE", "FLOAT", "BIGINT", "INTEGER", "HUGEINT", "DECIMAL":
		return true
	default:
		return false
	}
}

func toFloat64(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return 0
	}
}

func toInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}

package postgres

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"

	"sleepdx/internal/domain/sleep"
	"sleepdx/pkg/errors"
)

// Compile-time check
var _ sleep.CorpusRepository = (*CorpusRepository)(nil)

var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// CorpusRepository reads and writes raw training corpora stored as tables
type CorpusRepository struct {
	db DBTX
}

// NewCorpusRepository creates a new corpus repository
func NewCorpusRepository(db DBTX) *CorpusRepository {
	return &CorpusRepository{db: db}
}

// LoadCorpus returns every row of a table with its column names. Values are
// rendered as text the same way a CSV export would; NULL becomes "".
func (r *CorpusRepository) LoadCorpus(ctx context.Context, table string) ([]string, [][]string, error) {
	ident, err := quoteTable(table)
	if err != nil {
		return nil, nil, err
	}

	rows, err := r.db.QueryxContext(ctx, "SELECT * FROM "+ident)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "failed to query corpus %s", table)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to read corpus columns")
	}

	var out [][]string
	for rows.Next() {
		values, err := rows.SliceScan()
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to scan corpus row %d", len(out)+1)
		}
		cells := make([]string, len(values))
		for i, v := range values {
			cells[i] = formatCell(v)
		}
		out = append(out, cells)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "failed to iterate corpus")
	}

	return columns, out, nil
}

// ReplaceCorpus recreates a table with one TEXT column per header and bulk
// loads the rows with COPY. Column names are used verbatim. db must be a
// transaction: lib/pq rejects COPY outside one.
func (r *CorpusRepository) ReplaceCorpus(ctx context.Context, table string, columns []string, rows [][]string) error {
	ident, err := quoteTable(table)
	if err != nil {
		return err
	}
	if len(columns) == 0 {
		return errors.Wrap(errors.ErrInvalidInput, "corpus has no columns")
	}

	defs := make([]string, len(columns))
	for i, col := range columns {
		defs[i] = pq.QuoteIdentifier(col) + " TEXT"
	}

	if _, err := r.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+ident); err != nil {
		return errors.Wrapf(err, "failed to drop %s", table)
	}
	if _, err := r.db.ExecContext(ctx, fmt.Sprintf("CREATE TABLE %s (%s)", ident, strings.Join(defs, ", "))); err != nil {
		return errors.Wrapf(err, "failed to create %s", table)
	}

	schema, name := splitTable(table)
	var copyStmt string
	if schema == "" {
		copyStmt = pq.CopyIn(name, columns...)
	} else {
		copyStmt = pq.CopyInSchema(schema, name, columns...)
	}

	stmt, err := r.db.PrepareContext(ctx, copyStmt)
	if err != nil {
		return errors.Wrap(err, "failed to prepare copy")
	}
	defer stmt.Close()

	for i, row := range rows {
		if len(row) != len(columns) {
			return errors.Wrapf(errors.ErrInvalidInput, "row %d: %d cells for %d columns", i+1, len(row), len(columns))
		}
		args := make([]interface{}, len(row))
		for j, cell := range row {
			if cell == "" {
				args[j] = nil
				continue
			}
			args[j] = cell
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return errors.Wrapf(err, "failed to copy row %d", i+1)
		}
	}

	if _, err := stmt.ExecContext(ctx); err != nil {
		return errors.Wrap(err, "failed to flush copy")
	}
	return nil
}

func quoteTable(table string) (string, error) {
	if !identPattern.MatchString(table) {
		return "", errors.Wrapf(errors.ErrInvalidInput, "invalid table name %q", table)
	}
	schema, name := splitTable(table)
	if schema == "" {
		return pq.QuoteIdentifier(name), nil
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(name), nil
}

func splitTable(table string) (schema, name string) {
	if i := strings.IndexByte(table, '.'); i >= 0 {
		return table[:i], table[i+1:]
	}
	return "", table
}

func formatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(x)
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(x)
	}
}

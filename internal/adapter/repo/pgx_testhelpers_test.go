package repo

import (
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type testRowsBase struct{}

func (testRowsBase) CommandTag() pgconn.CommandTag { return pgconn.CommandTag{} }

func (testRowsBase) Conn() *pgx.Conn { return nil }

func (testRowsBase) FieldDescriptions() []pgconn.FieldDescription { return nil }

func (testRowsBase) Values() ([]any, error) {
	return nil, fmt.Errorf("values not supported in test rows")
}

func (testRowsBase) RawValues() [][]byte { return nil }

// valuesRows replays one valuesRow per Next call.
type valuesRows struct {
	testRowsBase
	rows   []valuesRow
	pos    int
	closed bool
}

func (r *valuesRows) Next() bool {
	if r.pos >= len(r.rows) {
		return false
	}
	r.pos++
	return true
}

func (r *valuesRows) Scan(dest ...any) error { return r.rows[r.pos-1].Scan(dest...) }

func (r *valuesRows) Err() error { return nil }

func (r *valuesRows) Close() { r.closed = true }

package postgres

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type call struct {
	sql  string
	args []any
}

// assign copies scripted column values into Scan destinations.
func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: %d destinations for %d values", len(dest), len(vals))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if vals[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		switch {
		case v.Type().AssignableTo(dv.Type()):
			dv.Set(v)
		case dv.Kind() == reflect.Pointer && v.Type().AssignableTo(dv.Type().Elem()):
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(v)
			dv.Set(p)
		case v.Kind() == dv.Kind() && v.Type().ConvertibleTo(dv.Type()):
			dv.Set(v.Convert(dv.Type()))
		default:
			return fmt.Errorf("scan: cannot assign %T to %T", vals[i], d)
		}
	}
	return nil
}

// rowStub implements pgx.Row
type rowStub struct {
	vals []any
	err  error
}

func (r rowStub) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.vals)
}

// rowsStub implements pgx.Rows over scripted values.
type rowsStub struct {
	data [][]any
	pos  int
	err  error
}

func (r *rowsStub) Close()                                       {}
func (r *rowsStub) Err() error                                   { return r.err }
func (r *rowsStub) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *rowsStub) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *rowsStub) RawValues() [][]byte                          { return nil }
func (r *rowsStub) Conn() *pgx.Conn                              { return nil }
func (r *rowsStub) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}
func (r *rowsStub) Scan(dest ...any) error { return assign(dest, r.data[r.pos-1]) }
func (r *rowsStub) Values() ([]any, error) { return r.data[r.pos-1], nil }

// txStub implements the pgx.Tx methods the repos use.
type txStub struct {
	pgx.Tx
	pool       *poolStub
	failExecAt int // 1-based; 0 disables
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *txStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.pool.mu.Lock()
	defer t.pool.mu.Unlock()
	t.pool.txExecs = append(t.pool.txExecs, call{sql: sql, args: args})
	if t.failExecAt > 0 && len(t.pool.txExecs) == t.failExecAt {
		return pgconn.CommandTag{}, errors.New("exec failed")
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *txStub) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *txStub) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

// poolStub implements PgxPool for tests.
type poolStub struct {
	mu sync.Mutex

	execs   []call
	execTag string
	execErr error

	rows     []call
	row      rowStub
	query    []call
	rowsData [][]any
	rowsErr  error
	queryErr error
	// extraRows serves the second Query call when set.
	extraRows [][]any

	tx       *txStub
	beginErr error
	txExecs  []call
}

func (p *poolStub) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.execs = append(p.execs, call{sql: sql, args: args})
	if p.execErr != nil {
		return pgconn.CommandTag{}, p.execErr
	}
	tag := p.execTag
	if tag == "" {
		tag = "UPDATE 1"
	}
	return pgconn.NewCommandTag(tag), nil
}

func (p *poolStub) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.rows = append(p.rows, call{sql: sql, args: args})
	if p.row.vals == nil && p.row.err == nil {
		return rowStub{err: errors.New("no row configured")}
	}
	return p.row
}

func (p *poolStub) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.query = append(p.query, call{sql: sql, args: args})
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if len(p.query) > 1 && p.extraRows != nil {
		return &rowsStub{data: p.extraRows}, nil
	}
	return &rowsStub{data: p.rowsData, err: p.rowsErr}, nil
}

func (p *poolStub) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		p.tx = &txStub{}
	}
	p.tx.pool = p
	return p.tx, nil
}

// Package session is the boundary to the live database. The cache and the
// structural managers never see a *sql.DB; they acquire a Session for the
// duration of one introspection or DDL call and release it on every exit
// path.
package session

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/kadirbelkuyu/metacache/pkg/logger"
)

// Rows streams result rows of an introspection query.
type Rows interface {
	Columns() []string
	Next() bool
	// Values returns the current row, one value per column.
	Values() ([]any, error)
	Err() error
	Close() error
}

// Session is an exclusively held connection.
type Session interface {
	RunQuery(ctx context.Context, query string, args ...any) (Rows, error)
	RunStatement(ctx context.Context, stmt string) (int64, error)
	// RunBatch executes statements in order. With transactional set they run
	// in one transaction that is rolled back on the first failure.
	RunBatch(ctx context.Context, stmts []string, transactional bool) (int64, error)
	// Cancel aborts whatever the session is currently executing.
	Cancel()
	Release() error
}

// Provider hands out sessions.
type Provider interface {
	Acquire(ctx context.Context) (Session, error)
}

// SQLProvider acquires sessions as dedicated connections from a pool.
type SQLProvider struct {
	db     *sql.DB
	logger *logger.Logger
}

func NewSQLProvider(db *sql.DB, log *logger.Logger) *SQLProvider {
	return &SQLProvider{db: db, logger: logger.OrDiscard(log)}
}

func (p *SQLProvider) Acquire(ctx context.Context) (Session, error) {
	if p.db == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	conn, err := p.db.Conn(ctx)
	if err != nil {
		return nil, Classify(err)
	}
	sctx, cancel := context.WithCancel(context.Background())
	return &sqlSession{conn: conn, ctx: sctx, cancel: cancel, logger: p.logger}, nil
}

type sqlSession struct {
	conn   *sql.Conn
	ctx    context.Context
	cancel context.CancelFunc
	logger *logger.Logger
}

// bind derives a context that ends when either the caller's context or the
// session is cancelled.
func (s *sqlSession) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *sqlSession) RunQuery(ctx context.Context, query string, args ...any) (Rows, error) {
	ctx, done := s.bind(ctx)
	s.logger.WithField("query", query).Debug("running introspection query")
	//nolint:rowserrcheck // Err is checked by the caller through Rows.Err
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		done()
		return nil, ClassifyStatement(err, query)
	}
	cols, err := rows.Columns()
	if err != nil {
		_ = rows.Close()
		done()
		return nil, ClassifyStatement(err, query)
	}
	return &sqlRows{rows: rows, columns: cols, done: done}, nil
}

func (s *sqlSession) RunStatement(ctx context.Context, stmt string) (int64, error) {
	ctx, done := s.bind(ctx)
	defer done()

	s.logger.WithField("statement", stmt).Debug("executing statement")
	res, err := s.conn.ExecContext(ctx, stmt)
	if err != nil {
		return 0, ClassifyStatement(err, stmt)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return affected, nil
}

func (s *sqlSession) RunBatch(ctx context.Context, stmts []string, transactional bool) (int64, error) {
	if !transactional || len(stmts) < 2 {
		var total int64
		for _, stmt := range stmts {
			n, err := s.RunStatement(ctx, stmt)
			if err != nil {
				return total, err
			}
			total += n
		}
		return total, nil
	}

	ctx, done := s.bind(ctx)
	defer done()

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, Classify(err)
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for _, stmt := range stmts {
		s.logger.WithField("statement", stmt).Debug("executing statement")
		res, err := tx.ExecContext(ctx, stmt)
		if err != nil {
			return 0, ClassifyStatement(err, stmt)
		}
		if n, err := res.RowsAffected(); err == nil {
			total += n
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, Classify(err)
	}
	return total, nil
}

func (s *sqlSession) Cancel() {
	s.cancel()
}

func (s *sqlSession) Release() error {
	s.cancel()
	if err := s.conn.Close(); err != nil {
		s.logger.WithFields(logrus.Fields{"error": err}).Debug("releasing session")
		return err
	}
	return nil
}

type sqlRows struct {
	rows    *sql.Rows
	columns []string
	done    context.CancelFunc
}

func (r *sqlRows) Columns() []string { return r.columns }

func (r *sqlRows) Next() bool { return r.rows.Next() }

func (r *sqlRows) Values() ([]any, error) {
	values := make([]any, len(r.columns))
	pointers := make([]any, len(r.columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	if err := r.rows.Scan(pointers...); err != nil {
		return nil, err
	}
	return values, nil
}

func (r *sqlRows) Err() error {
	return Classify(r.rows.Err())
}

func (r *sqlRows) Close() error {
	err := r.rows.Close()
	r.done()
	return err
}

// With acquires a session, runs fn and releases the session whatever fn
// returns.
func With(ctx context.Context, p Provider, fn func(Session) error) error {
	sess, err := p.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = sess.Release() }()
	return fn(sess)
}

package session

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"github.com/kadirbelkuyu/metacache/internal/metaerr"
)

// SQLSTATE codes with special meaning.
const (
	sqlStateQueryCanceled = "57014"
	connectionClass       = "08"
)

// Classify maps a driver error onto the metaerr taxonomy. The object and
// operation are filled in by the caller with metaerr.WithObject.
func Classify(err error) error {
	return ClassifyStatement(err, "")
}

// ClassifyStatement is Classify for an error raised by a known statement.
func ClassifyStatement(err error, stmt string) error {
	if err == nil {
		return nil
	}

	var (
		conn   *metaerr.ConnectivityError
		cancel *metaerr.CancelledError
		exec   *metaerr.ExecutionError
	)
	if errors.As(err, &conn) || errors.As(err, &cancel) || errors.As(err, &exec) {
		return err
	}

	if errors.Is(err, context.Canceled) {
		return &metaerr.CancelledError{Err: err}
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, sql.ErrConnDone) {
		return &metaerr.ConnectivityError{Err: err}
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fromServer(err, stmt, string(pqErr.Code), pqErr.Message, pqErr.Detail)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromServer(err, stmt, pgErr.Code, pgErr.Message, pgErr.Detail)
	}

	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) || pgconn.Timeout(err) {
		return &metaerr.ConnectivityError{Err: err}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &metaerr.ConnectivityError{Err: err}
	}

	return &metaerr.ExecutionError{Statement: stmt, ServerMessage: err.Error(), Err: err}
}

func fromServer(err error, stmt, code, message, detail string) error {
	switch {
	case code == sqlStateQueryCanceled:
		return &metaerr.CancelledError{Err: err}
	case strings.HasPrefix(code, connectionClass):
		return &metaerr.ConnectivityError{Err: err}
	}
	return &metaerr.ExecutionError{
		Statement:     stmt,
		Code:          code,
		ServerMessage: message,
		Detail:        detail,
		Err:           err,
	}
}

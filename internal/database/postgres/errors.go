package postgres

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redbco/redb-desk/pkg/adapter"
)

// SQLSTATE codes that change the error kind.
const (
	codeQueryCanceled = "57014"
	codeAdminShutdown = "57P01"
	classAuth         = "28"
	classConnection   = "08"
)

// wrapErr maps pgx errors onto the adapter taxonomy. Server errors keep
// their SQLSTATE as the backend code.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == codeQueryCanceled:
			return adapter.NewTimeoutError(op, err)
		case strings.HasPrefix(pgErr.Code, classAuth),
			strings.HasPrefix(pgErr.Code, classConnection),
			pgErr.Code == codeAdminShutdown:
			return adapter.NewConnectionError(kind, "", 0, err)
		}
		return adapter.NewDatabaseError(kind, op, err).WithCode(pgErr.Code)
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		if connErr.Config != nil {
			return adapter.NewConnectionError(kind, connErr.Config.Host, int(connErr.Config.Port), err)
		}
		return adapter.NewConnectionError(kind, "", 0, err)
	}
	if pgconn.Timeout(err) {
		return adapter.NewTimeoutError(op, err)
	}
	return adapter.WrapError(kind, op, err)
}

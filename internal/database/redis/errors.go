package redis

import (
	"errors"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redis/go-redis/v9"
)

// wrapErr maps go-redis errors onto the adapter taxonomy. Server replies
// keep their prefix (WRONGTYPE, ERR, ...) as the backend code.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.ErrClosed) {
		return adapter.NewClosedError(kind)
	}

	var rerr redis.Error
	if errors.As(err, &rerr) {
		code := errorPrefix(rerr.Error())
		switch code {
		case "NOAUTH", "WRONGPASS", "NOPERM", "LOADING", "MASTERDOWN":
			return adapter.NewConnectionError(kind, "", 0, err)
		}
		return adapter.NewDatabaseError(kind, op, err).WithCode(code)
	}
	return adapter.WrapError(kind, op, err)
}

func errorPrefix(msg string) string {
	if i := strings.IndexByte(msg, ' '); i > 0 {
		return msg[:i]
	}
	return msg
}

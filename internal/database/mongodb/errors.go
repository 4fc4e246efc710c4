package mongodb

import (
	"errors"
	"strconv"

	"github.com/redbco/redb-desk/pkg/adapter"
	"go.mongodb.org/mongo-driver/v2/mongo"
)

// wrapErr maps driver errors onto the adapter taxonomy, keeping the server
// error code where one exists.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if mongo.IsTimeout(err) {
		return adapter.NewTimeoutError(op, err)
	}
	if errors.Is(err, mongo.ErrClientDisconnected) || mongo.IsNetworkError(err) {
		return adapter.NewConnectionError(kind, "", 0, err)
	}
	if code, ok := serverCode(err); ok {
		return adapter.NewDatabaseError(kind, op, err).WithCode(code)
	}
	return adapter.WrapError(kind, op, err)
}

func serverCode(err error) (string, bool) {
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Code != 0 {
		if cmdErr.Name != "" {
			return cmdErr.Name, true
		}
		return strconv.Itoa(int(cmdErr.Code)), true
	}

	var writeErr mongo.WriteException
	if errors.As(err, &writeErr) {
		if len(writeErr.WriteErrors) > 0 {
			return strconv.Itoa(writeErr.WriteErrors[0].Code), true
		}
		if writeErr.WriteConcernError != nil {
			return strconv.Itoa(writeErr.WriteConcernError.Code), true
		}
	}

	var bulkErr mongo.BulkWriteException
	if errors.As(err, &bulkErr) && len(bulkErr.WriteErrors) > 0 {
		return strconv.Itoa(bulkErr.WriteErrors[0].Code), true
	}
	return "", false
}

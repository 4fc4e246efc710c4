package kafka

import (
	"errors"
	"net"
	"strconv"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/segmentio/kafka-go"
)

// wrapErr maps kafka-go errors onto the adapter taxonomy. Protocol errors
// keep their numeric code as the backend code.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if adapter.IsTimeout(err) {
		return adapter.NewTimeoutError(op, err)
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		switch kerr {
		case kafka.SASLAuthenticationFailed, kafka.UnsupportedSASLMechanism, kafka.IllegalSASLState:
			return adapter.NewConnectionError(kind, "", 0, err)
		case kafka.RequestTimedOut:
			return adapter.NewTimeoutError(op, err)
		}
		return adapter.NewDatabaseError(kind, op, err).WithCode(strconv.Itoa(int(kerr)))
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return adapter.NewConnectionError(kind, "", 0, err)
	}
	return adapter.WrapError(kind, op, err)
}

// firstError returns the first non-nil error of a per-topic error map.
func firstError(errs map[string]error) (string, error) {
	for topic, err := range errs {
		if err != nil {
			return topic, err
		}
	}
	return "", nil
}

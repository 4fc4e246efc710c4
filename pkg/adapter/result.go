package adapter

// Result is the normalized outcome of every routed operation.
type Result struct {
	Success bool             `json:"success"`
	Data    interface{}      `json:"data,omitempty"`
	Error   *NormalizedError `json:"error,omitempty"`
}

// OK wraps data in a successful Result.
func OK(data interface{}) Result {
	return Result{Success: true, Data: data}
}

// Fail wraps err in a failed Result.
func Fail(err error) Result {
	n := Normalize(err)
	if n == nil {
		n = &NormalizedError{Kind: KindBackend, Message: "unknown error"}
	}
	return Result{Success: false, Error: n}
}

// Err returns the normalized error of a failed result as an error value.
func (r Result) Err() error {
	if r.Success || r.Error == nil {
		return nil
	}
	return r.Error
}

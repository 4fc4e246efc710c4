package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/redbco/redb-desk/pkg/adapter"
)

// printJSON writes v as indented JSON to stdout.
func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printResult prints a routed result and turns a failure into the command error.
func printResult(res adapter.Result) error {
	if err := printJSON(res); err != nil {
		return err
	}
	if !res.Success {
		return fmt.Errorf("%s", res.Error.Kind)
	}
	return nil
}

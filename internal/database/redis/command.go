package redis

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
)

// splitCommandLine tokenizes a redis-cli style line. Double quoted tokens
// support \n, \r, \t, \" and \\ escapes; single quoted tokens are literal.
func splitCommandLine(line string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inToken bool
	)

	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			if inToken {
				args = append(args, current.String())
				current.Reset()
				inToken = false
			}
		case ch == '"':
			inToken = true
			i++
			closed := false
			for ; i < len(line); i++ {
				c := line[i]
				if c == '\\' && i+1 < len(line) {
					i++
					switch line[i] {
					case 'n':
						current.WriteByte('\n')
					case 'r':
						current.WriteByte('\r')
					case 't':
						current.WriteByte('\t')
					default:
						current.WriteByte(line[i])
					}
					continue
				}
				if c == '"' {
					closed = true
					break
				}
				current.WriteByte(c)
			}
			if !closed {
				return nil, adapter.NewValidationError("command", "unbalanced double quote")
			}
		case ch == '\'':
			inToken = true
			end := strings.IndexByte(line[i+1:], '\'')
			if end < 0 {
				return nil, adapter.NewValidationError("command", "unbalanced single quote")
			}
			current.WriteString(line[i+1 : i+1+end])
			i += end + 1
		default:
			inToken = true
			current.WriteByte(ch)
		}
	}
	if inToken {
		args = append(args, current.String())
	}
	if len(args) == 0 {
		return nil, adapter.NewValidationError("command", "command is empty")
	}
	return args, nil
}

// blockedCommands would take over the connection or never return.
var blockedCommands = map[string]string{
	"SUBSCRIBE":  "use subscribe instead",
	"PSUBSCRIBE": "use subscribe instead",
	"SSUBSCRIBE": "use subscribe instead",
	"MONITOR":    "not available from a command line",
	"SELECT":     "pass the index as the namespace",
	"QUIT":       "use disconnect instead",
}

func commandArgs(line string) ([]interface{}, error) {
	tokens, err := splitCommandLine(line)
	if err != nil {
		return nil, err
	}
	name := strings.ToUpper(tokens[0])
	if reason, ok := blockedCommands[name]; ok {
		return nil, adapter.NewValidationError("command", fmt.Sprintf("%s: %s", name, reason))
	}
	args := make([]interface{}, len(tokens))
	args[0] = name
	for i, t := range tokens[1:] {
		args[i+1] = t
	}
	return args, nil
}

// parseInfo parses INFO output into sections of key/value pairs. Section
// names are lower-cased.
func parseInfo(info string) map[string]map[string]string {
	sections := map[string]map[string]string{}
	section := "default"
	for _, line := range strings.Split(info, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			section = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(line, "#")))
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		if sections[section] == nil {
			sections[section] = map[string]string{}
		}
		sections[section][parts[0]] = parts[1]
	}
	return sections
}

// parseKeyspaceLine parses "keys=3,expires=1,avg_ttl=0".
func parseKeyspaceLine(value string) map[string]interface{} {
	out := map[string]interface{}{}
	for _, pair := range strings.Split(value, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		if n, err := strconv.ParseInt(kv[1], 10, 64); err == nil {
			out[kv[0]] = n
		} else {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// infoValue converts numeric INFO values to numbers.
func infoValue(v string) interface{} {
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	return v
}

// convertReply turns RESP3 replies into JSON friendly values.
func convertReply(v interface{}) interface{} {
	switch val := v.(type) {
	case []interface{}:
		for i, item := range val {
			val[i] = convertReply(item)
		}
		return val
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, item := range val {
			out[fmt.Sprint(k)] = convertReply(item)
		}
		return out
	default:
		return v
	}
}

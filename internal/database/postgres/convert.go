package postgres

import (
	"database/sql/driver"
	"net/netip"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// collectRows reads rows up to max (0 for all), converting driver values
// into JSON friendly ones. It closes rows before returning.
func collectRows(rows pgx.Rows, max int) ([]string, []map[string]interface{}, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, fd := range fields {
		columns[i] = fd.Name
	}

	result := []map[string]interface{}{}
	for rows.Next() {
		if max > 0 && len(result) >= max {
			break
		}
		values, err := rows.Values()
		if err != nil {
			return nil, nil, err
		}
		entry := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			entry[col] = convertValue(values[i])
		}
		result = append(result, entry)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}
	return columns, result, nil
}

func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case nil:
		return nil
	case [16]byte:
		return uuid.UUID(val).String()
	case netip.Prefix:
		return val.String()
	case netip.Addr:
		return val.String()
	case []interface{}:
		for i, item := range val {
			val[i] = convertValue(item)
		}
		return val
	case map[string]interface{}:
		for k, item := range val {
			val[k] = convertValue(item)
		}
		return val
	case driver.Valuer:
		// pgtype values such as Numeric, Interval and Range.
		out, err := val.Value()
		if err != nil {
			return v
		}
		return out
	default:
		return v
	}
}

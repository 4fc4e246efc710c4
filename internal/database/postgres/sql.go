package postgres

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/redbco/redb-desk/pkg/adapter"
)

// quoteIdentifier quotes a PostgreSQL identifier, escaping embedded quotes.
func quoteIdentifier(identifier string) string {
	return `"` + strings.ReplaceAll(identifier, `"`, `""`) + `"`
}

// quoteIdentifiers quotes multiple PostgreSQL identifiers.
func quoteIdentifiers(identifiers []string) []string {
	quoted := make([]string, len(identifiers))
	for i, id := range identifiers {
		quoted[i] = quoteIdentifier(id)
	}
	return quoted
}

// splitQualified splits "schema.table" into its parts. Unqualified names
// resolve through the search_path.
func splitQualified(name string) (schema, table string) {
	if i := strings.Index(name, "."); i > 0 && i < len(name)-1 {
		return name[:i], name[i+1:]
	}
	return "", name
}

// quoteQualified quotes an optionally schema-qualified relation name.
func quoteQualified(name string) string {
	schema, table := splitQualified(name)
	if schema == "" {
		return quoteIdentifier(table)
	}
	return quoteIdentifier(schema) + "." + quoteIdentifier(table)
}

// comparison maps filter operators onto SQL.
var comparison = map[string]string{
	"$eq":    "=",
	"$ne":    "<>",
	"$gt":    ">",
	"$gte":   ">=",
	"$lt":    "<",
	"$lte":   "<=",
	"$like":  "LIKE",
	"$ilike": "ILIKE",
}

// whereBuilder renders a filter map into a parameterized predicate.
// Placeholders continue from the arguments already collected.
type whereBuilder struct {
	args []interface{}
}

func (w *whereBuilder) bind(v interface{}) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

// build renders filter, returning "" for an empty filter.
func (w *whereBuilder) build(filter map[string]interface{}) (string, error) {
	if len(filter) == 0 {
		return "", nil
	}

	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		value := filter[key]
		var (
			clause string
			err    error
		)
		switch key {
		case "$or", "$and":
			clause, err = w.logical(strings.ToUpper(key[1:]), value)
		default:
			if strings.HasPrefix(key, "$") {
				return "", adapter.NewValidationError("filter", fmt.Sprintf("unknown top-level operator %s", key))
			}
			clause, err = w.field(key, value)
		}
		if err != nil {
			return "", err
		}
		parts = append(parts, clause)
	}
	return strings.Join(parts, " AND "), nil
}

func (w *whereBuilder) logical(joiner string, value interface{}) (string, error) {
	items, ok := value.([]interface{})
	if !ok || len(items) == 0 {
		return "", adapter.NewValidationError("filter", fmt.Sprintf("$%s expects a non-empty list of filters", strings.ToLower(joiner)))
	}
	parts := make([]string, 0, len(items))
	for _, item := range items {
		sub, ok := item.(map[string]interface{})
		if !ok {
			return "", adapter.NewValidationError("filter", fmt.Sprintf("$%s entries must be objects", strings.ToLower(joiner)))
		}
		clause, err := w.build(sub)
		if err != nil {
			return "", err
		}
		if clause != "" {
			parts = append(parts, "("+clause+")")
		}
	}
	if len(parts) == 0 {
		return "", adapter.NewValidationError("filter", fmt.Sprintf("$%s needs at least one non-empty filter", strings.ToLower(joiner)))
	}
	return "(" + strings.Join(parts, " "+joiner+" ") + ")", nil
}

func (w *whereBuilder) field(column string, value interface{}) (string, error) {
	col := quoteIdentifier(column)

	switch v := value.(type) {
	case nil:
		return col + " IS NULL", nil
	case []interface{}:
		return col + " = ANY(" + w.bind(v) + ")", nil
	case map[string]interface{}:
		return w.operators(col, v)
	default:
		return col + " = " + w.bind(v), nil
	}
}

func (w *whereBuilder) operators(col string, ops map[string]interface{}) (string, error) {
	names := make([]string, 0, len(ops))
	for op := range ops {
		names = append(names, op)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(ops))
	for _, op := range names {
		arg := ops[op]
		switch op {
		case "$in", "$nin":
			list, ok := arg.([]interface{})
			if !ok {
				return "", adapter.NewValidationError("filter", op+" expects a list")
			}
			if op == "$in" {
				parts = append(parts, col+" = ANY("+w.bind(list)+")")
			} else {
				parts = append(parts, "NOT ("+col+" = ANY("+w.bind(list)+"))")
			}
		case "$null":
			isNull, ok := arg.(bool)
			if !ok {
				return "", adapter.NewValidationError("filter", "$null expects a boolean")
			}
			if isNull {
				parts = append(parts, col+" IS NULL")
			} else {
				parts = append(parts, col+" IS NOT NULL")
			}
		default:
			sqlOp, ok := comparison[op]
			if !ok {
				return "", adapter.NewValidationError("filter", fmt.Sprintf("unsupported operator %s", op))
			}
			if arg == nil && (op == "$eq" || op == "$ne") {
				if op == "$eq" {
					parts = append(parts, col+" IS NULL")
				} else {
					parts = append(parts, col+" IS NOT NULL")
				}
				continue
			}
			parts = append(parts, col+" "+sqlOp+" "+w.bind(arg))
		}
	}
	return strings.Join(parts, " AND "), nil
}

func buildOrderBy(fields []adapter.SortField) string {
	if len(fields) == 0 {
		return ""
	}
	parts := make([]string, len(fields))
	for i, f := range fields {
		parts[i] = quoteIdentifier(f.Field)
		if f.Descending {
			parts[i] += " DESC"
		}
	}
	return " ORDER BY " + strings.Join(parts, ", ")
}

// buildSelect renders a filtered read. limit is applied as given; callers
// ask for one extra row to detect more pages.
func buildSelect(req adapter.ReadRequest, limit int) (string, []interface{}, error) {
	w := &whereBuilder{}
	where, err := w.build(req.Filter)
	if err != nil {
		return "", nil, err
	}

	cols := "*"
	if len(req.Projection) > 0 {
		cols = strings.Join(quoteIdentifiers(req.Projection), ", ")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT %s FROM %s", cols, quoteQualified(req.Container))
	if where != "" {
		sb.WriteString(" WHERE " + where)
	}
	sb.WriteString(buildOrderBy(req.Sort))
	if limit > 0 {
		fmt.Fprintf(&sb, " LIMIT %d", limit)
	}
	if req.Skip > 0 {
		fmt.Fprintf(&sb, " OFFSET %d", req.Skip)
	}
	return sb.String(), w.args, nil
}

// buildInsert renders a single-row insert using the row's own columns.
func buildInsert(table string, row map[string]interface{}) (string, []interface{}) {
	columns := make([]string, 0, len(row))
	for col := range row {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	if len(columns) == 0 {
		return fmt.Sprintf("INSERT INTO %s DEFAULT VALUES", quoteQualified(table)), nil
	}

	placeholders := make([]string, len(columns))
	values := make([]interface{}, len(columns))
	for i, col := range columns {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		values[i] = row[col]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteQualified(table),
		strings.Join(quoteIdentifiers(columns), ", "),
		strings.Join(placeholders, ", "))
	return query, values
}

// buildUpdate renders UPDATE ... SET ... WHERE with SET arguments first.
func buildUpdate(table string, patch, filter map[string]interface{}) (string, []interface{}, error) {
	columns := make([]string, 0, len(patch))
	for col := range patch {
		columns = append(columns, col)
	}
	sort.Strings(columns)

	w := &whereBuilder{}
	sets := make([]string, len(columns))
	for i, col := range columns {
		sets[i] = quoteIdentifier(col) + " = " + w.bind(patch[col])
	}

	where, err := w.build(filter)
	if err != nil {
		return "", nil, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s", quoteQualified(table), strings.Join(sets, ", "))
	if where != "" {
		query += " WHERE " + where
	}
	return query, w.args, nil
}

func buildDelete(table string, filter map[string]interface{}) (string, []interface{}, error) {
	w := &whereBuilder{}
	where, err := w.build(filter)
	if err != nil {
		return "", nil, err
	}
	query := "DELETE FROM " + quoteQualified(table)
	if where != "" {
		query += " WHERE " + where
	}
	return query, w.args, nil
}

// typePattern accepts column types such as "varchar(255)", "numeric(10, 2)",
// "timestamp with time zone" or "int[]".
var typePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_ ]*(\(\s*\d+\s*(,\s*\d+\s*)?\))?(\[\])*$`)

func buildCreateTable(table string, columns []adapter.ColumnDefinition) (string, error) {
	if len(columns) == 0 {
		return "", adapter.NewValidationError("columns", "at least one column is required")
	}

	defs := make([]string, 0, len(columns)+1)
	var pk []string
	for _, col := range columns {
		if col.Name == "" {
			return "", adapter.NewValidationError("columns", "column name is required")
		}
		if !typePattern.MatchString(strings.TrimSpace(col.Type)) {
			return "", adapter.NewValidationError("columns", fmt.Sprintf("invalid type %q for column %s", col.Type, col.Name))
		}
		def := quoteIdentifier(col.Name) + " " + strings.TrimSpace(col.Type)
		if !col.Nullable && !col.PrimaryKey {
			def += " NOT NULL"
		}
		if col.Default != "" {
			if strings.ContainsAny(col.Default, ";") {
				return "", adapter.NewValidationError("columns", fmt.Sprintf("invalid default for column %s", col.Name))
			}
			def += " DEFAULT " + col.Default
		}
		defs = append(defs, def)
		if col.PrimaryKey {
			pk = append(pk, quoteIdentifier(col.Name))
		}
	}
	if len(pk) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(pk, ", ")+")")
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", quoteQualified(table), strings.Join(defs, ", ")), nil
}

func buildCreateIndex(table string, idx *adapter.IndexDefinition) (string, error) {
	if idx == nil || len(idx.Fields) == 0 {
		return "", adapter.NewValidationError("index", "at least one index field is required")
	}
	cols := make([]string, len(idx.Fields))
	for i, f := range idx.Fields {
		cols[i] = quoteIdentifier(f.Field)
		if f.Descending {
			cols[i] += " DESC"
		}
	}

	var sb strings.Builder
	sb.WriteString("CREATE ")
	if idx.Unique {
		sb.WriteString("UNIQUE ")
	}
	sb.WriteString("INDEX ")
	if idx.Name != "" {
		sb.WriteString(quoteIdentifier(idx.Name) + " ")
	}
	fmt.Fprintf(&sb, "ON %s (%s)", quoteQualified(table), strings.Join(cols, ", "))
	return sb.String(), nil
}

// buildDropIndex qualifies the index with the table's schema, since index
// names are schema scoped.
func buildDropIndex(table, index string) string {
	schema, _ := splitQualified(table)
	if schema == "" {
		return "DROP INDEX " + quoteIdentifier(index)
	}
	return "DROP INDEX " + quoteIdentifier(schema) + "." + quoteIdentifier(index)
}

func buildRename(table, newName string) string {
	_, bare := splitQualified(newName)
	return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", quoteQualified(table), quoteIdentifier(bare))
}

// buildMaintenance renders VACUUM, ANALYZE or REINDEX. An empty target
// covers the whole database.
func buildMaintenance(action adapter.SchemaAction, target, database string) (string, error) {
	switch action {
	case adapter.ActionVacuum:
		if target == "" {
			return "VACUUM (ANALYZE)", nil
		}
		return "VACUUM (ANALYZE) " + quoteQualified(target), nil
	case adapter.ActionAnalyze:
		if target == "" {
			return "ANALYZE", nil
		}
		return "ANALYZE " + quoteQualified(target), nil
	case adapter.ActionReindex:
		if target == "" {
			return "REINDEX DATABASE " + quoteIdentifier(database), nil
		}
		return "REINDEX TABLE " + quoteQualified(target), nil
	}
	return "", fmt.Errorf("not a maintenance action: %s", action)
}

// explainStatement wraps a statement in EXPLAIN. ANALYZE executes it, so
// callers run the result inside a transaction that is rolled back.
func explainStatement(statement string, analyze bool) string {
	if analyze {
		return "EXPLAIN (ANALYZE, BUFFERS, FORMAT JSON) " + statement
	}
	return "EXPLAIN (FORMAT JSON) " + statement
}

package mongodb

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redbco/redb-desk/pkg/adapter"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// toFilter builds a query document. raw wins over m and is parsed as
// relaxed extended JSON, so {"_id": {"$oid": "..."}} works in both forms.
func toFilter(m map[string]interface{}, raw string) (bson.D, error) {
	if raw != "" {
		return parseExtJSON("query", raw)
	}
	return toDocument(m)
}

// toDocument converts a JSON-shaped map into an ordered document, honouring
// extended JSON wrappers such as $oid and $date.
func toDocument(m map[string]interface{}) (bson.D, error) {
	if len(m) == 0 {
		return bson.D{}, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		// Values json cannot encode are passed through as native BSON.
		return toBSONDoc(m), nil
	}
	return parseExtJSON("document", string(data))
}

func parseExtJSON(field, raw string) (bson.D, error) {
	var doc bson.D
	if err := bson.UnmarshalExtJSON([]byte(raw), false, &doc); err != nil {
		return nil, adapter.NewValidationError(field, fmt.Sprintf("invalid extended JSON: %v", err))
	}
	return doc, nil
}

// toPipeline converts stage maps or a raw JSON array into pipeline stages.
func toPipeline(stages []map[string]interface{}, raw string) ([]bson.D, error) {
	if raw != "" {
		var wrapper struct {
			Pipeline []bson.D `bson:"pipeline"`
		}
		if err := bson.UnmarshalExtJSON([]byte(`{"pipeline":`+raw+`}`), false, &wrapper); err != nil {
			return nil, adapter.NewValidationError("query", fmt.Sprintf("pipeline must be a JSON array of stages: %v", err))
		}
		return wrapper.Pipeline, nil
	}

	pipeline := make([]bson.D, 0, len(stages))
	for i, stage := range stages {
		if len(stage) != 1 {
			return nil, adapter.NewValidationError("pipeline", fmt.Sprintf("stage %d must have exactly one operator", i))
		}
		doc, err := toDocument(stage)
		if err != nil {
			return nil, err
		}
		pipeline = append(pipeline, doc)
	}
	return pipeline, nil
}

func sortDoc(fields []adapter.SortField) bson.D {
	if len(fields) == 0 {
		return nil
	}
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		dir := 1
		if f.Descending {
			dir = -1
		}
		doc = append(doc, bson.E{Key: f.Field, Value: dir})
	}
	return doc
}

func projectionDoc(fields []string) bson.D {
	if len(fields) == 0 {
		return nil
	}
	doc := make(bson.D, 0, len(fields))
	for _, f := range fields {
		doc = append(doc, bson.E{Key: f, Value: 1})
	}
	return doc
}

// hasOperators reports whether an update document already uses $set style operators.
func hasOperators(doc bson.D) bool {
	for _, e := range doc {
		if len(e.Key) > 0 && e.Key[0] == '$' {
			return true
		}
	}
	return false
}

// toBSONDoc converts a map into a document with keys in sorted order.
func toBSONDoc(m map[string]interface{}) bson.D {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	doc := make(bson.D, 0, len(m))
	for _, k := range keys {
		switch v := m[k].(type) {
		case map[string]interface{}:
			doc = append(doc, bson.E{Key: k, Value: toBSONDoc(v)})
		case []interface{}:
			doc = append(doc, bson.E{Key: k, Value: convertSliceToBSON(v)})
		default:
			doc = append(doc, bson.E{Key: k, Value: v})
		}
	}
	return doc
}

func convertSliceToBSON(slice []interface{}) bson.A {
	result := make(bson.A, len(slice))
	for i, v := range slice {
		switch val := v.(type) {
		case map[string]interface{}:
			result[i] = toBSONDoc(val)
		case []interface{}:
			result[i] = convertSliceToBSON(val)
		default:
			result[i] = v
		}
	}
	return result
}

// documentRow flattens a decoded document into a row and its field order.
func documentRow(doc bson.D) (map[string]interface{}, []string) {
	row := make(map[string]interface{}, len(doc))
	keys := make([]string, 0, len(doc))
	for _, e := range doc {
		row[e.Key] = convertValue(e.Value)
		keys = append(keys, e.Key)
	}
	return row, keys
}

// convertBSONTypes rewrites driver types in place into JSON friendly values.
func convertBSONTypes(doc map[string]interface{}) {
	for k, v := range doc {
		doc[k] = convertValue(v)
	}
}

func convertValue(v interface{}) interface{} {
	switch val := v.(type) {
	case bson.ObjectID:
		return val.Hex()
	case bson.DateTime:
		return val.Time().UTC().Format(time.RFC3339Nano)
	case bson.Decimal128:
		return val.String()
	case bson.Binary:
		if (val.Subtype == bson.TypeBinaryUUID || val.Subtype == bson.TypeBinaryUUIDOld) && len(val.Data) == 16 {
			if id, err := uuid.FromBytes(val.Data); err == nil {
				return id.String()
			}
		}
		return base64.StdEncoding.EncodeToString(val.Data)
	case bson.Timestamp:
		return map[string]interface{}{"t": val.T, "i": val.I}
	case bson.Regex:
		return "/" + val.Pattern + "/" + val.Options
	case bson.D:
		nested := make(map[string]interface{}, len(val))
		for _, e := range val {
			nested[e.Key] = convertValue(e.Value)
		}
		return nested
	case bson.M:
		nested := make(map[string]interface{}, len(val))
		for key, item := range val {
			nested[key] = convertValue(item)
		}
		return nested
	case map[string]interface{}:
		convertBSONTypes(val)
		return val
	case bson.A:
		arr := make([]interface{}, len(val))
		for i, item := range val {
			arr[i] = convertValue(item)
		}
		return arr
	case []interface{}:
		for i, item := range val {
			val[i] = convertValue(item)
		}
		return val
	default:
		return v
	}
}

// mergeColumns appends keys not yet seen, keeping first-seen order.
func mergeColumns(columns []string, seen map[string]struct{}, keys []string) []string {
	for _, k := range keys {
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		columns = append(columns, k)
	}
	return columns
}

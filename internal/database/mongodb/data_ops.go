package mongodb

import (
	"context"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// DataOps implements adapter.DataOperator for MongoDB.
type DataOps struct {
	conn *Connection
}

// Read finds documents. One extra document is fetched to report HasMore.
func (d *DataOps) Read(ctx context.Context, req adapter.ReadRequest) (*adapter.ReadResult, error) {
	op := string(dbcapabilities.OpRead)
	coll, err := d.conn.collection(req.Namespace, req.Container)
	if err != nil {
		return nil, err
	}
	filter, err := toFilter(req.Filter, req.Query)
	if err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = adapter.DefaultReadLimit
	}
	findOpts := options.Find().SetLimit(int64(limit + 1))
	if req.Skip > 0 {
		findOpts.SetSkip(int64(req.Skip))
	}
	if s := sortDoc(req.Sort); s != nil {
		findOpts.SetSort(s)
	}
	if p := projectionDoc(req.Projection); p != nil {
		findOpts.SetProjection(p)
	}

	cursor, err := coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	rows, columns, err := drain(ctx, cursor)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return adapter.NewReadResult(columns, rows, limit), nil
}

// Write inserts records, returning the generated ids.
func (d *DataOps) Write(ctx context.Context, req adapter.WriteRequest) (*adapter.WriteResult, error) {
	coll, err := d.conn.collection(req.Namespace, req.Container)
	if err != nil {
		return nil, err
	}
	if len(req.Records) == 0 {
		return nil, adapter.NewValidationError("records", "at least one document is required")
	}

	docs := make([]interface{}, 0, len(req.Records))
	for _, record := range req.Records {
		doc, err := toDocument(record)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}

	res, err := coll.InsertMany(ctx, docs)
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpWrite), err)
	}
	ids := make([]interface{}, len(res.InsertedIDs))
	for i, id := range res.InsertedIDs {
		ids[i] = convertValue(id)
	}
	return &adapter.WriteResult{Affected: int64(len(ids)), InsertedIDs: ids}, nil
}

// Update applies Patch to every matching document. A patch without update
// operators is wrapped in $set.
func (d *DataOps) Update(ctx context.Context, req adapter.UpdateRequest) (*adapter.WriteResult, error) {
	coll, err := d.conn.collection(req.Namespace, req.Container)
	if err != nil {
		return nil, err
	}
	if len(req.Filter) == 0 && !req.All {
		return nil, adapter.NewValidationError("filter", "an empty filter updates every document; set all to confirm")
	}
	if len(req.Patch) == 0 {
		return nil, adapter.NewValidationError("patch", "update document is empty")
	}

	filter, err := toDocument(req.Filter)
	if err != nil {
		return nil, err
	}
	update, err := toDocument(req.Patch)
	if err != nil {
		return nil, err
	}
	if !hasOperators(update) {
		update = bson.D{{Key: "$set", Value: update}}
	}

	res, err := coll.UpdateMany(ctx, filter, update)
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpUpdate), err)
	}
	return &adapter.WriteResult{Affected: res.ModifiedCount, Matched: res.MatchedCount}, nil
}

// Delete removes every matching document.
func (d *DataOps) Delete(ctx context.Context, req adapter.DeleteRequest) (*adapter.WriteResult, error) {
	coll, err := d.conn.collection(req.Namespace, req.Container)
	if err != nil {
		return nil, err
	}
	if len(req.Filter) == 0 && !req.All {
		return nil, adapter.NewValidationError("filter", "an empty filter deletes every document; set all to confirm")
	}
	filter, err := toDocument(req.Filter)
	if err != nil {
		return nil, err
	}

	res, err := coll.DeleteMany(ctx, filter)
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpDelete), err)
	}
	return &adapter.WriteResult{Affected: res.DeletedCount, Matched: res.DeletedCount}, nil
}

// Aggregate runs a pipeline on a collection, or on the database when no
// collection is given (for stages such as $currentOp).
func (d *DataOps) Aggregate(ctx context.Context, req adapter.AggregateRequest) (*adapter.ReadResult, error) {
	op := string(dbcapabilities.OpAggregate)
	pipeline, err := toPipeline(req.Pipeline, req.Query)
	if err != nil {
		return nil, err
	}
	if len(pipeline) == 0 {
		return nil, adapter.NewValidationError("pipeline", "at least one stage is required")
	}

	var cursor *mongo.Cursor
	if req.Container == "" {
		db, err := d.conn.database(req.Namespace)
		if err != nil {
			return nil, err
		}
		cursor, err = db.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, wrapErr(op, err)
		}
	} else {
		coll, err := d.conn.collection(req.Namespace, req.Container)
		if err != nil {
			return nil, err
		}
		cursor, err = coll.Aggregate(ctx, pipeline)
		if err != nil {
			return nil, wrapErr(op, err)
		}
	}

	rows, columns, err := drain(ctx, cursor)
	if err != nil {
		return nil, wrapErr(op, err)
	}
	return adapter.NewReadResult(columns, rows, 0), nil
}

// Explain runs the explain command for a find or an aggregate. Analyze
// selects executionStats verbosity, which executes the plan.
func (d *DataOps) Explain(ctx context.Context, req adapter.ExplainRequest) (map[string]interface{}, error) {
	if req.Container == "" {
		return nil, adapter.NewValidationError("container", "collection name is required")
	}
	db, err := d.conn.database(req.Namespace)
	if err != nil {
		return nil, err
	}

	var inner bson.D
	if len(req.Pipeline) > 0 {
		pipeline, err := toPipeline(req.Pipeline, "")
		if err != nil {
			return nil, err
		}
		inner = bson.D{
			{Key: "aggregate", Value: req.Container},
			{Key: "pipeline", Value: pipeline},
			{Key: "cursor", Value: bson.D{}},
		}
	} else {
		filter, err := toFilter(req.Filter, req.Query)
		if err != nil {
			return nil, err
		}
		inner = bson.D{
			{Key: "find", Value: req.Container},
			{Key: "filter", Value: filter},
		}
	}

	verbosity := "queryPlanner"
	if req.Analyze {
		verbosity = "executionStats"
	}
	cmd := bson.D{{Key: "explain", Value: inner}, {Key: "verbosity", Value: verbosity}}

	var out bson.M
	if err := db.RunCommand(ctx, cmd).Decode(&out); err != nil {
		return nil, wrapErr(string(dbcapabilities.OpExplain), err)
	}
	plan := convertValue(out).(map[string]interface{})
	plan["summary"] = explainSummary(plan)
	return plan, nil
}

// explainSummary pulls the handful of figures worth showing first.
func explainSummary(plan map[string]interface{}) map[string]interface{} {
	summary := map[string]interface{}{}
	if qp, ok := plan["queryPlanner"].(map[string]interface{}); ok {
		if wp, ok := qp["winningPlan"].(map[string]interface{}); ok {
			summary["stage"] = planStage(wp)
		}
	}
	if es, ok := plan["executionStats"].(map[string]interface{}); ok {
		for _, k := range []string{"nReturned", "executionTimeMillis", "totalKeysExamined", "totalDocsExamined"} {
			if v, ok := es[k]; ok {
				summary[k] = v
			}
		}
	}
	return summary
}

// planStage describes a winning plan as STAGE<-STAGE<-... from the root.
func planStage(wp map[string]interface{}) string {
	if qp, ok := wp["queryPlan"].(map[string]interface{}); ok {
		wp = qp
	}
	out := ""
	for wp != nil {
		stage, _ := wp["stage"].(string)
		if out != "" {
			out += "<-"
		}
		out += stage
		next, _ := wp["inputStage"].(map[string]interface{})
		wp = next
	}
	return out
}

// drain reads a cursor to the end, collecting rows and the union of fields.
func drain(ctx context.Context, cursor *mongo.Cursor) ([]map[string]interface{}, []string, error) {
	defer cursor.Close(context.WithoutCancel(ctx))

	rows := []map[string]interface{}{}
	var columns []string
	seen := map[string]struct{}{}
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			return nil, nil, err
		}
		row, keys := documentRow(doc)
		columns = mergeColumns(columns, seen, keys)
		rows = append(rows, row)
	}
	if err := cursor.Err(); err != nil {
		return nil, nil, err
	}
	return rows, columns, nil
}

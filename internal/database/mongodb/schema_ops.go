package mongodb

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/redbco/redb-desk/pkg/adapter"
	"github.com/redbco/redb-desk/pkg/dbcapabilities"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// SchemaOps implements adapter.SchemaOperator for MongoDB.
type SchemaOps struct {
	conn *Connection
}

// ListNamespaces lists the databases the user is authorised to see.
func (s *SchemaOps) ListNamespaces(ctx context.Context) ([]adapter.Namespace, error) {
	if !s.conn.IsConnected() {
		return nil, adapter.NewClosedError(kind)
	}
	res, err := s.conn.client.ListDatabases(ctx, bson.D{}, options.ListDatabases().SetAuthorizedDatabases(true))
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpListNamespaces), err)
	}

	namespaces := make([]adapter.Namespace, 0, len(res.Databases))
	for _, spec := range res.Databases {
		namespaces = append(namespaces, adapter.Namespace{
			Name:   spec.Name,
			System: dbcapabilities.IsSystemNamespace(kind, spec.Name),
			Stats: map[string]interface{}{
				"sizeOnDisk": spec.SizeOnDisk,
				"empty":      spec.Empty,
			},
		})
	}
	sort.Slice(namespaces, func(i, j int) bool { return namespaces[i].Name < namespaces[j].Name })
	return namespaces, nil
}

// ListContainers lists collections and views with storage statistics.
func (s *SchemaOps) ListContainers(ctx context.Context, namespace string, opts adapter.ListOptions) ([]adapter.Container, error) {
	db, err := s.conn.database(namespace)
	if err != nil {
		return nil, err
	}

	filter := bson.D{}
	if opts.Pattern != "" {
		filter = bson.D{{Key: "name", Value: bson.Regex{Pattern: "^" + regexp.QuoteMeta(opts.Pattern)}}}
	}
	specs, err := db.ListCollectionSpecifications(ctx, filter)
	if err != nil {
		return nil, wrapErr(string(dbcapabilities.OpListContainers), err)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Name < specs[j].Name })

	containers := make([]adapter.Container, 0, len(specs))
	for _, spec := range specs {
		if !opts.IncludeInternal && isInternalCollection(spec.Name) {
			continue
		}
		if opts.Limit > 0 && len(containers) >= opts.Limit {
			break
		}
		c := adapter.Container{
			Name:      spec.Name,
			Namespace: db.Name(),
			Type:      spec.Type,
		}
		if spec.Type == "collection" {
			c.Stats = collectionStats(ctx, db.Collection(spec.Name))
		}
		containers = append(containers, c)
	}
	return containers, nil
}

// collectionStats reads $collStats. Failures (missing privileges, time
// series buckets) leave the stats empty rather than failing the listing.
func collectionStats(ctx context.Context, coll *mongo.Collection) map[string]interface{} {
	pipeline := mongo.Pipeline{{{Key: "$collStats", Value: bson.D{{Key: "storageStats", Value: bson.D{}}}}}}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return nil
	}
	defer cursor.Close(context.WithoutCancel(ctx))

	var out struct {
		StorageStats struct {
			Count          int64 `bson:"count"`
			Size           int64 `bson:"size"`
			StorageSize    int64 `bson:"storageSize"`
			NIndexes       int64 `bson:"nindexes"`
			TotalIndexSize int64 `bson:"totalIndexSize"`
		} `bson:"storageStats"`
	}
	if !cursor.Next(ctx) || cursor.Decode(&out) != nil {
		return nil
	}
	return map[string]interface{}{
		"count":          out.StorageStats.Count,
		"size":           out.StorageStats.Size,
		"storageSize":    out.StorageStats.StorageSize,
		"indexes":        out.StorageStats.NIndexes,
		"totalIndexSize": out.StorageStats.TotalIndexSize,
	}
}

func isInternalCollection(name string) bool {
	return len(name) > 7 && name[:7] == "system."
}

// ManageSchema creates, drops or renames collections and manages indexes.
func (s *SchemaOps) ManageSchema(ctx context.Context, req adapter.SchemaRequest) (*adapter.SchemaResult, error) {
	op := string(dbcapabilities.OpManageSchema)
	if req.Target == "" {
		return nil, adapter.NewValidationError("target", "collection name is required")
	}
	db, err := s.conn.database(req.Namespace)
	if err != nil {
		return nil, err
	}
	coll := db.Collection(req.Target)
	result := &adapter.SchemaResult{Action: req.Action, Target: req.Target}

	switch req.Action {
	case adapter.ActionCreateContainer:
		if err := db.CreateCollection(ctx, req.Target); err != nil {
			return nil, wrapErr(op, err)
		}
		result.Message = fmt.Sprintf("collection %s.%s created", db.Name(), req.Target)

	case adapter.ActionDropContainer:
		if err := coll.Drop(ctx); err != nil {
			return nil, wrapErr(op, err)
		}
		result.Message = fmt.Sprintf("collection %s.%s dropped", db.Name(), req.Target)

	case adapter.ActionRenameContainer:
		if req.NewName == "" {
			return nil, adapter.NewValidationError("newName", "new collection name is required")
		}
		cmd := bson.D{
			{Key: "renameCollection", Value: db.Name() + "." + req.Target},
			{Key: "to", Value: db.Name() + "." + req.NewName},
		}
		if err := s.conn.client.Database("admin").RunCommand(ctx, cmd).Err(); err != nil {
			return nil, wrapErr(op, err)
		}
		result.Message = fmt.Sprintf("collection %s renamed to %s", req.Target, req.NewName)

	case adapter.ActionCreateIndex:
		if req.Index == nil || len(req.Index.Fields) == 0 {
			return nil, adapter.NewValidationError("index", "at least one index field is required")
		}
		idxOpts := options.Index().SetUnique(req.Index.Unique)
		if req.Index.Name != "" {
			idxOpts.SetName(req.Index.Name)
		}
		name, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
			Keys:    sortDoc(req.Index.Fields),
			Options: idxOpts,
		})
		if err != nil {
			return nil, wrapErr(op, err)
		}
		result.Message = fmt.Sprintf("index %s created", name)

	case adapter.ActionDropIndex:
		if req.Index == nil || req.Index.Name == "" {
			return nil, adapter.NewValidationError("index.name", "index name is required")
		}
		if err := coll.Indexes().DropOne(ctx, req.Index.Name); err != nil {
			return nil, wrapErr(op, err)
		}
		result.Message = fmt.Sprintf("index %s dropped", req.Index.Name)

	default:
		return nil, adapter.NewUnsupportedOperationError(kind, op, fmt.Sprintf("schema action %q", req.Action))
	}
	return result, nil
}

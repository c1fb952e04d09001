// Package mongodb implements the MongoDB connector capability. Collections
// are profiled from sampled documents since MongoDB has no declared schema.
package mongodb

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sort"
	"strconv"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
	"go.uber.org/zap"

	"github.com/datasaki/datasaki-engine/pkg/adapters/connector"
	"github.com/datasaki/datasaki-engine/pkg/apperrors"
	"github.com/datasaki/datasaki-engine/pkg/config"
	"github.com/datasaki/datasaki-engine/pkg/models"
)

// Registration describes the mongodb connector type.
func Registration() connector.Registration {
	return connector.Registration{
		Info: connector.Info{
			Type:           "mongodb",
			DisplayName:    "MongoDB",
			Description:    "MongoDB 5+ and Atlas",
			Family:         connector.FamilyDatabase,
			RequiredFields: []string{"host", "database"},
			Writable:       true,
		},
		Open:     Open,
		Validate: validate,
	}
}

func validate(p connector.Params) error {
	if connector.HasValue(p.Details, "port") {
		return connector.ValidatePort(p)
	}
	return nil
}

// URI builds a mongodb:// connection string from params and returns it with
// the database name. An explicit URI must name its database in the path or
// in details.
func URI(p connector.Params) (string, string, error) {
	if p.URI != "" {
		u, err := url.Parse(p.URI)
		if err != nil {
			return "", "", apperrors.NewValidationError("connection_uri", "invalid mongodb uri")
		}
		db := connector.String(p.Details, "database")
		if db == "" && len(u.Path) > 1 {
			db = u.Path[1:]
		}
		if db == "" {
			return "", "", apperrors.MissingField("database")
		}
		return p.URI, db, nil
	}
	port, err := connector.Int(p.Details, "port", 27017)
	if err != nil {
		return "", "", err
	}
	db := connector.String(p.Details, "database")
	u := url.URL{
		Scheme: "mongodb",
		Host:   net.JoinHostPort(config.ResolveHostForDocker(connector.String(p.Details, "host")), strconv.Itoa(port)),
		Path:   "/" + db,
	}
	if user := connector.String(p.Details, "user"); user != "" {
		u.User = url.UserPassword(user, connector.String(p.Details, "password"))
	}
	q := url.Values{}
	q.Set("authSource", connector.StringOr(p.Details, "auth_source", "admin"))
	q.Set("tls", strconv.FormatBool(connector.Bool(p.Details, "tls", false)))
	u.RawQuery = q.Encode()
	return u.String(), db, nil
}

// Capability wraps one client bound to a database.
type Capability struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// Open creates the client. The driver connects lazily.
func Open(_ context.Context, p connector.Params, logger *zap.Logger) (connector.Capability, error) {
	uri, database, err := URI(p)
	if err != nil {
		return nil, err
	}
	opts := options.Client().
		ApplyURI(uri).
		SetConnectTimeout(10 * time.Second).
		SetServerSelectionTimeout(10 * time.Second).
		SetMaxPoolSize(2)
	client, err := mongo.Connect(opts)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	return &Capability{client: client, db: client.Database(database), logger: logger}, nil
}

// TestConnection pings the primary.
func (c *Capability) TestConnection(ctx context.Context) error {
	if err := c.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("error pinging database: %w", err)
	}
	return nil
}

func (c *Capability) find(ctx context.Context, source string, limit int) ([]map[string]any, error) {
	if source == "" {
		return nil, apperrors.MissingField("source_path")
	}
	cursor, err := c.db.Collection(source).Find(ctx, bson.D{}, options.Find().SetLimit(int64(limit)))
	if err != nil {
		return nil, fmt.Errorf("error querying collection %s: %w", source, err)
	}
	defer cursor.Close(ctx) //nolint:errcheck // close on defer is best-effort

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("error decoding documents: %w", err)
	}
	out := make([]map[string]any, len(docs))
	for i, d := range docs {
		out[i] = Normalize(d).(map[string]any)
	}
	return out, nil
}

// ReadSample returns up to limit documents with BSON values converted to
// JSON friendly types.
func (c *Capability) ReadSample(ctx context.Context, source string, limit int) (*models.Sample, error) {
	rows, err := c.find(ctx, source, limit)
	if err != nil {
		return nil, err
	}
	p := connector.NewProfiler([]string{"_id"})
	for _, r := range rows {
		p.AddRow(r)
	}
	cols := make([]string, 0)
	for _, col := range p.Columns() {
		cols = append(cols, col.Name)
	}
	return &models.Sample{Source: source, Columns: cols, Rows: rows, Truncated: len(rows) >= limit}, nil
}

// InferSchema profiles up to limit documents. Row count is the collection
// metadata estimate.
func (c *Capability) InferSchema(ctx context.Context, source string, limit int) (*models.SchemaSnapshot, error) {
	names, err := c.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: source}})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	if len(names) == 0 {
		return nil, apperrors.NotFound("collection", source)
	}
	rows, err := c.find(ctx, source, limit)
	if err != nil {
		return nil, err
	}
	total, err := c.db.Collection(source).EstimatedDocumentCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("count documents: %w", err)
	}

	p := connector.NewProfiler([]string{"_id"})
	for _, r := range rows {
		p.AddRow(r)
	}
	snap := p.CollectionSnapshot(models.SchemaKindCollection, total, limit)
	snap.PrimaryKeys = []string{"_id"}
	if id := snap.Column("_id"); id != nil {
		id.PrimaryKey = true
	}
	return snap, nil
}

// WriteRows inserts rows as documents. When a schema is supplied and the
// collection is absent it is created first with a validator built from the
// schema; without one the server creates the collection on first insert.
func (c *Capability) WriteRows(ctx context.Context, req connector.WriteRequest) (*models.WriteResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	existing, err := c.db.ListCollectionNames(ctx, bson.D{{Key: "name", Value: req.Table}})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	created := len(existing) == 0
	if created && len(req.Schema) > 0 {
		opts := options.CreateCollection().
			SetValidator(Validator(req.Schema)).
			SetValidationLevel("moderate")
		if err := c.db.CreateCollection(ctx, req.Table, opts); err != nil && !isNamespaceExists(err) {
			return nil, fmt.Errorf("create collection: %w", err)
		}
	}
	docs := make([]any, len(req.Rows))
	for i, row := range req.Rows {
		doc := make(bson.M, len(row))
		for k, v := range row {
			doc[k] = v
		}
		docs[i] = doc
	}
	res, err := c.db.Collection(req.Table).InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("error inserting documents: %w", err)
	}
	c.logger.Info("Inserted documents",
		zap.String("collection", req.Table),
		zap.Int("count", len(res.InsertedIDs)))
	return &models.WriteResult{Table: req.Table, RowsWritten: int64(len(res.InsertedIDs)), Created: created}, nil
}

// bsonTypes lists the BSON types accepted for each portable column type.
// Numeric types overlap because JSON request bodies decode every number as
// a double.
var bsonTypes = map[string]bson.A{
	models.ColumnTypeInteger:   {"int", "long", "double", "null"},
	models.ColumnTypeFloat:     {"double", "int", "long", "decimal", "null"},
	models.ColumnTypeBoolean:   {"bool", "null"},
	models.ColumnTypeDate:      {"date", "string", "null"},
	models.ColumnTypeTimestamp: {"date", "string", "null"},
	models.ColumnTypeString:    {"string", "null"},
}

// Validator builds a $jsonSchema collection validator from declared columns.
func Validator(schema []models.ColumnDefinition) bson.M {
	props := bson.M{}
	for _, col := range schema {
		if types, ok := bsonTypes[connector.GenericType(col.Type)]; ok {
			props[col.Name] = bson.M{"bsonType": types}
		}
	}
	return bson.M{"$jsonSchema": bson.M{
		"bsonType":   "object",
		"properties": props,
	}}
}

// isNamespaceExists reports a concurrent create of the same collection.
func isNamespaceExists(err error) bool {
	var cmdErr mongo.CommandError
	return errors.As(err, &cmdErr) && cmdErr.HasErrorCode(48)
}

// ListSources lists collections in the database.
func (c *Capability) ListSources(ctx context.Context) ([]models.SourceEntry, error) {
	names, err := c.db.ListCollectionNames(ctx, bson.D{})
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	sort.Strings(names)
	out := make([]models.SourceEntry, 0, len(names))
	for _, n := range names {
		out = append(out, models.SourceEntry{Name: n, Path: n})
	}
	return out, nil
}

// Close disconnects the client.
func (c *Capability) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return c.client.Disconnect(ctx)
}

// Normalize converts BSON values to plain Go values suitable for JSON and
// profiling.
func Normalize(v any) any {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = Normalize(val)
		}
		return out
	case bson.D:
		out := make(map[string]any, len(t))
		for _, e := range t {
			out[e.Key] = Normalize(e.Value)
		}
		return out
	case bson.A:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = Normalize(val)
		}
		return out
	case bson.ObjectID:
		return t.Hex()
	case bson.DateTime:
		return t.Time().UTC()
	case bson.Decimal128:
		return t.String()
	case bson.Binary:
		return t.Data
	default:
		return v
	}
}

var (
	_ connector.Capability   = (*Capability)(nil)
	_ connector.SourceLister = (*Capability)(nil)
)

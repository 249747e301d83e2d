package internal

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
)

// MongoStore maps collections one to one onto a MongoDB database.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

// NewMongoStore connects to cfg.URI and pings the primary.
func NewMongoStore(ctx context.Context, cfg modepress.MongoConfig) (*MongoStore, error) {
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts := options.Client().ApplyURI(cfg.URI).SetConnectTimeout(timeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("mongo ping failed: %w", err)
	}
	zap.S().Infow("connected to mongo", "database", cfg.Database)
	return NewMongoStoreFromClient(client, cfg.Database), nil
}

func NewMongoStoreFromClient(client *mongo.Client, database string) *MongoStore {
	return &MongoStore{client: client, db: client.Database(database)}
}

func (s *MongoStore) Collection(name string) modepress.Collection {
	return &mongoCollection{coll: s.db.Collection(name), name: name}
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// EnsureIndexes creates one index per field, named after the field so that
// duplicate key errors can be traced back to it.
func (s *MongoStore) EnsureIndexes(ctx context.Context, collection string, unique, indexable []string) error {
	models := indexModels(unique, indexable)
	if len(models) == 0 {
		return nil
	}
	if _, err := s.db.Collection(collection).Indexes().CreateMany(ctx, models); err != nil {
		return modepress.NewStoreError("create indexes", err).WithCollection(collection)
	}
	return nil
}

func indexModels(unique, indexable []string) []mongo.IndexModel {
	isUnique := make(map[string]bool, len(unique))
	for _, f := range unique {
		isUnique[f] = true
	}
	seen := make(map[string]bool)
	var models []mongo.IndexModel
	for _, f := range append(append([]string(nil), unique...), indexable...) {
		if seen[f] {
			continue
		}
		seen[f] = true
		opts := options.Index().SetName(f)
		if isUnique[f] {
			// Blank and missing values do not collide.
			opts.SetUnique(true).SetPartialFilterExpression(bson.D{{Key: f, Value: bson.D{{Key: "$gt", Value: ""}}}})
		}
		models = append(models, mongo.IndexModel{Keys: bson.D{{Key: f, Value: 1}}, Options: opts})
	}
	return models
}

type mongoCollection struct {
	coll *mongo.Collection
	name string
}

func (c *mongoCollection) Find(ctx context.Context, cond modepress.Condition, opts modepress.FindOptions) (*modepress.FindPage, error) {
	filter, err := mongoFilter(cond)
	if err != nil {
		return nil, err
	}

	total, err := c.coll.CountDocuments(ctx, filter)
	if err != nil {
		return nil, modepress.NewStoreError("count", err).WithCollection(c.name)
	}

	findOpts := options.Find().SetSort(mongoSort(opts.Sort))
	if opts.Skip > 0 {
		findOpts.SetSkip(opts.Skip)
	}
	if opts.Limit > 0 {
		findOpts.SetLimit(opts.Limit)
	}

	cursor, err := c.coll.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, modepress.NewStoreError("find", err).WithCollection(c.name)
	}
	var raw []bson.M
	if err := cursor.All(ctx, &raw); err != nil {
		return nil, modepress.NewStoreError("decode", err).WithCollection(c.name)
	}

	items := make([]modepress.Document, len(raw))
	for i, doc := range raw {
		items[i] = modepress.Document(normalizeMap(doc))
	}
	return &modepress.FindPage{Items: items, Total: total}, nil
}

func (c *mongoCollection) InsertOne(ctx context.Context, doc modepress.Document) (modepress.Document, error) {
	stored := make(modepress.Document, len(doc)+1)
	for k, v := range doc {
		stored[k] = v
	}
	id, ok := stored.ID()
	if !ok {
		id = modepress.NewID()
	}
	stored[modepress.FieldID] = id

	if _, err := c.coll.InsertOne(ctx, bson.M(stored)); err != nil {
		return nil, c.writeError("insert", err, stored)
	}
	return normalizeDocument(stored), nil
}

func (c *mongoCollection) UpdateOne(ctx context.Context, cond modepress.Condition, patch modepress.Patch) error {
	if patch.IsEmpty() {
		return nil
	}
	filter, err := mongoFilter(cond)
	if err != nil {
		return err
	}
	if _, err := c.coll.UpdateOne(ctx, filter, mongoUpdate(patch)); err != nil {
		return c.writeError("update", err, patch.Set)
	}
	return nil
}

func (c *mongoCollection) DeleteMany(ctx context.Context, cond modepress.Condition) (int64, error) {
	filter, err := mongoFilter(cond)
	if err != nil {
		return 0, err
	}
	res, err := c.coll.DeleteMany(ctx, filter)
	if err != nil {
		return 0, modepress.NewStoreError("delete", err).WithCollection(c.name)
	}
	return res.DeletedCount, nil
}

func (c *mongoCollection) writeError(op string, err error, values map[string]any) error {
	if mongo.IsDuplicateKeyError(err) {
		field := duplicateKeyField(err)
		return modepress.NewDuplicateEntryError(c.name, field, values[field]).WithCause(err)
	}
	return modepress.NewStoreError(op, err).WithCollection(c.name)
}

var duplicateIndexPattern = regexp.MustCompile(`index: (\S+)`)

// duplicateKeyField recovers the field from the index named in a duplicate
// key error.
func duplicateKeyField(err error) string {
	m := duplicateIndexPattern.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

func mongoSort(fields []modepress.SortField) bson.D {
	if len(fields) == 0 {
		return bson.D{{Key: modepress.FieldID, Value: 1}}
	}
	out := make(bson.D, 0, len(fields))
	for _, sf := range fields {
		order := 1
		if sf.Order == modepress.SortDesc {
			order = -1
		}
		out = append(out, bson.E{Key: sf.Field, Value: order})
	}
	return out
}

func mongoUpdate(patch modepress.Patch) bson.D {
	var update bson.D
	if len(patch.Set) > 0 {
		set := make(bson.D, 0, len(patch.Set))
		for _, k := range sortedKeys(patch.Set) {
			set = append(set, bson.E{Key: k, Value: patch.Set[k]})
		}
		update = append(update, bson.E{Key: "$set", Value: set})
	}
	if len(patch.Pull) > 0 {
		pull := make(bson.D, 0, len(patch.Pull))
		for _, k := range sortedKeys(patch.Pull) {
			pull = append(pull, bson.E{Key: k, Value: mongoPullValue(patch.Pull[k])})
		}
		update = append(update, bson.E{Key: "$pull", Value: pull})
	}
	return update
}

// mongoPullValue turns a sub-document matcher into a field-wise condition
// so that extra keys on the stored element do not prevent the match.
func mongoPullValue(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	out := make(bson.D, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, bson.E{Key: k, Value: m[k]})
	}
	return out
}

// mongoFilter translates a condition tree into a filter document.
func mongoFilter(cond modepress.Condition) (bson.D, error) {
	switch c := cond.(type) {
	case nil:
		return bson.D{}, nil
	case *modepress.CompositeCondition:
		if c == nil || len(c.Conditions) == 0 {
			return bson.D{}, nil
		}
		children := make(bson.A, 0, len(c.Conditions))
		for _, child := range c.Conditions {
			f, err := mongoFilter(child)
			if err != nil {
				return nil, err
			}
			children = append(children, f)
		}
		op := "$and"
		if c.Logic == modepress.LogicOr {
			op = "$or"
		}
		return bson.D{{Key: op, Value: children}}, nil
	case *modepress.FieldCondition:
		if c == nil {
			return bson.D{}, nil
		}
		return mongoFieldFilter(c)
	}
	return nil, fmt.Errorf("unsupported condition type %T", cond)
}

func mongoFieldFilter(c *modepress.FieldCondition) (bson.D, error) {
	switch c.Op {
	case modepress.OpEq, "":
		return bson.D{{Key: c.Field, Value: c.Value}}, nil
	case modepress.OpNe:
		return bson.D{{Key: c.Field, Value: bson.D{{Key: "$ne", Value: c.Value}}}}, nil
	case modepress.OpIn:
		values, ok := normalizeValue(c.Value).([]any)
		if !ok {
			return nil, fmt.Errorf("operator 'in' on '%s' requires an array value", c.Field)
		}
		return bson.D{{Key: c.Field, Value: bson.D{{Key: "$in", Value: bson.A(values)}}}}, nil
	case modepress.OpRegex, modepress.OpIRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return nil, fmt.Errorf("operator '%s' on '%s' requires a string pattern", c.Op, c.Field)
		}
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("invalid pattern for '%s': %w", c.Field, err)
		}
		regex := primitive.Regex{Pattern: pattern}
		if c.Op == modepress.OpIRegex {
			regex.Options = "i"
		}
		return bson.D{{Key: c.Field, Value: regex}}, nil
	case modepress.OpExists:
		want, _ := c.Value.(bool)
		return bson.D{{Key: c.Field, Value: bson.D{{Key: "$exists", Value: want}}}}, nil
	}
	return nil, errors.New("unsupported operator: " + string(c.Op))
}

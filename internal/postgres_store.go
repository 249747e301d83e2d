package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
)

type postgresPool interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore keeps every collection in one JSONB table keyed by
// (collection, id). A bigserial column preserves insertion order. Ids are
// stored in their hex form.
type PostgresStore struct {
	pool  postgresPool
	table string

	mu          sync.RWMutex
	constraints map[string]string
}

func NewPostgresStore(pool postgresPool, table string) *PostgresStore {
	if table == "" {
		table = "documents"
	}
	return &PostgresStore{pool: pool, table: table, constraints: make(map[string]string)}
}

func (s *PostgresStore) Collection(name string) modepress.Collection {
	return &postgresCollection{store: s, name: name}
}

func (s *PostgresStore) Close(context.Context) error {
	if closer, ok := s.pool.(interface{ Close() }); ok {
		closer.Close()
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if pinger, ok := s.pool.(interface{ Ping(context.Context) error }); ok {
		return pinger.Ping(ctx)
	}
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return err
}

// EnsureTable creates the document table and its containment index.
func (s *PostgresStore) EnsureTable(ctx context.Context) error {
	table := sanitizeIdentifier(s.table)
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	collection text NOT NULL,
	id text NOT NULL,
	seq bigserial NOT NULL,
	doc jsonb NOT NULL,
	PRIMARY KEY (collection, id)
)`, table),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING gin (doc jsonb_path_ops)",
			sanitizeIdentifier(s.table+"_doc_gin"), table),
	}
	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return modepress.NewStoreError("ensure table", err)
		}
	}
	return nil
}

// EnsureIndexes creates partial expression indexes restricted to one
// collection. Unique indexes skip blank values.
func (s *PostgresStore) EnsureIndexes(ctx context.Context, collection string, unique, indexable []string) error {
	table := sanitizeIdentifier(s.table)
	isUnique := make(map[string]bool, len(unique))
	for _, f := range unique {
		isUnique[f] = true
	}

	seen := make(map[string]bool)
	for _, field := range append(append([]string(nil), unique...), indexable...) {
		if seen[field] {
			continue
		}
		seen[field] = true

		var stmt string
		if isUnique[field] {
			name := uniqueIndexName(collection, field)
			stmt = fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s ((doc->>%s)) WHERE collection = %s AND doc->>%s <> ''",
				sanitizeIdentifier(name), table, quoteLiteral(field), quoteLiteral(collection), quoteLiteral(field))
			s.mu.Lock()
			s.constraints[name] = field
			s.mu.Unlock()
		} else {
			stmt = fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s ((doc->%s)) WHERE collection = %s",
				sanitizeIdentifier("ix_"+collection+"_"+field), table, quoteLiteral(field), quoteLiteral(collection))
		}
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return modepress.NewStoreError("create index", err).WithCollection(collection).WithField(field)
		}
	}
	return nil
}

func uniqueIndexName(collection, field string) string {
	return "ux_" + collection + "_" + field
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// constraintField maps a violated constraint back to the field it guards.
func (s *PostgresStore) constraintField(name string) string {
	s.mu.RLock()
	field, ok := s.constraints[name]
	s.mu.RUnlock()
	if ok {
		return field
	}
	if strings.HasSuffix(name, "_pkey") {
		return modepress.FieldID
	}
	return ""
}

type postgresCollection struct {
	store *PostgresStore
	name  string
}

func (c *postgresCollection) table() string {
	return sanitizeIdentifier(c.store.table)
}

func (c *postgresCollection) Find(ctx context.Context, cond modepress.Condition, opts modepress.FindOptions) (*modepress.FindPage, error) {
	b := &sqlBuilder{}
	b.arg(c.name)
	where, err := b.condition(cond)
	if err != nil {
		return nil, err
	}

	countSQL := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE collection = $1 AND %s", c.table(), where)
	var total int64
	if err := c.store.pool.QueryRow(ctx, countSQL, b.args...).Scan(&total); err != nil {
		return nil, modepress.NewStoreError("count", err).WithCollection(c.name)
	}

	query := fmt.Sprintf("SELECT id, doc FROM %s WHERE collection = $1 AND %s ORDER BY %s",
		c.table(), where, b.orderBy(opts.Sort))
	if opts.Skip > 0 {
		query += " OFFSET " + b.arg(opts.Skip)
	}
	if opts.Limit > 0 {
		query += " LIMIT " + b.arg(opts.Limit)
	}

	zap.S().Debugw("postgres find", "collection", c.name, "sql", query)
	rows, err := c.store.pool.Query(ctx, query, b.args...)
	if err != nil {
		return nil, modepress.NewStoreError("find", err).WithCollection(c.name)
	}
	defer rows.Close()

	var items []modepress.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, modepress.NewStoreError("scan", err).WithCollection(c.name)
		}
		doc, err := decodeRow(id, raw)
		if err != nil {
			return nil, modepress.NewStoreError("decode", err).WithCollection(c.name)
		}
		items = append(items, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, modepress.NewStoreError("find", err).WithCollection(c.name)
	}
	return &modepress.FindPage{Items: items, Total: total}, nil
}

func decodeRow(id string, raw []byte) (modepress.Document, error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, err
	}
	doc := modepress.Document(normalizeMap(body))
	if parsed, err := modepress.ParseID(id); err == nil {
		doc[modepress.FieldID] = parsed
	} else {
		doc[modepress.FieldID] = id
	}
	return doc, nil
}

func (c *postgresCollection) InsertOne(ctx context.Context, doc modepress.Document) (modepress.Document, error) {
	stored := normalizeDocument(doc)
	id, ok := stored.ID()
	if !ok {
		id = modepress.NewID()
	}
	delete(stored, modepress.FieldID)

	body, err := json.Marshal(stored)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}

	query := fmt.Sprintf("INSERT INTO %s (collection, id, doc) VALUES ($1, $2, $3::jsonb)", c.table())
	if _, err := c.store.pool.Exec(ctx, query, c.name, id.Hex(), string(body)); err != nil {
		return nil, c.writeError("insert", err, stored, id)
	}
	stored[modepress.FieldID] = id
	return stored, nil
}

func (c *postgresCollection) UpdateOne(ctx context.Context, cond modepress.Condition, patch modepress.Patch) error {
	if patch.IsEmpty() {
		return nil
	}
	b := &sqlBuilder{}
	b.arg(c.name)
	where, err := b.condition(cond)
	if err != nil {
		return err
	}

	expr := "doc"
	if len(patch.Set) > 0 {
		set := make(map[string]any, len(patch.Set))
		for k, v := range patch.Set {
			if k != modepress.FieldID {
				set[k] = v
			}
		}
		body, err := json.Marshal(set)
		if err != nil {
			return fmt.Errorf("encode patch: %w", err)
		}
		expr = fmt.Sprintf("(%s || %s::jsonb)", expr, b.arg(string(body)))
	}
	for _, field := range sortedKeys(patch.Pull) {
		value, err := json.Marshal(patch.Pull[field])
		if err != nil {
			return fmt.Errorf("encode pull: %w", err)
		}
		key := b.arg(field)
		expr = fmt.Sprintf(
			"jsonb_set(%s, ARRAY[%s::text], COALESCE((SELECT jsonb_agg(e) FROM jsonb_array_elements(CASE WHEN jsonb_typeof(doc->%s::text) = 'array' THEN doc->%s::text ELSE '[]'::jsonb END) AS e WHERE NOT (e @> %s::jsonb)), '[]'::jsonb))",
			expr, key, key, key, b.arg(string(value)))
	}

	query := fmt.Sprintf(
		"UPDATE %s SET doc = %s WHERE collection = $1 AND id = (SELECT id FROM %s WHERE collection = $1 AND %s ORDER BY seq LIMIT 1)",
		c.table(), expr, c.table(), where)
	if _, err := c.store.pool.Exec(ctx, query, b.args...); err != nil {
		return c.writeError("update", err, patch.Set, modepress.NilID)
	}
	return nil
}

func (c *postgresCollection) DeleteMany(ctx context.Context, cond modepress.Condition) (int64, error) {
	b := &sqlBuilder{}
	b.arg(c.name)
	where, err := b.condition(cond)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE collection = $1 AND %s", c.table(), where)
	tag, err := c.store.pool.Exec(ctx, query, b.args...)
	if err != nil {
		return 0, modepress.NewStoreError("delete", err).WithCollection(c.name)
	}
	return tag.RowsAffected(), nil
}

func (c *postgresCollection) writeError(op string, err error, values map[string]any, id modepress.ID) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		field := c.store.constraintField(pgErr.ConstraintName)
		var value any = values[field]
		if field == modepress.FieldID {
			value = id.Hex()
		}
		return modepress.NewDuplicateEntryError(c.name, field, value).WithCause(err)
	}
	return modepress.NewStoreError(op, err).WithCollection(c.name)
}

// sqlBuilder renders conditions into a WHERE fragment with positional args.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return fmt.Sprintf("$%d", len(b.args))
}

func (b *sqlBuilder) condition(cond modepress.Condition) (string, error) {
	switch c := cond.(type) {
	case nil:
		return "TRUE", nil
	case *modepress.CompositeCondition:
		if c == nil || len(c.Conditions) == 0 {
			return "TRUE", nil
		}
		parts := make([]string, 0, len(c.Conditions))
		for _, child := range c.Conditions {
			part, err := b.condition(child)
			if err != nil {
				return "", err
			}
			parts = append(parts, part)
		}
		joiner := " AND "
		if c.Logic == modepress.LogicOr {
			joiner = " OR "
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	case *modepress.FieldCondition:
		if c == nil {
			return "TRUE", nil
		}
		return b.field(c)
	}
	return "", fmt.Errorf("unsupported condition type %T", cond)
}

func (b *sqlBuilder) field(c *modepress.FieldCondition) (string, error) {
	if c.Field == modepress.FieldID {
		return b.idField(c)
	}

	switch c.Op {
	case modepress.OpEq, "":
		return b.eq(c.Field, c.Value)
	case modepress.OpNe:
		eq, err := b.eq(c.Field, c.Value)
		if err != nil {
			return "", err
		}
		return "NOT " + eq, nil
	case modepress.OpIn:
		values, ok := normalizeValue(c.Value).([]any)
		if !ok {
			return "", fmt.Errorf("operator 'in' on '%s' requires an array value", c.Field)
		}
		if len(values) == 0 {
			return "FALSE", nil
		}
		parts := make([]string, 0, len(values))
		for _, v := range values {
			eq, err := b.eq(c.Field, v)
			if err != nil {
				return "", err
			}
			parts = append(parts, eq)
		}
		return "(" + strings.Join(parts, " OR ") + ")", nil
	case modepress.OpRegex, modepress.OpIRegex:
		pattern, ok := c.Value.(string)
		if !ok {
			return "", fmt.Errorf("operator '%s' on '%s' requires a string pattern", c.Op, c.Field)
		}
		op := "~"
		if c.Op == modepress.OpIRegex {
			op = "~*"
		}
		return fmt.Sprintf("EXISTS (SELECT 1 FROM jsonb_path_query(doc, %s::jsonpath) AS e WHERE jsonb_typeof(e) = 'string' AND e #>> '{}' %s %s)",
			b.arg(jsonPath(c.Field)+"[*]"), op, b.arg(pattern)), nil
	case modepress.OpExists:
		want, _ := c.Value.(bool)
		expr := fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath)", b.arg(jsonPath(c.Field)))
		if !want {
			return "NOT " + expr, nil
		}
		return expr, nil
	}
	return "", fmt.Errorf("unsupported operator: %s", c.Op)
}

// eq matches a path in lax mode, so arrays along the path are unwrapped and
// an array field matches any equal element. A nil value matches a missing
// or null path.
func (b *sqlBuilder) eq(field string, value any) (string, error) {
	if value == nil {
		return fmt.Sprintf("NOT jsonb_path_exists(doc, %s::jsonpath)", b.arg(jsonPath(field)+" ? (@ != null)")), nil
	}
	vars, err := json.Marshal(map[string]any{"v": value})
	if err != nil {
		return "", fmt.Errorf("encode value for '%s': %w", field, err)
	}
	return fmt.Sprintf("jsonb_path_exists(doc, %s::jsonpath, %s::jsonb)",
		b.arg(jsonPath(field)+" ? (@ == $v)"), b.arg(string(vars))), nil
}

func (b *sqlBuilder) idField(c *modepress.FieldCondition) (string, error) {
	switch c.Op {
	case modepress.OpEq, "", modepress.OpNe:
		id, ok := toID(c.Value)
		expr := "FALSE"
		if ok {
			expr = "id = " + b.arg(id.Hex())
		}
		if c.Op == modepress.OpNe {
			return "NOT (" + expr + ")", nil
		}
		return expr, nil
	case modepress.OpIn:
		values, ok := normalizeValue(c.Value).([]any)
		if !ok {
			return "", fmt.Errorf("operator 'in' on '%s' requires an array value", c.Field)
		}
		hexes := make([]string, 0, len(values))
		for _, v := range values {
			if id, ok := toID(v); ok {
				hexes = append(hexes, id.Hex())
			}
		}
		if len(hexes) == 0 {
			return "FALSE", nil
		}
		return "id = ANY(" + b.arg(hexes) + ")", nil
	case modepress.OpExists:
		want, _ := c.Value.(bool)
		if want {
			return "TRUE", nil
		}
		return "FALSE", nil
	}
	return "", fmt.Errorf("unsupported operator on %s: %s", modepress.FieldID, c.Op)
}

func (b *sqlBuilder) orderBy(fields []modepress.SortField) string {
	parts := make([]string, 0, len(fields)+1)
	for _, sf := range fields {
		dir := "ASC"
		if sf.Order == modepress.SortDesc {
			dir = "DESC"
		}
		if sf.Field == modepress.FieldID {
			parts = append(parts, "id "+dir)
			continue
		}
		parts = append(parts, fmt.Sprintf("doc #> %s::text[] %s", b.arg(strings.Split(sf.Field, ".")), dir))
	}
	parts = append(parts, "seq ASC")
	return strings.Join(parts, ", ")
}

// jsonPath renders a dotted field as a quoted SQL/JSON path.
func jsonPath(field string) string {
	var sb strings.Builder
	sb.WriteString("$")
	for _, part := range strings.Split(field, ".") {
		quoted, _ := json.Marshal(part)
		sb.WriteString(".")
		sb.Write(quoted)
	}
	return sb.String()
}


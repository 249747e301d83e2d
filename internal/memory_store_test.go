package internal

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/modepress"
)

func seedMemory(t *testing.T, docs ...modepress.Document) modepress.Collection {
	t.Helper()
	coll := NewMemoryStore().Collection("items")
	for _, doc := range docs {
		_, err := coll.InsertOne(context.Background(), doc)
		require.NoError(t, err)
	}
	return coll
}

func TestMemoryStore_InsertCopiesAndGeneratesID(t *testing.T) {
	ctx := context.Background()
	coll := seedMemory(t)

	tags := []string{"a"}
	stored, err := coll.InsertOne(ctx, modepress.Document{"tags": tags})
	require.NoError(t, err)
	id, ok := stored.ID()
	require.True(t, ok)
	assert.Equal(t, []any{"a"}, stored["tags"])

	tags[0] = "mutated"
	page, err := coll.Find(ctx, modepress.ByID(id), modepress.FindOptions{})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, []any{"a"}, page.Items[0]["tags"])

	page.Items[0]["tags"] = "changed by caller"
	page, err = coll.Find(ctx, modepress.ByID(id), modepress.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, []any{"a"}, page.Items[0]["tags"])

	_, err = coll.InsertOne(ctx, modepress.Document{modepress.FieldID: id})
	assert.True(t, modepress.IsDuplicateEntryError(err))
}

func TestMemoryStore_Matching(t *testing.T) {
	ctx := context.Background()
	ref := modepress.NewID()
	coll := seedMemory(t,
		modepress.Document{"name": "alpha", "n": 1, "tags": []string{"x", "y"}, "deps": []any{map[string]any{"collection": "users", "_id": ref}}},
		modepress.Document{"name": "Beta", "n": 2.0, "tags": []string{"y"}, "parent": nil},
		modepress.Document{"name": "gamma", "n": int64(3)},
	)

	tests := []struct {
		name string
		cond modepress.Condition
		want []string
	}{
		{"nil matches everything", nil, []string{"alpha", "Beta", "gamma"}},
		{"empty composite matches everything", modepress.And(), []string{"alpha", "Beta", "gamma"}},
		{"numbers compare by value", modepress.Eq("n", 2), []string{"Beta"}},
		{"array field matches element", modepress.Eq("tags", "y"), []string{"alpha", "Beta"}},
		{"array field matches whole array", modepress.Eq("tags", []string{"x", "y"}), []string{"alpha"}},
		{"ne", modepress.Ne("tags", "x"), []string{"Beta", "gamma"}},
		{"in", modepress.In("n", 1, 3), []string{"alpha", "gamma"}},
		{"case sensitive regex", modepress.Regex("name", "^b", false), nil},
		{"case insensitive regex", modepress.Regex("name", "^b", true), []string{"Beta"}},
		{"regex over arrays", modepress.Regex("tags", "^x$", false), []string{"alpha"}},
		{"nil matches null and missing", modepress.Eq("parent", nil), []string{"alpha", "Beta", "gamma"}},
		{"exists", modepress.Exists("parent", true), []string{"Beta"}},
		{"not exists", modepress.Exists("tags", false), []string{"gamma"}},
		{"dotted path through array", modepress.Eq("deps._id", ref), []string{"alpha"}},
		{"dotted path with hex", modepress.Eq("deps._id", ref.Hex()), []string{"alpha"}},
		{"or", modepress.Or(modepress.Eq("n", 1), modepress.Eq("name", "gamma")), []string{"alpha", "gamma"}},
		{"and", modepress.And(modepress.Eq("tags", "y"), modepress.Ne("n", 1)), []string{"Beta"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := coll.Find(ctx, tt.cond, modepress.FindOptions{})
			require.NoError(t, err)
			var names []string
			for _, doc := range page.Items {
				names = append(names, doc["name"].(string))
			}
			assert.Equal(t, tt.want, names)
			assert.Equal(t, int64(len(tt.want)), page.Total)
		})
	}

	_, err := coll.Find(ctx, modepress.Regex("name", "(", false), modepress.FindOptions{})
	assert.Error(t, err)
	_, err = coll.Find(ctx, &modepress.FieldCondition{Field: "n", Op: "gt", Value: 1}, modepress.FindOptions{})
	assert.Error(t, err)
}

func TestMemoryStore_SortSkipLimit(t *testing.T) {
	ctx := context.Background()
	coll := seedMemory(t,
		modepress.Document{"name": "c", "rank": 2},
		modepress.Document{"name": "a", "rank": 1},
		modepress.Document{"name": "b", "rank": 2},
		modepress.Document{"name": "d"},
	)

	page, err := coll.Find(ctx, nil, modepress.FindOptions{
		Sort: []modepress.SortField{{Field: "rank", Order: modepress.SortDesc}, {Field: "name"}},
	})
	require.NoError(t, err)
	var names []string
	for _, doc := range page.Items {
		names = append(names, doc["name"].(string))
	}
	assert.Equal(t, []string{"b", "c", "a", "d"}, names)

	page, err = coll.Find(ctx, nil, modepress.FindOptions{Skip: 1, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "a", page.Items[0]["name"])

	page, err = coll.Find(ctx, nil, modepress.FindOptions{Skip: 10})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, int64(4), page.Total)
}

func TestMemoryStore_UpdateOne(t *testing.T) {
	ctx := context.Background()
	user := modepress.NewID()
	other := modepress.NewID()
	coll := seedMemory(t,
		modepress.Document{"name": "a", "ids": []any{user, other}, "deps": []any{
			map[string]any{"collection": "users", "_id": user, "propertyName": "ids"},
			map[string]any{"collection": "users", "_id": other, "propertyName": "ids"},
		}},
		modepress.Document{"name": "a", "ids": []any{user}},
	)

	err := coll.UpdateOne(ctx, modepress.Eq("name", "a"), modepress.Patch{
		Set: map[string]any{"editor": nil, "count": 3},
		Pull: map[string]any{
			"ids":     user,
			"deps":    map[string]any{"collection": "users", "_id": user},
			"missing": user,
		},
	})
	require.NoError(t, err)

	page, err := coll.Find(ctx, nil, modepress.FindOptions{})
	require.NoError(t, err)
	first, second := page.Items[0], page.Items[1]
	assert.Equal(t, []any{other}, first["ids"])
	assert.Len(t, first["deps"], 1)
	assert.Contains(t, first, "editor")
	assert.Nil(t, first["editor"])
	assert.Equal(t, int64(3), first["count"])
	assert.NotContains(t, first, "missing")
	assert.Equal(t, []any{user}, second["ids"], "only the first match is updated")

	assert.NoError(t, coll.UpdateOne(ctx, modepress.Eq("name", "nobody"), modepress.Patch{Set: map[string]any{"x": 1}}))
	assert.NoError(t, NewMemoryStore().Collection("empty").UpdateOne(ctx, nil, modepress.Patch{Set: map[string]any{"x": 1}}))
}

func TestMemoryStore_UniqueIndexes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureIndexes(ctx, "users", []string{"username"}, nil))
	coll := store.Collection("users")

	_, err := coll.InsertOne(ctx, modepress.Document{"username": "ann"})
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, modepress.Document{"username": ""})
	require.NoError(t, err)
	_, err = coll.InsertOne(ctx, modepress.Document{"username": ""})
	require.NoError(t, err, "blank values do not collide")

	_, err = coll.InsertOne(ctx, modepress.Document{"username": "ann"})
	require.Error(t, err)
	assert.True(t, modepress.IsDuplicateEntryError(err))

	bob, err := coll.InsertOne(ctx, modepress.Document{"username": "bob"})
	require.NoError(t, err)
	id, _ := bob.ID()

	err = coll.UpdateOne(ctx, modepress.ByID(id), modepress.Patch{Set: map[string]any{"username": "bob"}})
	assert.NoError(t, err)
	err = coll.UpdateOne(ctx, modepress.ByID(id), modepress.Patch{Set: map[string]any{"username": "ann"}})
	assert.True(t, modepress.IsDuplicateEntryError(err))
}

func TestMemoryStore_DeleteMany(t *testing.T) {
	ctx := context.Background()
	a, b := modepress.NewID(), modepress.NewID()
	coll := seedMemory(t,
		modepress.Document{modepress.FieldID: a},
		modepress.Document{modepress.FieldID: b},
		modepress.Document{},
	)

	n, err := coll.DeleteMany(ctx, modepress.ByIDs([]modepress.ID{a, b, modepress.NewID()}))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	page, err := coll.Find(ctx, nil, modepress.FindOptions{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), page.Total)

	n, err = NewMemoryStore().Collection("none").DeleteMany(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMemoryStore_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	coll := NewMemoryStore().Collection("items")

	_, err := coll.Find(ctx, nil, modepress.FindOptions{})
	assert.ErrorIs(t, err, context.Canceled)
	_, err = coll.InsertOne(ctx, modepress.Document{})
	assert.ErrorIs(t, err, context.Canceled)
}

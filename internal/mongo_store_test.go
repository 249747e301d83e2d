package internal

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/lychee-technology/modepress"
)

func TestMongoFilter(t *testing.T) {
	id := modepress.NewID()

	tests := []struct {
		name string
		cond modepress.Condition
		want bson.D
	}{
		{"nil", nil, bson.D{}},
		{"empty composite", modepress.Or(), bson.D{}},
		{"eq", modepress.Eq("title", "x"), bson.D{{Key: "title", Value: "x"}}},
		{"by id", modepress.ByID(id), bson.D{{Key: "_id", Value: id}}},
		{"ne", modepress.Ne("n", 2), bson.D{{Key: "n", Value: bson.D{{Key: "$ne", Value: 2}}}}},
		{"in", modepress.In("n", 1, 2), bson.D{{Key: "n", Value: bson.D{{Key: "$in", Value: bson.A{int64(1), int64(2)}}}}}},
		{"iregex", modepress.Regex("title", "^a", true),
			bson.D{{Key: "title", Value: primitive.Regex{Pattern: "^a", Options: "i"}}}},
		{"regex", modepress.Regex("title", "^a", false),
			bson.D{{Key: "title", Value: primitive.Regex{Pattern: "^a"}}}},
		{"exists", modepress.Exists("parent", false), bson.D{{Key: "parent", Value: bson.D{{Key: "$exists", Value: false}}}}},
		{"composite", modepress.And(modepress.Eq("a", 1), modepress.Or(modepress.Eq("b", 2), modepress.Eq("c", 3))),
			bson.D{{Key: "$and", Value: bson.A{
				bson.D{{Key: "a", Value: 1}},
				bson.D{{Key: "$or", Value: bson.A{
					bson.D{{Key: "b", Value: 2}},
					bson.D{{Key: "c", Value: 3}},
				}}},
			}}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := mongoFilter(tt.cond)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := mongoFilter(modepress.Regex("title", "(", false))
	assert.Error(t, err)
	_, err = mongoFilter(&modepress.FieldCondition{Field: "n", Op: modepress.OpIn, Value: 3})
	assert.Error(t, err)
	_, err = mongoFilter(&modepress.FieldCondition{Field: "n", Op: "gt", Value: 3})
	assert.Error(t, err)
}

func TestMongoSort(t *testing.T) {
	assert.Equal(t, bson.D{{Key: "_id", Value: 1}}, mongoSort(nil))
	assert.Equal(t, bson.D{{Key: "title", Value: -1}, {Key: "n", Value: 1}}, mongoSort([]modepress.SortField{
		{Field: "title", Order: modepress.SortDesc},
		{Field: "n"},
	}))
}

func TestMongoUpdate(t *testing.T) {
	id := modepress.NewID()
	got := mongoUpdate(modepress.Patch{
		Set: map[string]any{"editor": nil, "age": 3},
		Pull: map[string]any{
			"categories":                        id,
			modepress.FieldArrayDependencies: map[string]any{"collection": "categories", "_id": id},
		},
	})
	assert.Equal(t, bson.D{
		{Key: "$set", Value: bson.D{{Key: "age", Value: 3}, {Key: "editor", Value: nil}}},
		{Key: "$pull", Value: bson.D{
			{Key: modepress.FieldArrayDependencies, Value: bson.D{{Key: "_id", Value: id}, {Key: "collection", Value: "categories"}}},
			{Key: "categories", Value: id},
		}},
	}, got)

	assert.Nil(t, mongoUpdate(modepress.Patch{}))
}

func TestIndexModels(t *testing.T) {
	models := indexModels([]string{"username"}, []string{"username", "tags"})
	require.Len(t, models, 2)

	assert.Equal(t, bson.D{{Key: "username", Value: 1}}, models[0].Keys)
	require.NotNil(t, models[0].Options.Unique)
	assert.True(t, *models[0].Options.Unique)
	assert.Equal(t, "username", *models[0].Options.Name)
	assert.Equal(t, bson.D{{Key: "username", Value: bson.D{{Key: "$gt", Value: ""}}}}, models[0].Options.PartialFilterExpression)

	assert.Equal(t, bson.D{{Key: "tags", Value: 1}}, models[1].Keys)
	assert.Nil(t, models[1].Options.Unique)

	assert.Empty(t, indexModels(nil, nil))
}

func TestDuplicateKeyField(t *testing.T) {
	err := errors.New(`E11000 duplicate key error collection: modepress.users index: username dup key: { username: "ann" }`)
	assert.Equal(t, "username", duplicateKeyField(err))
	assert.Equal(t, "", duplicateKeyField(errors.New("boom")))
}

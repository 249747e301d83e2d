package e2e_harness

import (
	"context"
	"fmt"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/collections"
	"github.com/lychee-technology/modepress/factory"
)

// Content holds the ids of the documents created by SeedContent.
type Content struct {
	Author   modepress.ID
	Reader   modepress.ID
	Category modepress.ID
	Post     modepress.ID
	Root     modepress.ID
	Reply    modepress.ID
	Session  modepress.ID
}

func create(ctx context.Context, engine *factory.Engine, collection string, payload map[string]any) (modepress.ID, error) {
	model, err := engine.Model(collection)
	if err != nil {
		return modepress.NilID, err
	}
	out, err := model.Create(ctx, payload)
	if err != nil {
		return modepress.NilID, fmt.Errorf("create %s: %w", collection, err)
	}
	id, ok := out[modepress.FieldID].(modepress.ID)
	if !ok {
		return modepress.NilID, fmt.Errorf("create %s: missing id in %v", collection, out)
	}
	return id, nil
}

// SeedContent creates two users, a category, a post with a two level
// comment thread and a session for the author.
func SeedContent(ctx context.Context, engine *factory.Engine) (*Content, error) {
	var c Content
	var err error

	steps := []struct {
		target     *modepress.ID
		collection string
		payload    func() map[string]any
	}{
		{&c.Author, collections.Users, func() map[string]any {
			return map[string]any{"username": "author", "email": "author@example.com", "password": "password1", "privileges": 2.0}
		}},
		{&c.Reader, collections.Users, func() map[string]any {
			return map[string]any{"username": "reader", "email": "reader@example.com", "password": "password2"}
		}},
		{&c.Category, collections.Categories, func() map[string]any {
			return map[string]any{"title": "Engineering", "slug": "engineering"}
		}},
		{&c.Post, collections.Posts, func() map[string]any {
			return map[string]any{
				"title":      "Hello world",
				"slug":       "hello-world",
				"brief":      "first post",
				"content":    "<p>Welcome</p>",
				"public":     true,
				"author":     c.Author,
				"categories": []any{c.Category.Hex()},
				"tags":       []any{"intro", "news"},
			}
		}},
		{&c.Root, collections.Comments, func() map[string]any {
			return map[string]any{"author": "reader", "user": c.Reader, "post": c.Post, "content": "Nice post"}
		}},
		{&c.Reply, collections.Comments, func() map[string]any {
			return map[string]any{"author": "author", "user": c.Author, "post": c.Post, "parent": c.Root, "content": "Thanks"}
		}},
		{&c.Session, collections.Sessions, func() map[string]any {
			return map[string]any{"user": c.Author, "data": map[string]any{"theme": "dark"}}
		}},
	}
	for _, step := range steps {
		if *step.target, err = create(ctx, engine, step.collection, step.payload()); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

package internal

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lychee-technology/modepress"
)

type thread struct {
	user, post, root, reply modepress.ID
}

func seedThread(t *testing.T, env *testEnv) thread {
	t.Helper()
	var th thread
	th.user = env.create(t, env.users, map[string]any{"username": "ann"})
	th.post = env.create(t, env.posts, map[string]any{"title": "hello", "author": th.user})
	th.root = env.create(t, env.comments, map[string]any{"body": "first", "post": th.post})
	th.reply = env.create(t, env.comments, map[string]any{"body": "re", "post": th.post, "parent": th.root})
	return th
}

func TestCascade_RemovesRequiredDependentsRecursively(t *testing.T) {
	env := newTestEnv(t, nil)
	th := seedThread(t, env)
	other := env.create(t, env.users, map[string]any{"username": "bob"})

	res, err := env.users.Delete(env.ctx, modepress.ByID(th.user))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RemovedCount)
	assert.Equal(t, int64(3), res.CascadeRemoved)
	assert.Zero(t, res.CascadeFailures)

	assert.Nil(t, env.raw(t, "posts", th.post))
	assert.Nil(t, env.raw(t, "comments", th.root))
	assert.Nil(t, env.raw(t, "comments", th.reply))
	assert.NotNil(t, env.raw(t, "users", other))
}

func TestCascade_NullifiesOptionalReferences(t *testing.T) {
	env := newTestEnv(t, nil)
	author := env.create(t, env.users, map[string]any{"username": "ann"})
	editor := env.create(t, env.users, map[string]any{"username": "ed"})
	post := env.create(t, env.posts, map[string]any{"title": "t", "author": author, "editor": editor})

	res, err := env.users.Delete(env.ctx, modepress.ByID(editor))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.CascadeNullified)
	assert.Zero(t, res.CascadeRemoved)

	doc := env.raw(t, "posts", post)
	require.NotNil(t, doc)
	assert.Nil(t, doc["editor"])
	assert.Equal(t, author, doc["author"])
	assert.Empty(t, doc[modepress.FieldOptionalDependencies])
	assert.Len(t, doc[modepress.FieldRequiredDependencies], 1)
}

func TestCascade_PullsArrayReferences(t *testing.T) {
	env := newTestEnv(t, nil)
	author := env.create(t, env.users, map[string]any{"username": "ann"})
	news := env.create(t, env.categories, map[string]any{"title": "news"})
	tech := env.create(t, env.categories, map[string]any{"title": "tech", "parent": news})
	post := env.create(t, env.posts, map[string]any{"title": "t", "author": author, "categories": []any{tech, news}})

	res, err := env.categories.Delete(env.ctx, modepress.ByID(news))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RemovedCount)
	assert.Equal(t, int64(1), res.CascadePulled)
	assert.Equal(t, int64(1), res.CascadeNullified)

	doc := env.raw(t, "posts", post)
	assert.Equal(t, []any{tech}, doc["categories"])
	edges := decodeEdges(doc)
	require.Len(t, edges, 2)
	assert.Equal(t, Edge{Kind: modepress.DependencyArray, Collection: "categories", Property: "categories", ID: tech}, edges[1])

	child := env.raw(t, "categories", tech)
	assert.Nil(t, child["parent"])

	out, err := env.posts.Get(env.ctx, post, modepress.SerializeOptions{Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, []modepress.ID{tech}, out["categories"])
}

func TestCascade_StopsOnCycles(t *testing.T) {
	env := newTestEnv(t, nil)
	author := env.create(t, env.users, map[string]any{"username": "ann"})
	post := env.create(t, env.posts, map[string]any{"title": "t", "author": author})
	a := env.create(t, env.comments, map[string]any{"body": "a", "post": post})
	b := env.create(t, env.comments, map[string]any{"body": "b", "post": post, "parent": a})
	_, err := env.comments.Update(env.ctx, a, map[string]any{"parent": b})
	require.NoError(t, err)

	res, err := env.comments.Delete(env.ctx, modepress.ByID(a))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RemovedCount)
	assert.Equal(t, int64(1), res.CascadeRemoved)
	assert.Zero(t, res.CascadeFailures)

	count, err := env.comments.Count(env.ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCascade_DeepReplyChainIsUnboundedByDefault(t *testing.T) {
	env := newTestEnv(t, nil)
	require.Zero(t, env.registry.Config().Reference.MaxCascadeDepth)

	author := env.create(t, env.users, map[string]any{"username": "ann"})
	post := env.create(t, env.posts, map[string]any{"title": "Go", "slug": "go", "author": author})
	root := env.create(t, env.comments, map[string]any{"body": "root", "post": post})
	parent := root
	for i := 0; i < 12; i++ {
		parent = env.create(t, env.comments, map[string]any{"body": "reply", "post": post, "parent": parent})
	}

	res, err := env.comments.Delete(env.ctx, modepress.ByID(root))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RemovedCount)
	assert.Equal(t, int64(12), res.CascadeRemoved)
	assert.Zero(t, res.CascadeFailures)

	count, err := env.comments.Count(env.ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestCascade_DepthLimit(t *testing.T) {
	cfg := modepress.DefaultConfig()
	cfg.Reference.MaxCascadeDepth = 1
	env := newTestEnv(t, cfg)
	th := seedThread(t, env)

	res, err := env.users.Delete(env.ctx, modepress.ByID(th.user))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.CascadeRemoved)
	assert.Equal(t, 1, res.CascadeFailures)
	assert.NotNil(t, env.raw(t, "comments", th.root), "dependents past the limit are left in place")
}

func TestCascade_Disabled(t *testing.T) {
	cfg := modepress.DefaultConfig()
	cfg.Reference.CascadeDelete = false
	env := newTestEnv(t, cfg)
	th := seedThread(t, env)

	res, err := env.users.Delete(env.ctx, modepress.ByID(th.user))
	require.NoError(t, err)
	assert.Equal(t, &modepress.DeleteResult{RemovedCount: 1}, res)
	assert.NotNil(t, env.raw(t, "posts", th.post))
}

// flakyStore fails every call on the named collections once armed.
type flakyStore struct {
	*MemoryStore
	mu     sync.Mutex
	broken map[string]bool
}

var errBackendDown = errors.New("backend down")

func (s *flakyStore) Collection(name string) modepress.Collection {
	return &flakyCollection{Collection: s.MemoryStore.Collection(name), store: s, name: name}
}

func (s *flakyStore) isBroken(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.broken[name]
}

type flakyCollection struct {
	modepress.Collection
	store *flakyStore
	name  string
}

func (c *flakyCollection) Find(ctx context.Context, cond modepress.Condition, opts modepress.FindOptions) (*modepress.FindPage, error) {
	if c.store.isBroken(c.name) {
		return nil, errBackendDown
	}
	return c.Collection.Find(ctx, cond, opts)
}

func (c *flakyCollection) UpdateOne(ctx context.Context, cond modepress.Condition, patch modepress.Patch) error {
	if c.store.isBroken(c.name) {
		return errBackendDown
	}
	return c.Collection.UpdateOne(ctx, cond, patch)
}

func (c *flakyCollection) DeleteMany(ctx context.Context, cond modepress.Condition) (int64, error) {
	if c.store.isBroken(c.name) {
		return 0, errBackendDown
	}
	return c.Collection.DeleteMany(ctx, cond)
}

func TestCascade_FailuresAreCountedNotRolledBack(t *testing.T) {
	store := &flakyStore{MemoryStore: NewMemoryStore(), broken: map[string]bool{}}
	registry := NewRegistry(store, nil)
	users := registry.MustRegister(usersDefinition())
	posts := registry.MustRegister(postsDefinition())
	ctx := context.Background()

	out, err := users.Create(ctx, map[string]any{"username": "ann"})
	require.NoError(t, err)
	user := out[modepress.FieldID].(modepress.ID)
	_, err = posts.Create(ctx, map[string]any{"title": "t", "author": user})
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		actions []string
	)
	RegisterTelemetryEmitter(func(_ context.Context, name string, labels map[string]string, _ any) {
		if name != MetricCascadeActions {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		actions = append(actions, labels["action"])
	})
	defer RegisterTelemetryEmitter(nil)

	store.mu.Lock()
	store.broken["posts"] = true
	store.mu.Unlock()

	res, err := users.Delete(ctx, modepress.ByID(user))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RemovedCount)
	assert.Equal(t, 3, res.CascadeFailures, "remove, nullify and pull each fail to find dependents")
	assert.Equal(t, []string{"failure", "failure", "failure"}, actions)

	ok, err := registry.Exists(ctx, "users", user)
	require.NoError(t, err)
	assert.False(t, ok)
}

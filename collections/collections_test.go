package collections

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/internal"
)

func TestMain(m *testing.M) {
	logger, _ := zap.NewDevelopment()
	zap.ReplaceGlobals(logger)
	code := m.Run()
	_ = logger.Sync()
	os.Exit(code)
}

func testConfig() *modepress.Config {
	cfg := modepress.DefaultConfig()
	cfg.Security = modepress.SecurityConfig{
		Argon2Time:      1,
		Argon2MemoryKiB: 64,
		Argon2Threads:   1,
		Argon2KeyLength: 16,
		SaltLength:      8,
	}
	return cfg
}

type fixture struct {
	ctx      context.Context
	registry *internal.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := testConfig()
	registry := internal.NewRegistry(internal.NewMemoryStore(), cfg)
	require.NoError(t, Register(registry, cfg))
	return &fixture{ctx: context.Background(), registry: registry}
}

func (f *fixture) model(t *testing.T, name string) modepress.Model {
	t.Helper()
	m, err := f.registry.Model(name)
	require.NoError(t, err)
	return m
}

func (f *fixture) create(t *testing.T, name string, payload map[string]any) modepress.ID {
	t.Helper()
	out, err := f.model(t, name).Create(f.ctx, payload)
	require.NoError(t, err)
	return out[modepress.FieldID].(modepress.ID)
}

func (f *fixture) admin(t *testing.T, name string, id modepress.ID) map[string]any {
	t.Helper()
	out, err := f.model(t, name).Get(f.ctx, id, modepress.SerializeOptions{Verbose: true, Admin: true})
	require.NoError(t, err)
	return out
}

func (f *fixture) exists(t *testing.T, name string, id modepress.ID) bool {
	t.Helper()
	ok, err := f.registry.Exists(f.ctx, name, id)
	require.NoError(t, err)
	return ok
}

func (f *fixture) user(t *testing.T, name string) modepress.ID {
	t.Helper()
	return f.create(t, Users, map[string]any{"username": name, "email": name + "@example.com", "password": "secret-" + name})
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []string{Users, Sessions, Buckets, Files, Categories, Posts, Comments, Renders}, f.registry.Names())
	assert.Equal(t, []string{Buckets, Comments, Files, Posts, Renders, Sessions}, f.registry.Graph().Referrers(Users))
	assert.Error(t, Register(f.registry, nil), "collections register once")
}

func TestUsers_PasswordIsHashed(t *testing.T) {
	f := newFixture(t)
	id := f.user(t, "ann")

	out := f.admin(t, Users, id)
	stored := out["password"].(string)
	assert.True(t, IsHashed(stored))
	assert.Equal(t, float64(PrivilegeRegular), out["privileges"])

	hasher := NewPasswordHasher(testConfig().Security)
	ok, err := hasher.Verify(stored, "secret-ann")
	require.NoError(t, err)
	assert.True(t, ok)

	masked, err := f.model(t, Users).Get(f.ctx, id, modepress.SerializeOptions{Verbose: true})
	require.NoError(t, err)
	assert.Equal(t, "", masked["password"])
	assert.Equal(t, "", masked["email"])

	_, err = f.model(t, Users).Update(f.ctx, id, map[string]any{"avatar": "a.png"})
	require.NoError(t, err)
	assert.Equal(t, stored, f.admin(t, Users, id)["password"], "unrelated updates keep the hash")

	_, err = f.model(t, Users).Update(f.ctx, id, map[string]any{"password": "another-one"})
	require.NoError(t, err)
	changed := f.admin(t, Users, id)["password"].(string)
	ok, err = hasher.Verify(changed, "another-one")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.model(t, Users).Create(f.ctx, map[string]any{"username": "bob", "email": "bob@example.com", "password": "123"})
	assert.True(t, modepress.IsValidationError(err))
}

func TestUsers_Uniqueness(t *testing.T) {
	f := newFixture(t)
	f.user(t, "ann")

	_, err := f.model(t, Users).Create(f.ctx, map[string]any{"username": "other", "email": "ann@example.com", "password": "secret123"})
	require.Error(t, err)
	assert.True(t, modepress.IsDuplicateEntryError(err))
}

func TestSessions_IssueIDs(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, "ann")

	id := f.create(t, Sessions, map[string]any{"user": user, "data": map[string]any{"theme": "dark"}})
	out := f.admin(t, Sessions, id)
	_, err := uuid.Parse(out["sessionId"].(string))
	assert.NoError(t, err)
	assert.Equal(t, map[string]any{"theme": "dark"}, out["data"])

	_, err = f.model(t, Sessions).Update(f.ctx, id, map[string]any{"sessionId": "forged"})
	require.NoError(t, err)
	assert.Equal(t, out["sessionId"], f.admin(t, Sessions, id)["sessionId"])
}

func TestDeletingUserCascades(t *testing.T) {
	f := newFixture(t)
	ann := f.user(t, "ann")
	bob := f.user(t, "bob")

	session := f.create(t, Sessions, map[string]any{"user": ann})
	bucket := f.create(t, Buckets, map[string]any{"name": "media", "user": ann})
	file := f.create(t, Files, map[string]any{"name": "a.png", "bucket": bucket, "user": ann, "size": 10})
	post := f.create(t, Posts, map[string]any{"title": "hello", "slug": "hello", "author": ann, "featuredImage": file})
	root := f.create(t, Comments, map[string]any{"author": "bob", "user": bob, "post": post, "content": "<p>nice</p>"})
	reply := f.create(t, Comments, map[string]any{"author": "ann", "user": ann, "post": post, "parent": root, "content": "thanks"})
	annRoot := f.create(t, Comments, map[string]any{"author": "ann", "user": ann, "post": post, "content": "own"})

	res, err := f.model(t, Users).Delete(f.ctx, modepress.ByID(ann))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RemovedCount)
	assert.Zero(t, res.CascadeFailures)

	assert.False(t, f.exists(t, Sessions, session))
	assert.False(t, f.exists(t, Buckets, bucket))
	assert.False(t, f.exists(t, Files, file))
	assert.False(t, f.exists(t, Comments, annRoot), "root comments go with their user")

	require.True(t, f.exists(t, Comments, reply), "replies only lose the user")
	assert.Nil(t, f.admin(t, Comments, reply)["user"])

	require.True(t, f.exists(t, Posts, post))
	p := f.admin(t, Posts, post)
	assert.Nil(t, p["author"])
	assert.Nil(t, p["featuredImage"])

	res, err = f.model(t, Posts).Delete(f.ctx, modepress.ByID(post))
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.CascadeRemoved)
	assert.False(t, f.exists(t, Comments, root))
	assert.False(t, f.exists(t, Comments, reply))
}

func TestPosts_Serialization(t *testing.T) {
	f := newFixture(t)
	ann := f.user(t, "ann")
	cat := f.create(t, Categories, map[string]any{"title": "News", "slug": "news"})
	id := f.create(t, Posts, map[string]any{
		"title":      "hello",
		"slug":       "hello",
		"brief":      "<b>short</b> intro",
		"content":    `<p onclick="x()">body<script>alert(1)</script></p>`,
		"author":     ann,
		"categories": []any{cat.Hex()},
		"tags":       []any{" go ", ""},
	})

	out := f.admin(t, Posts, id)
	assert.Equal(t, "short intro", out["brief"])
	assert.Equal(t, "<p>body</p>", out["content"])
	assert.Equal(t, []string{"go"}, out["tags"])

	res, err := f.model(t, Posts).Find(f.ctx, &modepress.FindRequest{
		Search:           "intro",
		SerializeOptions: modepress.SerializeOptions{ExpandForeignKeys: true},
	})
	require.NoError(t, err)
	require.Len(t, res.Data, 1)
	author, ok := res.Data[0]["author"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ann", author["username"])
	assert.NotContains(t, author, "password")
	assert.NotContains(t, res.Data[0], "content")
}

func TestCommentEdges(t *testing.T) {
	f := newFixture(t)
	user := f.user(t, "ann")
	post := f.create(t, Posts, map[string]any{"title": "t", "slug": "t"})
	root := f.create(t, Comments, map[string]any{"author": "ann", "user": user, "post": post, "content": "a"})

	def, ok := f.registry.Definition(Comments)
	require.True(t, ok)
	s := def.Template.Clone()
	s.Item("user").Set(user)
	assert.Equal(t, modepress.DependencyRequired, commentEdges(s, s.Item("user")))
	assert.Equal(t, modepress.DependencyRequired, commentEdges(s, s.Item("parent")))
	assert.Equal(t, modepress.DependencyRequired, commentEdges(s, s.Item("post")))
	assert.Equal(t, modepress.DependencyArray, commentEdges(s, s.Item("children")))

	s.Item("parent").Set(root)
	assert.Equal(t, modepress.DependencyOptional, commentEdges(s, s.Item("user")))
}

func TestPasswordHasher(t *testing.T) {
	h := NewPasswordHasher(testConfig().Security)
	a, err := h.Hash("pw")
	require.NoError(t, err)
	b, err := h.Hash("pw")
	require.NoError(t, err)
	assert.NotEqual(t, a, b, "salts differ")

	ok, err := h.Verify(a, "pw")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.Verify(a, "PW")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.Verify("plain", "pw")
	assert.Error(t, err)
	assert.False(t, IsHashed("plain"))
}

// Package collections defines the built-in content collections of a
// modepress deployment.
package collections

import (
	"context"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/lychee-technology/modepress"
	"github.com/lychee-technology/modepress/internal"
	"github.com/lychee-technology/modepress/schema"
)

// Collection names.
const (
	Users      = "users"
	Sessions   = "sessions"
	Posts      = "posts"
	Categories = "categories"
	Comments   = "comments"
	Buckets    = "buckets"
	Files      = "files"
	Renders    = "renders"
)

// Privilege levels stored on users. Lower is more privileged.
const (
	PrivilegeSuper = iota + 1
	PrivilegeAdmin
	PrivilegeRegular
)

// Definitions returns every built-in collection in registration order.
func Definitions(cfg *modepress.Config) []internal.ModelDefinition {
	if cfg == nil {
		cfg = modepress.DefaultConfig()
	}
	return []internal.ModelDefinition{
		UsersDefinition(NewPasswordHasher(cfg.Security)),
		SessionsDefinition(),
		BucketsDefinition(),
		FilesDefinition(),
		CategoriesDefinition(),
		PostsDefinition(),
		CommentsDefinition(),
		RendersDefinition(),
	}
}

// Register adds every built-in collection to r.
func Register(r *internal.Registry, cfg *modepress.Config) error {
	for _, def := range Definitions(cfg) {
		if _, err := r.Register(def); err != nil {
			return fmt.Errorf("register %s: %w", def.Collection, err)
		}
	}
	return nil
}

var unbounded = schema.WithRange(0, math.Inf(1))

func newest() []modepress.SortField {
	return []modepress.SortField{{Field: "createdOn", Order: modepress.SortDesc}}
}

// UsersDefinition hashes passwords before they are stored. Hashed values
// are left alone so that an update carrying the stored hash is a no-op.
func UsersDefinition(hasher *PasswordHasher) internal.ModelDefinition {
	hashPassword := func(s *schema.Schema) error {
		item := s.Item("password")
		plain, _ := item.Raw().(string)
		if plain == "" || IsHashed(plain) {
			return nil
		}
		hashed, err := hasher.Hash(plain)
		if err != nil {
			return err
		}
		item.Set(hashed)
		return nil
	}

	return internal.ModelDefinition{
		Collection: Users,
		Template: schema.MustNew(
			schema.Text("username", schema.WithChars(1, 100), schema.WithUnique()),
			schema.Text("email", schema.WithChars(3, 320), schema.WithUnique(), schema.WithSensitive()),
			schema.Text("password", schema.WithChars(6, 256), schema.WithSensitive()),
			schema.Text("registerKey", schema.WithSensitive()),
			schema.Text("avatar"),
			schema.Number("privileges", schema.WithInteger(), schema.WithRange(PrivilegeSuper, PrivilegeRegular),
				schema.WithDefault(float64(PrivilegeRegular))),
			schema.Date("lastLoggedIn"),
			schema.Date("createdOn", schema.WithUseNow(), schema.WithReadOnly()),
		),
		SummaryFields: []string{"username", "avatar", "privileges"},
		SearchFields:  []string{"username"},
		DefaultSort:   []modepress.SortField{{Field: "username"}},
		Hooks: internal.Hooks{
			BeforeInsert: func(_ context.Context, s *schema.Schema) error {
				return hashPassword(s)
			},
			BeforeUpdate: func(_ context.Context, s *schema.Schema, _ []string) error {
				return hashPassword(s)
			},
		},
	}
}

// SessionsDefinition issues a random session id when none is supplied.
// Sessions are removed with their user.
func SessionsDefinition() internal.ModelDefinition {
	return internal.ModelDefinition{
		Collection: Sessions,
		Template: schema.MustNew(
			schema.Text("sessionId", schema.WithUnique(), schema.WithReadOnly()),
			schema.ForeignKey("user", Users),
			schema.JSON("data"),
			schema.Date("expiration"),
		),
		SummaryFields: []string{"sessionId", "user", "expiration"},
		Hooks: internal.Hooks{
			BeforeInsert: func(_ context.Context, s *schema.Schema) error {
				if id, _ := s.Item("sessionId").Raw().(string); id == "" {
					s.Item("sessionId").Set(uuid.NewString())
				}
				return nil
			},
		},
	}
}

func withIdentifier() internal.Hooks {
	return internal.Hooks{
		BeforeInsert: func(_ context.Context, s *schema.Schema) error {
			if id, _ := s.Item("identifier").Raw().(string); id == "" {
				s.Item("identifier").Set(uuid.NewString())
			}
			return nil
		},
	}
}

func BucketsDefinition() internal.ModelDefinition {
	return internal.ModelDefinition{
		Collection: Buckets,
		Template: schema.MustNew(
			schema.Text("name", schema.WithChars(1, 100)),
			schema.Text("identifier", schema.WithUnique(), schema.WithReadOnly()),
			schema.ForeignKey("user", Users),
			schema.Number("memoryUsed", schema.WithInteger(), unbounded),
			schema.Date("created", schema.WithUseNow(), schema.WithReadOnly()),
		),
		SummaryFields: []string{"name", "identifier", "user"},
		SearchFields:  []string{"name"},
		DefaultSort:   []modepress.SortField{{Field: "created", Order: modepress.SortDesc}},
		Hooks:         withIdentifier(),
	}
}

// FilesDefinition describes uploaded files. The bytes live in external
// storage; only metadata is kept here.
func FilesDefinition() internal.ModelDefinition {
	return internal.ModelDefinition{
		Collection: Files,
		Template: schema.MustNew(
			schema.Text("name", schema.WithChars(1, 255)),
			schema.Text("identifier", schema.WithUnique(), schema.WithReadOnly()),
			schema.ForeignKey("bucket", Buckets),
			schema.ForeignKey("user", Users),
			schema.Number("size", schema.WithInteger(), unbounded),
			schema.Text("mimeType"),
			schema.Text("publicURL"),
			schema.Bool("isPublic", schema.WithDefault(true)),
			schema.Date("created", schema.WithUseNow(), schema.WithReadOnly()),
		),
		SummaryFields: []string{"name", "identifier", "size", "mimeType", "publicURL"},
		SearchFields:  []string{"name"},
		DefaultSort:   []modepress.SortField{{Field: "created", Order: modepress.SortDesc}},
		Hooks:         withIdentifier(),
	}
}

func CategoriesDefinition() internal.ModelDefinition {
	return internal.ModelDefinition{
		Collection: Categories,
		Template: schema.MustNew(
			schema.Text("title", schema.WithChars(1, 100)),
			schema.Text("slug", schema.WithChars(1, 100), schema.WithUnique()),
			schema.ForeignKey("parent", Categories, schema.WithNullable()),
			schema.Text("description"),
		),
		SummaryFields: []string{"title", "slug", "parent"},
		SearchFields:  []string{"title", "description"},
		DefaultSort:   []modepress.SortField{{Field: "title"}},
	}
}

// PostsDefinition keeps posts when their author or featured image goes
// away; the reference is cleared instead.
func PostsDefinition() internal.ModelDefinition {
	return internal.ModelDefinition{
		Collection: Posts,
		Template: schema.MustNew(
			schema.ForeignKey("author", Users, schema.WithNullable()),
			schema.Text("title", schema.WithChars(1, 200)),
			schema.Text("slug", schema.WithChars(1, 200), schema.WithUnique()),
			schema.Text("brief", schema.WithStripHTML()),
			schema.Bool("public"),
			schema.HTML("content"),
			schema.ForeignKey("featuredImage", Files, schema.WithNullable()),
			schema.IDArray("categories", Categories),
			schema.TextArray("tags", schema.WithIndexable()),
			schema.Date("createdOn", schema.WithUseNow(), schema.WithReadOnly()),
			schema.Date("lastUpdated", schema.WithUseNow()),
		),
		SummaryFields: []string{"title", "slug", "brief", "author", "public", "featuredImage", "createdOn"},
		SearchFields:  []string{"title", "brief", "tags"},
		DefaultSort:   newest(),
	}
}

// CommentsDefinition removes replies with the comment they answer. Root
// comments are removed with their user while replies only lose the
// user reference, so a thread stays readable.
func CommentsDefinition() internal.ModelDefinition {
	return internal.ModelDefinition{
		Collection: Comments,
		Template: schema.MustNew(
			schema.Text("author", schema.WithChars(1, 100)),
			schema.ForeignKey("user", Users, schema.WithNullable()),
			schema.ForeignKey("post", Posts),
			schema.ForeignKey("parent", Comments, schema.WithNullable()),
			schema.IDArray("children", Comments),
			schema.Bool("public", schema.WithDefault(true)),
			schema.HTML("content", schema.WithChars(1, 5000)),
			schema.Date("createdOn", schema.WithUseNow(), schema.WithReadOnly()),
			schema.Date("lastUpdated", schema.WithUseNow()),
		),
		SummaryFields: []string{"author", "post", "parent", "public", "createdOn"},
		SearchFields:  []string{"author", "content"},
		DefaultSort:   newest(),
		EdgePolicy:    commentEdges,
	}
}

func commentEdges(s *schema.Schema, item *schema.Item) modepress.DependencyKind {
	switch item.Name() {
	case "parent":
		return modepress.DependencyRequired
	case "user":
		if s.Item("parent").Raw() == nil {
			return modepress.DependencyRequired
		}
		return modepress.DependencyOptional
	}
	return internal.DefaultEdgePolicy(s, item)
}

// RendersDefinition caches pre-rendered pages.
func RendersDefinition() internal.ModelDefinition {
	return internal.ModelDefinition{
		Collection: Renders,
		Template: schema.MustNew(
			schema.Text("url", schema.WithChars(1, 2048), schema.WithUnique()),
			schema.HTML("html", schema.WithSensitive(),
				schema.WithAllowedTags(append([]string{"html", "head", "body", "title", "meta", "link", "section", "article", "header", "footer", "nav", "main"}, schema.DefaultAllowedTags...)...)),
			schema.ForeignKey("author", Users, schema.WithNullable()),
			schema.Date("expiration"),
			schema.Date("createdOn", schema.WithUseNow(), schema.WithReadOnly()),
		),
		SummaryFields: []string{"url", "author", "expiration", "createdOn"},
		SearchFields:  []string{"url"},
		DefaultSort:   newest(),
	}
}

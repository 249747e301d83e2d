package schema

import (
	"math"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/lychee-technology/modepress"
)

// Kind is the variant tag of an Item.
type Kind int

const (
	KindText Kind = iota
	KindHTML
	KindTextArray
	KindNumber
	KindNumberArray
	KindBool
	KindDate
	KindID
	KindForeignKey
	KindIDArray
	KindJSON
)

var kindNames = map[Kind]string{
	KindText:        "text",
	KindHTML:        "html",
	KindTextArray:   "text-array",
	KindNumber:      "number",
	KindNumberArray: "number-array",
	KindBool:        "bool",
	KindDate:        "date",
	KindID:          "id",
	KindForeignKey:  "foreign-key",
	KindIDArray:     "id-array",
	KindJSON:        "json",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// IsReference reports whether values of this kind point at other documents.
func (k Kind) IsReference() bool {
	return k == KindID || k == KindForeignKey || k == KindIDArray
}

// NumberType selects integer or fixed-decimal coercion.
type NumberType int

const (
	NumberFloat NumberType = iota
	NumberInteger
)

// TextOptions constrain text, html and text-array values. Bounds are in
// characters; a MaxCharacters of zero means unbounded.
type TextOptions struct {
	MinCharacters int
	MaxCharacters int
	StripHTML     bool
}

// HTMLOptions is the allow-list applied to html values.
type HTMLOptions struct {
	AllowedTags       []string
	AllowedAttributes map[string][]string
	// ErrorBadHTML rejects input instead of silently removing disallowed markup.
	ErrorBadHTML bool
}

type NumberOptions struct {
	Min           float64
	Max           float64
	Type          NumberType
	DecimalPlaces int
}

// ArrayOptions bound the element count. A MaxItems of zero means unbounded.
type ArrayOptions struct {
	MinItems int
	MaxItems int
}

type DateOptions struct {
	UseNow bool
}

// RefOptions describe references to documents of another collection.
type RefOptions struct {
	TargetCollection string
	KeyCanBeNull     bool
}

type JSONOptions struct {
	Schema *jsonschema.Schema
}

// Item is a named, typed value cell. The Kind decides which option block applies.
type Item struct {
	name  string
	kind  Kind
	value any

	Sensitive bool
	Unique    bool
	Indexable bool
	// ReadOnly items keep their stored value on update.
	ReadOnly bool

	Text   TextOptions
	HTML   HTMLOptions
	Number NumberOptions
	Array  ArrayOptions
	Date   DateOptions
	Ref    RefOptions
	JSON   JSONOptions
}

// Option configures an Item at construction.
type Option func(*Item)

func newItem(name string, kind Kind, value any, opts []Option) *Item {
	it := &Item{
		name:  name,
		kind:  kind,
		value: value,
		Number: NumberOptions{
			Min:           math.Inf(-1),
			Max:           math.Inf(1),
			DecimalPlaces: 2,
		},
	}
	switch kind {
	case KindText, KindTextArray:
		it.Text = TextOptions{MaxCharacters: 10000}
	case KindHTML:
		it.HTML = HTMLOptions{
			AllowedTags:       append([]string(nil), DefaultAllowedTags...),
			AllowedAttributes: copyAttributes(DefaultAllowedAttributes),
		}
	}
	for _, opt := range opts {
		opt(it)
	}
	return it
}

func Text(name string, opts ...Option) *Item {
	return newItem(name, KindText, "", opts)
}

func HTML(name string, opts ...Option) *Item {
	return newItem(name, KindHTML, "", opts)
}

func TextArray(name string, opts ...Option) *Item {
	return newItem(name, KindTextArray, []string{}, opts)
}

func Number(name string, opts ...Option) *Item {
	return newItem(name, KindNumber, float64(0), opts)
}

func NumberArray(name string, opts ...Option) *Item {
	return newItem(name, KindNumberArray, []float64{}, opts)
}

func Bool(name string, opts ...Option) *Item {
	return newItem(name, KindBool, false, opts)
}

func Date(name string, opts ...Option) *Item {
	return newItem(name, KindDate, int64(0), opts)
}

func ID(name string, opts ...Option) *Item {
	return newItem(name, KindID, nil, opts)
}

// ForeignKey references one document of target. Nil values fail unless nullable.
func ForeignKey(name, target string, opts ...Option) *Item {
	it := newItem(name, KindForeignKey, nil, opts)
	it.Ref.TargetCollection = target
	return it
}

// IDArray references many documents of target; an empty target skips existence checks.
func IDArray(name, target string, opts ...Option) *Item {
	it := newItem(name, KindIDArray, []modepress.ID{}, opts)
	it.Ref.TargetCollection = target
	return it
}

func JSON(name string, opts ...Option) *Item {
	return newItem(name, KindJSON, nil, opts)
}

func WithSensitive() Option { return func(it *Item) { it.Sensitive = true } }
func WithUnique() Option    { return func(it *Item) { it.Unique = true; it.Indexable = true } }
func WithIndexable() Option { return func(it *Item) { it.Indexable = true } }
func WithReadOnly() Option  { return func(it *Item) { it.ReadOnly = true } }

// WithDefault sets the template value used when a create payload omits the field.
func WithDefault(v any) Option {
	return func(it *Item) { it.value = cloneValue(v) }
}

func WithChars(min, max int) Option {
	return func(it *Item) {
		it.Text.MinCharacters = min
		it.Text.MaxCharacters = max
	}
}

func WithStripHTML() Option { return func(it *Item) { it.Text.StripHTML = true } }

func WithItems(min, max int) Option {
	return func(it *Item) {
		it.Array.MinItems = min
		it.Array.MaxItems = max
	}
}

func WithRange(min, max float64) Option {
	return func(it *Item) {
		it.Number.Min = min
		it.Number.Max = max
	}
}

func WithInteger() Option { return func(it *Item) { it.Number.Type = NumberInteger } }

func WithDecimals(places int) Option {
	return func(it *Item) {
		it.Number.Type = NumberFloat
		it.Number.DecimalPlaces = places
	}
}

func WithUseNow() Option { return func(it *Item) { it.Date.UseNow = true } }

// WithAllowedTags replaces the html tag allow-list.
func WithAllowedTags(tags ...string) Option {
	return func(it *Item) { it.HTML.AllowedTags = append([]string(nil), tags...) }
}

// WithAllowedAttributes replaces the html attribute allow-list. The "*" key applies to every tag.
func WithAllowedAttributes(attrs map[string][]string) Option {
	return func(it *Item) { it.HTML.AllowedAttributes = copyAttributes(attrs) }
}

func WithErrorBadHTML() Option { return func(it *Item) { it.HTML.ErrorBadHTML = true } }

// WithNullable lets a foreign key hold nil.
func WithNullable() Option { return func(it *Item) { it.Ref.KeyCanBeNull = true } }

func WithJSONSchema(s *jsonschema.Schema) Option {
	return func(it *Item) { it.JSON.Schema = s }
}

func (it *Item) Name() string { return it.name }

func (it *Item) Kind() Kind { return it.kind }

// Raw returns the current value without masking or copying.
func (it *Item) Raw() any { return it.value }

// Set assigns an unvalidated value. Validate coerces it.
func (it *Item) Set(v any) { it.value = v }

// Load assigns a value read back from a store, coercing it leniently.
// Values that cannot be coerced are kept as they are.
func (it *Item) Load(v any) {
	if coerced, err := coerce(it, v); err == nil {
		it.value = coerced
		return
	}
	it.value = v
}

// ValueOptions controls Value.
type ValueOptions struct {
	Sanitize bool
}

// Value returns a copy of the current value, masked when the item is
// sensitive and opts.Sanitize is set.
func (it *Item) Value(opts ValueOptions) any {
	if it.Sensitive && opts.Sanitize {
		return Mask(it.kind)
	}
	return cloneValue(it.value)
}

// Mask returns the masked value of a kind.
func Mask(kind Kind) any {
	switch kind {
	case KindText, KindHTML:
		return ""
	case KindTextArray:
		return []string{}
	case KindNumber:
		return float64(0)
	case KindNumberArray:
		return []float64{}
	case KindBool:
		return false
	case KindDate:
		return int64(0)
	case KindIDArray:
		return []modepress.ID{}
	case KindID, KindForeignKey, KindJSON:
		return nil
	}
	return nil
}

// Clone returns an independent deep copy.
func (it *Item) Clone() *Item {
	c := *it
	c.value = cloneValue(it.value)
	c.HTML.AllowedTags = append([]string(nil), it.HTML.AllowedTags...)
	c.HTML.AllowedAttributes = copyAttributes(it.HTML.AllowedAttributes)
	return &c
}

func copyAttributes(attrs map[string][]string) map[string][]string {
	if attrs == nil {
		return nil
	}
	out := make(map[string][]string, len(attrs))
	for tag, names := range attrs {
		out[tag] = append([]string(nil), names...)
	}
	return out
}

// cloneValue copies slices and maps so no mutable structure is shared.
func cloneValue(v any) any {
	switch val := v.(type) {
	case []string:
		return append([]string{}, val...)
	case []float64:
		return append([]float64{}, val...)
	case []modepress.ID:
		return append([]modepress.ID{}, val...)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	}
	return v
}

package schema

import (
	"context"
	"fmt"
	"html"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/lychee-technology/modepress"
)

// now is replaced in tests.
var now = time.Now

// Validate checks the current value against the item's constraints and
// replaces it with its normalised form. On failure the value is left as it was.
// checker may be nil, in which case reference existence is not checked.
func (it *Item) Validate(ctx context.Context, checker modepress.ReferenceChecker) error {
	var (
		value any
		err   error
	)

	switch it.kind {
	case KindText:
		value, err = validateText(it)
	case KindHTML:
		value, err = validateHTML(it)
	case KindTextArray:
		value, err = validateTextArray(it)
	case KindNumber:
		value, err = validateNumber(it)
	case KindNumberArray:
		value, err = validateNumberArray(it)
	case KindBool:
		value, err = validateBool(it)
	case KindDate:
		value, err = validateDate(it)
	case KindID:
		value, err = coerce(it, it.value)
	case KindForeignKey:
		value, err = validateForeignKey(ctx, it, checker)
	case KindIDArray:
		value, err = validateIDArray(ctx, it, checker)
	case KindJSON:
		value, err = validateJSON(it)
	default:
		err = fmt.Errorf("%s has unknown kind %d", it.name, it.kind)
	}

	if err != nil {
		return modepress.NewFieldError(it.name, err.Error())
	}
	it.value = value
	return nil
}

func checkChars(name, s string, opts TextOptions) error {
	n := utf8.RuneCountInString(s)
	if n < opts.MinCharacters {
		if opts.MinCharacters == 1 {
			return fmt.Errorf("%s cannot be empty", name)
		}
		return fmt.Errorf("The character length of %s is too short, please keep it above %d", name, opts.MinCharacters)
	}
	if opts.MaxCharacters > 0 && n > opts.MaxCharacters {
		return fmt.Errorf("The character length of %s is too long, please keep it below %d", name, opts.MaxCharacters)
	}
	return nil
}

func checkItems(name string, n int, opts ArrayOptions) error {
	if n < opts.MinItems {
		return fmt.Errorf("You must select at least %d item(s) for %s", opts.MinItems, name)
	}
	if opts.MaxItems > 0 && n > opts.MaxItems {
		return fmt.Errorf("You have selected too many items for %s, please only use up to %d", name, opts.MaxItems)
	}
	return nil
}

func validateText(it *Item) (any, error) {
	raw, err := coerce(it, it.value)
	if err != nil {
		return nil, err
	}
	s := strings.TrimSpace(raw.(string))
	if it.Text.StripHTML {
		s = strings.TrimSpace(stripHTML(s))
	}
	if err := checkChars(it.name, s, it.Text); err != nil {
		return nil, err
	}
	return s, nil
}

func validateHTML(it *Item) (any, error) {
	raw, err := coerce(it, it.value)
	if err != nil {
		return nil, err
	}
	trimmed := strings.TrimSpace(raw.(string))
	sanitized := strings.TrimSpace(sanitizeHTML(trimmed, it.HTML))
	if it.HTML.ErrorBadHTML && !sameMarkup(sanitized, trimmed) {
		return nil, fmt.Errorf("'%s' has html code that is not allowed", it.name)
	}
	if err := checkChars(it.name, html.UnescapeString(sanitized), it.Text); err != nil {
		return nil, err
	}
	return sanitized, nil
}

func validateTextArray(it *Item) (any, error) {
	raw, err := coerce(it, it.value)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(raw.([]string)))
	for _, s := range raw.([]string) {
		s = strings.TrimSpace(stripHTML(strings.TrimSpace(s)))
		if s == "" {
			continue
		}
		n := utf8.RuneCountInString(s)
		if n < it.Text.MinCharacters {
			return nil, fmt.Errorf("The character length of '%s' in %s is too short, please keep it above %d", s, it.name, it.Text.MinCharacters)
		}
		if it.Text.MaxCharacters > 0 && n > it.Text.MaxCharacters {
			return nil, fmt.Errorf("The character length of '%s' in %s is too long, please keep it below %d", s, it.name, it.Text.MaxCharacters)
		}
		out = append(out, s)
	}
	if err := checkItems(it.name, len(out), it.Array); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeNumber(f float64, opts NumberOptions) float64 {
	if opts.Type == NumberInteger {
		return math.Trunc(f)
	}
	scale := math.Pow(10, float64(opts.DecimalPlaces))
	return math.Round(f*scale) / scale
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func validateNumber(it *Item) (any, error) {
	if it.value == nil {
		return nil, fmt.Errorf("%s cannot be undefined", it.name)
	}
	raw, err := coerce(it, it.value)
	if err != nil {
		return nil, err
	}
	if !finite(raw.(float64)) {
		return nil, fmt.Errorf("%s must be a number", it.name)
	}
	f := normalizeNumber(raw.(float64), it.Number)
	if f < it.Number.Min || f > it.Number.Max {
		return nil, fmt.Errorf("The value of %s is not within the range of %s and %s",
			it.name, formatNumber(it.Number.Min), formatNumber(it.Number.Max))
	}
	return f, nil
}

func validateNumberArray(it *Item) (any, error) {
	raw, err := coerce(it, it.value)
	if err != nil {
		return nil, err
	}
	out := raw.([]float64)
	for i, f := range out {
		if !finite(f) {
			return nil, fmt.Errorf("%s must only contain numbers", it.name)
		}
		f = normalizeNumber(f, it.Number)
		if f < it.Number.Min || f > it.Number.Max {
			return nil, fmt.Errorf("The value of %s in %s is not within the range of %s and %s",
				formatNumber(f), it.name, formatNumber(it.Number.Min), formatNumber(it.Number.Max))
		}
		out[i] = f
	}
	if err := checkItems(it.name, len(out), it.Array); err != nil {
		return nil, err
	}
	return out, nil
}

func validateBool(it *Item) (any, error) {
	if it.value == nil {
		return nil, fmt.Errorf("%s cannot be undefined", it.name)
	}
	return coerce(it, it.value)
}

func validateDate(it *Item) (any, error) {
	if it.Date.UseNow {
		return now().UnixMilli(), nil
	}
	return coerce(it, it.value)
}

func validateForeignKey(ctx context.Context, it *Item, checker modepress.ReferenceChecker) (any, error) {
	value, err := coerce(it, it.value)
	if err != nil {
		return nil, err
	}
	if value == nil {
		if !it.Ref.KeyCanBeNull {
			return nil, fmt.Errorf("%s does not exist", it.name)
		}
		return nil, nil
	}
	if checker != nil && it.Ref.TargetCollection != "" {
		ok, err := checker.Exists(ctx, it.Ref.TargetCollection, value.(modepress.ID))
		if err != nil {
			return nil, fmt.Errorf("could not verify %s: %w", it.name, err)
		}
		if !ok {
			return nil, fmt.Errorf("%s does not exist", it.name)
		}
	}
	return value, nil
}

func validateIDArray(ctx context.Context, it *Item, checker modepress.ReferenceChecker) (any, error) {
	raw, err := coerce(it, it.value)
	if err != nil {
		return nil, err
	}
	seen := make(map[modepress.ID]struct{})
	out := make([]modepress.ID, 0, len(raw.([]modepress.ID)))
	for _, id := range raw.([]modepress.ID) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if err := checkItems(it.name, len(out), it.Array); err != nil {
		return nil, err
	}
	if checker != nil && it.Ref.TargetCollection != "" {
		for _, id := range out {
			ok, err := checker.Exists(ctx, it.Ref.TargetCollection, id)
			if err != nil {
				return nil, fmt.Errorf("could not verify %s: %w", it.name, err)
			}
			if !ok {
				return nil, fmt.Errorf("'%s' in %s does not exist", id.Hex(), it.name)
			}
		}
	}
	return out, nil
}

func validateJSON(it *Item) (any, error) {
	value, err := coerce(it, it.value)
	if err != nil {
		return nil, fmt.Errorf("%s is not valid JSON: %w", it.name, err)
	}
	if it.JSON.Schema == nil || value == nil {
		return value, nil
	}
	resolved, err := it.JSON.Schema.Resolve(&jsonschema.ResolveOptions{})
	if err != nil {
		return nil, fmt.Errorf("schema of %s cannot be resolved: %w", it.name, err)
	}
	if err := resolved.Validate(value); err != nil {
		return nil, fmt.Errorf("%s does not match its schema: %w", it.name, err)
	}
	return value, nil
}

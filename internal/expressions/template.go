package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/alexsaulik/promptfolio/pkg/schema"
)

// TemplateMode selects how unresolved {{tokens}} are treated.
type TemplateMode string

const (
	// TemplateLenient leaves unresolved tokens verbatim.
	TemplateLenient TemplateMode = "lenient"
	// TemplateStrict fails with UNRESOLVED_VARIABLE.
	TemplateStrict TemplateMode = "strict"
)

// ParseTemplateMode maps a config string to a mode. Empty means lenient.
func ParseTemplateMode(s string) (TemplateMode, error) {
	switch TemplateMode(strings.ToLower(s)) {
	case "", TemplateLenient:
		return TemplateLenient, nil
	case TemplateStrict:
		return TemplateStrict, nil
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "unknown template mode %q", s)
}

var placeholderRe = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_.\-]+)\s*\}\}`)

// Lookup resolves a placeholder name to a value.
type Lookup func(name string) (any, bool)

// MapLookup returns a Lookup over m.
func MapLookup(m map[string]any) Lookup {
	return func(name string) (any, bool) {
		v, ok := m[name]
		return v, ok
	}
}

// ScalarLookup wraps l so that only string, number and bool values resolve.
func ScalarLookup(l Lookup) Lookup {
	return func(name string) (any, bool) {
		v, ok := l(name)
		if !ok || !IsScalar(v) {
			return nil, false
		}
		return v, true
	}
}

// Chain tries each lookup in order.
func Chain(lookups ...Lookup) Lookup {
	return func(name string) (any, bool) {
		for _, l := range lookups {
			if v, ok := l(name); ok {
				return v, true
			}
		}
		return nil, false
	}
}

// Renderer substitutes {{identifier}} placeholders in templates.
type Renderer struct {
	mode TemplateMode
}

// NewRenderer returns a Renderer in the given mode.
func NewRenderer(mode TemplateMode) *Renderer {
	if mode == "" {
		mode = TemplateLenient
	}
	return &Renderer{mode: mode}
}

// Render replaces every placeholder whose name resolves through lookup.
// In strict mode any unresolved placeholder is an error listing all of them.
func (r *Renderer) Render(tpl string, lookup Lookup) (string, error) {
	if !strings.Contains(tpl, "{{") {
		return tpl, nil
	}

	var missing []string
	out := placeholderRe.ReplaceAllStringFunc(tpl, func(token string) string {
		name := placeholderRe.FindStringSubmatch(token)[1]
		v, ok := lookup(name)
		if !ok {
			missing = appendUnique(missing, name)
			return token
		}
		return Stringify(v)
	})

	if r.mode == TemplateStrict && len(missing) > 0 {
		return "", schema.NewErrorf(schema.ErrCodeUnresolvedVariable,
			"unresolved template variables: %s", strings.Join(missing, ", ")).
			WithDetails(map[string]any{"variables": missing})
	}
	return out, nil
}

// IsScalar reports whether v is a string, bool or number.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	return false
}

// Stringify renders v the way it appears inside a template.
// Structured values and null are JSON-encoded.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return "null"
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case fmt.Stringer:
		return val.String()
	}
	if IsScalar(v) {
		return fmt.Sprint(v)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(raw)
}

func appendUnique(list []string, s string) []string {
	for _, existing := range list {
		if existing == s {
			return list
		}
	}
	return append(list, s)
}

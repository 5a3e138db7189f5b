// Package prompt renders workflow prompt templates against the session's
// step outputs.
package prompt

import (
	"bytes"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/Jeffail/gabs/v2"
)

var placeholderPattern = regexp.MustCompile(`\{\{([A-Za-z0-9_]+(?:\.[A-Za-z0-9_]+)*)\}\}`)

// Renderer substitutes {{dotted.path}} placeholders. It holds no state and
// is safe for concurrent use.
type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render replaces every placeholder in tmpl with the value found at its path
// in vars. Missing paths and nil values render as the empty string. The
// template is scanned once, so substituted text is never interpolated again.
func (r *Renderer) Render(tmpl string, vars map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	resolved := make(map[string]string)
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		if s, ok := resolved[match]; ok {
			return s
		}
		path := match[2 : len(match)-2]
		s := stringify(Lookup(vars, path))
		resolved[match] = s
		return s
	})
}

// Placeholders returns the distinct variable paths referenced by tmpl, in
// order of first appearance.
func Placeholders(tmpl string) []string {
	matches := placeholderPattern.FindAllStringSubmatch(tmpl, -1)
	seen := make(map[string]bool, len(matches))
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		if seen[m[1]] {
			continue
		}
		seen[m[1]] = true
		paths = append(paths, m[1])
	}
	return paths
}

// Lookup resolves a dotted path against vars. The first segment is a key of
// vars; the remaining segments descend into the value's JSON form, so Go
// structs are addressed by their json field names. It returns nil when any
// segment is missing.
func Lookup(vars map[string]any, path string) any {
	segments := strings.Split(path, ".")
	root, ok := vars[segments[0]]
	if !ok || root == nil {
		return nil
	}
	if len(segments) == 1 {
		return root
	}

	tree, err := normalize(root)
	if err != nil {
		return nil
	}
	found := gabs.Wrap(tree).Search(segments[1:]...)
	if found == nil {
		return nil
	}
	return found.Data()
}

// normalize converts an arbitrary value into the map/slice shape gabs can
// walk. Plain maps pass through untouched.
func normalize(v any) (any, error) {
	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	case string, bool, int, int64, float64, json.Number:
		return v, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
		return fmt.Sprint(val)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// Package template implements the engine's two-stage string
// templating: a lightweight %token% substitution pass for static
// segments, and a full text/template render pass for dynamic ones.
// Virtual fields, URL templates and media filename patterns all go
// through here.
package template

import (
	"fmt"
	"strings"
	texttemplate "text/template"
)

// Renderer implements core.Renderer with text/template. Templates are
// parsed per call; the engine renders few enough of them per request
// that a parse cache has never been worth the staleness risk.
type Renderer struct{}

// NewRenderer creates a renderer.
func NewRenderer() *Renderer { return &Renderer{} }

// Render executes templateText against the context map. Text without
// template actions passes through unchanged.
func (r *Renderer) Render(templateText string, context map[string]any) (string, error) {
	if !strings.Contains(templateText, "{{") {
		return templateText, nil
	}
	t, err := texttemplate.New("field").Option("missingkey=zero").Parse(templateText)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}
	var b strings.Builder
	if err := t.Execute(&b, context); err != nil {
		return "", fmt.Errorf("template render failed: %w", err)
	}
	return strings.ReplaceAll(b.String(), "<no value>", ""), nil
}

// Substitute replaces %token% markers with the stringified context
// values. Unknown tokens are left in place so a later render pass (or
// the caller) can deal with them.
func Substitute(s string, context map[string]any) string {
	if !strings.Contains(s, "%") {
		return s
	}
	for key, value := range context {
		token := "%" + key + "%"
		if !strings.Contains(s, token) {
			continue
		}
		s = strings.ReplaceAll(s, token, stringify(value))
	}
	return s
}

// HasTokens reports whether s still contains an unresolved %token%.
func HasTokens(s string) bool {
	first := strings.Index(s, "%")
	if first < 0 {
		return false
	}
	rest := s[first+1:]
	second := strings.Index(rest, "%")
	return second > 0
}

func stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		// JSON numbers: render integers without the decimal point.
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%g", v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

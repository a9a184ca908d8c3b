package schema

import (
	"encoding/json"
	"fmt"
	"log"
	"strings"

	"github.com/skothari-dev/loom/internal/core"
)

// Loader resolves logical schemas from a document store: it reads and
// decodes model documents, composes several into one schema, expands
// localized fields and normalizes media fields. Resolved schemas are
// memoized per name combination on the session.
type Loader struct {
	docs      core.DocumentStore
	languages []string
}

// NewLoader creates a schema loader. languages is the configured
// language set used for :lang expansion, in output order.
func NewLoader(docs core.DocumentStore, languages []string) *Loader {
	return &Loader{docs: docs, languages: languages}
}

// Languages returns the configured language set.
func (l *Loader) Languages() []string { return l.languages }

// Load resolves the schema for one or more model names. With several
// names the documents are composed in order: later fields override
// earlier ones by name, keeping their original position unless a
// position_after directive relocates them. With expandLang true every
// :lang field is expanded into one concrete field per configured
// language; otherwise the marker stays and is resolved against the
// session language at query time.
//
// A missing document returns core.ErrNotFound wrapped with the model
// name; it never panics.
func (l *Loader) Load(sess *core.Session, names []string, expandLang bool) (*core.Schema, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("at least one schema name is required")
	}

	cacheKey := strings.Join(names, "+")
	if expandLang {
		cacheKey += "#lang"
	}
	if sess != nil {
		if cached, ok := sess.CachedSchema(cacheKey); ok {
			return cached, nil
		}
	}

	merged := &core.Schema{
		Name:       cacheKey,
		Models:     append([]string(nil), names...),
		Filters:    core.Filter{},
		URLs:       map[string]string{},
		Provenance: map[string][]string{},
	}
	for _, name := range names {
		data, err := l.docs.Read(name)
		if err != nil {
			return nil, err
		}
		doc, err := parseDocument(name, data)
		if err != nil {
			return nil, err
		}
		mergeInto(merged, doc)
	}

	normalizeMedia(merged)
	ensureID(merged)
	if expandLang {
		expandLanguages(merged, l.languages)
	}

	if merged.Table == "" {
		return nil, &core.ConfigError{Msg: fmt.Sprintf("schema %q has no table", cacheKey)}
	}

	if sess != nil {
		sess.StoreSchema(cacheKey, merged)
	}
	log.Printf("[SCHEMA] Resolved schema %q (table %s, %d fields)", cacheKey, merged.Table, len(merged.Fields))
	return merged, nil
}

// document is the raw JSON shape of a model description.
type document struct {
	name string

	Table   string            `json:"table"`
	Fields  []fieldDocument   `json:"fields"`
	Filters map[string]any    `json:"filters"`
	Order   []string          `json:"order"`
	URLs    map[string]string `json:"urls"`
	Links   []core.ChildLink  `json:"links"`
}

type fieldDocument struct {
	Field         string         `json:"field"`
	Type          string         `json:"type"`
	Settings      *core.Settings `json:"settings"`
	Source        *core.Source   `json:"source"`
	Filter        map[string]any `json:"filter"`
	PositionAfter string         `json:"position_after"`

	// Deprecated top-level media properties, folded into settings.
	Folder    string `json:"folder"`
	Filename  string `json:"filename"`
	Extension string `json:"extension"`
}

// parseDocument decodes one model document into a partial schema. The
// field type set is closed: an unknown type fails the load here rather
// than surfacing as a broken query later.
func parseDocument(name string, data []byte) (*document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &core.ConfigError{Msg: fmt.Sprintf("schema %q is not valid JSON", name), Err: err}
	}
	doc.name = name
	for i := range doc.Fields {
		fd := &doc.Fields[i]
		if fd.Field == "" {
			return nil, &core.ConfigError{Msg: fmt.Sprintf("schema %q has a field without a name", name)}
		}
		if _, ok := core.ParseFieldType(fd.Type); !ok {
			return nil, &core.ConfigError{Msg: fmt.Sprintf("schema %q field %q has unknown type %q", name, fd.Field, fd.Type)}
		}
	}
	return &doc, nil
}

// toField converts a decoded field document into a core.Field.
func (fd *fieldDocument) toField(model string) core.Field {
	ftype, _ := core.ParseFieldType(fd.Type)
	f := core.Field{
		Name:          fd.Field,
		Type:          ftype,
		PositionAfter: fd.PositionAfter,
		Origins:       []string{model},
	}
	if fd.Settings != nil {
		f.Settings = *fd.Settings
	}
	if fd.Source != nil {
		src := *fd.Source
		if src.ID == "" {
			src.ID = "id"
		}
		if src.Field == "" {
			src.Field = "name"
		}
		f.Source = &src
	}
	if fd.Filter != nil {
		f.Filter = core.Filter(fd.Filter)
	}
	// Fold deprecated top-level media properties into settings.
	if fd.Folder != "" && f.Settings.Folder == "" {
		f.Settings.Folder = fd.Folder
	}
	if fd.Filename != "" && f.Settings.Filename == "" {
		f.Settings.Filename = fd.Filename
	}
	if fd.Extension != "" && f.Settings.Extension == "" {
		f.Settings.Extension = fd.Extension
	}
	return f
}

// mergeInto composes one document into the schema under construction.
// Fields override by name in place; new fields append, or slot in
// after the field named by position_after.
func mergeInto(dst *core.Schema, doc *document) {
	if doc.Table != "" {
		dst.Table = doc.Table
	}
	for i := range doc.Fields {
		f := doc.Fields[i].toField(doc.name)
		if idx := fieldIndex(dst.Fields, f.Name); idx >= 0 {
			f.Origins = append(append([]string(nil), dst.Fields[idx].Origins...), doc.name)
			dst.Fields[idx] = f
			if f.PositionAfter != "" && f.PositionAfter != f.Name {
				moveFieldAfter(dst.Fields, idx, f.PositionAfter)
			}
		} else if f.PositionAfter != "" {
			if after := fieldIndex(dst.Fields, f.PositionAfter); after >= 0 {
				dst.Fields = append(dst.Fields[:after+1], append([]core.Field{f}, dst.Fields[after+1:]...)...)
			} else {
				dst.Fields = append(dst.Fields, f)
			}
		} else {
			dst.Fields = append(dst.Fields, f)
		}
		dst.Provenance[f.Name] = append(dst.Provenance[f.Name], doc.name)
	}
	for k, v := range doc.Filters {
		dst.Filters[k] = v
	}
	for k, v := range doc.URLs {
		dst.URLs[k] = v
	}
	dst.Links = append(dst.Links, doc.Links...)
	if len(doc.Order) > 0 {
		dst.Order = parseOrder(doc.Order)
	}
}

// moveFieldAfter relocates the field at idx to directly follow the
// named field, shifting the fields in between. Unknown targets leave
// the field where it was.
func moveFieldAfter(fields []core.Field, idx int, after string) {
	target := fieldIndex(fields, after)
	if target < 0 || target == idx {
		return
	}
	f := fields[idx]
	if idx < target {
		copy(fields[idx:target], fields[idx+1:target+1])
		fields[target] = f
	} else {
		copy(fields[target+2:idx+1], fields[target+1:idx])
		fields[target+1] = f
	}
}

func fieldIndex(fields []core.Field, name string) int {
	for i := range fields {
		if fields[i].Name == name {
			return i
		}
	}
	return -1
}

// parseOrder decodes "column [ASC|DESC]" terms.
func parseOrder(terms []string) []core.OrderTerm {
	out := make([]core.OrderTerm, 0, len(terms))
	for _, t := range terms {
		parts := strings.Fields(t)
		if len(parts) == 0 {
			continue
		}
		term := core.OrderTerm{Column: parts[0]}
		if len(parts) > 1 && strings.EqualFold(parts[1], "DESC") {
			term.Descending = true
		}
		out = append(out, term)
	}
	return out
}

// normalizeMedia applies media-field normalization: every media field
// gets a filename template, a folder and an "original" size variant,
// and a synthetic uid field is appended when a filename template needs
// one and the schema has none.
func normalizeMedia(s *core.Schema) {
	needsUID := false
	for i := range s.Fields {
		f := &s.Fields[i]
		if !f.Type.IsMedia() {
			continue
		}
		if f.Settings.Filename == "" {
			f.Settings.Filename = "%uid%"
		}
		if f.Settings.Folder == "" {
			f.Settings.Folder = f.Name
		}
		if f.Settings.Sizes == nil {
			f.Settings.Sizes = map[string]core.Size{}
		}
		if _, ok := f.Settings.Sizes["original"]; !ok {
			f.Settings.Sizes["original"] = core.Size{Folder: f.Settings.Folder}
		}
		if strings.Contains(f.Settings.Filename, "%uid%") {
			needsUID = true
		}
	}
	if !needsUID {
		return
	}
	if _, ok := s.UIDField(); ok {
		return
	}
	s.Fields = append(s.Fields, core.Field{
		Name:    "uid",
		Type:    core.TypeUID,
		Origins: []string{"(synthesized)"},
	})
	s.Provenance["uid"] = []string{"(synthesized)"}
}

// ensureID guarantees the id field every materialized schema carries.
func ensureID(s *core.Schema) {
	if _, ok := s.Field("id"); ok {
		return
	}
	id := core.Field{Name: "id", Type: core.TypeInteger, Origins: []string{"(synthesized)"}}
	s.Fields = append([]core.Field{id}, s.Fields...)
	s.Provenance["id"] = []string{"(synthesized)"}
}

// expandLanguages replaces every :lang field with one concrete field
// per configured language, in place.
func expandLanguages(s *core.Schema, languages []string) {
	if len(languages) == 0 {
		return
	}
	expanded := make([]core.Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.Localized() {
			expanded = append(expanded, f)
			continue
		}
		for _, lang := range languages {
			lf := f
			lf.Name = core.LangField(f.Name, lang)
			expanded = append(expanded, lf)
			s.Provenance[lf.Name] = s.Provenance[f.Name]
		}
		delete(s.Provenance, f.Name)
	}
	s.Fields = expanded
}

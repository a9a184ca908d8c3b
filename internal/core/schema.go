package core

import "strings"

// FieldType is the semantic type of a schema field. The set is closed:
// unknown type strings are rejected at the schema-loading boundary, not
// deep inside query compilation.
type FieldType string

const (
	TypeInteger    FieldType = "integer"
	TypeFloat      FieldType = "float"
	TypeBoolean    FieldType = "boolean"
	TypeString     FieldType = "string"
	TypeText       FieldType = "text"
	TypeJSON       FieldType = "json"
	TypeDate       FieldType = "date"
	TypeDatetime   FieldType = "datetime"
	TypeSelect     FieldType = "select"
	TypeCheckboxes FieldType = "checkboxes"
	TypeElements   FieldType = "elements"
	TypeImage      FieldType = "image"
	TypeVideo      FieldType = "video"
	TypeAudio      FieldType = "audio"
	TypeFile       FieldType = "file"
	TypeMedia      FieldType = "media"
	TypeModel      FieldType = "model"
	TypeVirtual    FieldType = "virtual"
	TypeUID        FieldType = "uid"
	TypeOrder      FieldType = "order"
)

// fieldTypeAliases maps legacy type names still found in older schema
// documents onto the canonical set.
var fieldTypeAliases = map[string]FieldType{
	"int":         TypeInteger,
	"bool":        TypeBoolean,
	"double":      TypeFloat,
	"image_media": TypeMedia,
	"template":    TypeVirtual,
}

var fieldTypes = map[FieldType]bool{
	TypeInteger: true, TypeFloat: true, TypeBoolean: true,
	TypeString: true, TypeText: true, TypeJSON: true,
	TypeDate: true, TypeDatetime: true, TypeSelect: true,
	TypeCheckboxes: true, TypeElements: true, TypeImage: true,
	TypeVideo: true, TypeAudio: true, TypeFile: true,
	TypeMedia: true, TypeModel: true, TypeVirtual: true,
	TypeUID: true, TypeOrder: true,
}

// ParseFieldType resolves a type string from a schema document.
// Returns false for anything outside the closed type set.
func ParseFieldType(s string) (FieldType, bool) {
	t := FieldType(strings.ToLower(strings.TrimSpace(s)))
	if alias, ok := fieldTypeAliases[string(t)]; ok {
		return alias, true
	}
	if fieldTypes[t] {
		return t, true
	}
	return "", false
}

// IsMedia reports whether the type carries a backing file whose path and
// cache-busting token are synthesized during materialization.
func (t FieldType) IsMedia() bool {
	switch t {
	case TypeImage, TypeVideo, TypeAudio, TypeFile, TypeMedia:
		return true
	}
	return false
}

// IsMultiValue reports whether values are stored as delimited id sets.
func (t FieldType) IsMultiValue() bool {
	return t == TypeCheckboxes || t == TypeElements
}

// Size describes one media size variant (folder plus optional bounds).
type Size struct {
	Folder string `json:"folder"`
	Width  int    `json:"width,omitempty"`
	Height int    `json:"height,omitempty"`
}

// Source points a field at the model or raw table its values resolve
// against: option lists for select/elements/checkboxes, child rows for
// model fields, join tables for external fields.
type Source struct {
	// Model is the name of a schema document to load and query.
	Model string `json:"model,omitempty"`

	// Table is a raw table name, used when no schema document exists
	// for the source (external join tables in particular).
	Table string `json:"table,omitempty"`

	// Field is the label column projected for option lists. Defaults
	// to "name".
	Field string `json:"field,omitempty"`

	// ID is the key column on the source. Defaults to "id".
	ID string `json:"id,omitempty"`

	// Filter narrows the source rows. Values may contain %field%
	// placeholders substituted from the parent row.
	Filter Filter `json:"filter,omitempty"`
}

// Settings carries per-field options. Zero values mean "unset".
type Settings struct {
	Length    int    `json:"length,omitempty"`
	Long      bool   `json:"long,omitempty"`
	Default   any    `json:"default,omitempty"`
	Template  string `json:"template,omitempty"`
	HashKey   string `json:"hash_key,omitempty"`
	UIDPrefix string `json:"uid_prefix,omitempty"`

	// Digits is the zero-pad width for multi-value id sets. Output
	// "string" disables the digit encoding entirely.
	Digits int    `json:"digits,omitempty"`
	Output string `json:"output,omitempty"`

	// MultipleFilters is the boolean operator joining multi-value LIKE
	// predicates for this field ("OR" unless set).
	MultipleFilters string `json:"multiple_filters,omitempty"`

	// External marks a many-to-many field persisted in a join table
	// rather than a column of the owning table.
	External   bool   `json:"external,omitempty"`
	OwnKey     string `json:"own_key,omitempty"`
	ForeignKey string `json:"foreign_key,omitempty"`

	// Media settings.
	Folder    string          `json:"folder,omitempty"`
	Filename  string          `json:"filename,omitempty"`
	Extension string          `json:"extension,omitempty"`
	Sizes     map[string]Size `json:"sizes,omitempty"`
}

// Field is one schema attribute: a real column, or a virtual, relation
// or media attribute resolved at materialization time.
type Field struct {
	Name     string
	Type     FieldType
	Settings Settings
	Source   *Source

	// Filter is the relation filter for model fields; values may
	// contain %field% placeholders substituted from the parent row.
	Filter Filter

	// PositionAfter relocates the field after the named field when
	// schemas are merged.
	PositionAfter string

	// Origins records which model documents contributed this field
	// during schema composition, in merge order.
	Origins []string
}

// IsColumn reports whether the field maps to a real column of the
// owning table and therefore participates in SELECT lists and SET
// clauses. Virtual and model fields never do; external multi-value
// fields live in their join table.
func (f *Field) IsColumn() bool {
	if f.Type == TypeVirtual || f.Type == TypeModel {
		return false
	}
	if f.Settings.External {
		return false
	}
	return true
}

// OwnKeyColumn returns the join-table column referencing the owning
// row for an external field.
func (f *Field) OwnKeyColumn(table string) string {
	if f.Settings.OwnKey != "" {
		return f.Settings.OwnKey
	}
	return table + "_id"
}

// ForeignKeyColumn returns the join-table column holding the related
// id for an external field.
func (f *Field) ForeignKeyColumn() string {
	if f.Settings.ForeignKey != "" {
		return f.Settings.ForeignKey
	}
	return f.Name + "_id"
}

// Localized reports whether the field name carries the :lang marker.
func (f *Field) Localized() bool {
	return strings.Contains(f.Name, LangMarker)
}

// LangMarker is the placeholder in localized field names expanded per
// configured language ("title:lang" -> "title_EN", "title_FR").
const LangMarker = ":lang"

// LangField resolves a :lang field name against one language.
func LangField(name, lang string) string {
	return strings.ReplaceAll(name, LangMarker, "_"+lang)
}

// OrderTerm is one ORDER BY term.
type OrderTerm struct {
	Column     string
	Descending bool
}

// ChildLink names a child schema reachable from this one through a
// foreign key field on the child.
type ChildLink struct {
	Model      string `json:"model"`
	ForeignKey string `json:"foreign_key"`
}

// Schema is one logical model: a table, an ordered field list, static
// filters, default ordering, URL templates and child links. Schemas are
// immutable once loaded; composition produces a new value.
type Schema struct {
	// Name is the combined logical name ("news" or "news+articles").
	Name string

	// Models lists the constituent document names in merge order.
	Models []string

	Table   string
	Fields  []Field
	Filters Filter
	Order   []OrderTerm
	URLs    map[string]string
	Links   []ChildLink

	// Provenance maps field name to the models that defined or
	// overrode it, in merge order.
	Provenance map[string][]string
}

// Field returns the field with the given name.
func (s *Schema) Field(name string) (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Name == name {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

// ResolveField finds the field behind a concrete column name,
// matching :lang fields through their per-language variants. Returns
// the field and the concrete column name to use.
func (s *Schema) ResolveField(name string, languages []string) (*Field, string, bool) {
	if f, ok := s.Field(name); ok {
		return f, name, true
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		if !f.Localized() {
			continue
		}
		for _, lang := range languages {
			if LangField(f.Name, lang) == name {
				return f, name, true
			}
		}
	}
	return nil, "", false
}

// FieldNames returns the ordered field names.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i := range s.Fields {
		names[i] = s.Fields[i].Name
	}
	return names
}

// Columns returns the fields that map to real columns of the table.
func (s *Schema) Columns() []Field {
	cols := make([]Field, 0, len(s.Fields))
	for _, f := range s.Fields {
		if f.IsColumn() {
			cols = append(cols, f)
		}
	}
	return cols
}

// UIDField returns the first uid-typed field, used to key media
// filenames.
func (s *Schema) UIDField() (*Field, bool) {
	for i := range s.Fields {
		if s.Fields[i].Type == TypeUID {
			return &s.Fields[i], true
		}
	}
	return nil, false
}

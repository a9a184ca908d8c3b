package schema

import (
	"fmt"

	"github.com/skothari-dev/loom/internal/core"
)

// Validator checks resolved schemas for authoring mistakes. Problems
// are collected into a list and returned together so schema tooling can
// show all of them at once; validation never halts.
type Validator struct{}

// NewValidator creates a schema validator.
func NewValidator() *Validator { return &Validator{} }

// Validate returns every problem found in the schema.
func (v *Validator) Validate(s *core.Schema) []error {
	var errs []error
	model := s.Name

	if s.Table == "" {
		errs = append(errs, core.ValidationError{Model: model, Msg: "table name is empty"})
	}
	if len(s.Fields) == 0 {
		errs = append(errs, core.ValidationError{Model: model, Msg: "schema has no fields"})
	}

	seen := make(map[string]bool, len(s.Fields))
	for i := range s.Fields {
		f := &s.Fields[i]
		if seen[f.Name] {
			errs = append(errs, core.ValidationError{Model: model, Field: f.Name, Msg: "duplicate field name"})
		}
		seen[f.Name] = true
		errs = append(errs, v.validateField(model, f)...)
	}

	for _, link := range s.Links {
		if link.Model == "" || link.ForeignKey == "" {
			errs = append(errs, core.ValidationError{Model: model, Msg: "child link needs both model and foreign_key"})
		}
	}
	return errs
}

func (v *Validator) validateField(model string, f *core.Field) []error {
	var errs []error

	switch f.Type {
	case core.TypeModel:
		if f.Source == nil || (f.Source.Model == "" && f.Source.Table == "") {
			errs = append(errs, core.ValidationError{Model: model, Field: f.Name, Msg: "model field needs a source model or table"})
		}
		if len(f.Filter) == 0 {
			errs = append(errs, core.ValidationError{Model: model, Field: f.Name, Msg: "model field needs a relation filter"})
		}
	case core.TypeVirtual:
		if f.Settings.Template == "" {
			errs = append(errs, core.ValidationError{Model: model, Field: f.Name, Msg: "virtual field needs settings.template"})
		}
	case core.TypeCheckboxes, core.TypeElements:
		if f.Settings.External && (f.Source == nil || f.Source.Table == "") {
			errs = append(errs, core.ValidationError{Model: model, Field: f.Name, Msg: "external field needs a source join table"})
		}
	}

	if f.Settings.HashKey != "" {
		switch f.Type {
		case core.TypeString, core.TypeText:
		default:
			errs = append(errs, core.ValidationError{Model: model, Field: f.Name,
				Msg: fmt.Sprintf("hash_key is only valid on string/text fields, not %s", f.Type)})
		}
	}

	if f.Settings.Length < 0 {
		errs = append(errs, core.ValidationError{Model: model, Field: f.Name, Msg: "length cannot be negative"})
	}
	if f.Settings.Digits < 0 {
		errs = append(errs, core.ValidationError{Model: model, Field: f.Name, Msg: "digits cannot be negative"})
	}
	return errs
}

package materialize

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/skothari-dev/loom/internal/core"
	"github.com/skothari-dev/loom/internal/filter"
	"github.com/skothari-dev/loom/internal/template"
)

// Reader issues nested queries for relation expansion. The engine
// implements it; the indirection keeps this package from depending on
// the query front end it feeds.
type Reader interface {
	GetMany(ctx context.Context, sess *core.Session, names []string, f core.Filter) ([]core.Record, error)
}

// Materializer turns raw rows into typed, nested records. Passes run
// in a fixed order because later ones read the output of earlier ones:
// coercion, decryption, relation expansion, language folding, media
// synthesis, virtual fields, URL synthesis. The schema itself is never
// mutated.
type Materializer struct {
	reader    Reader
	values    *filter.Values
	cipher    core.Cipher
	renderer  core.Renderer
	store     core.ObjectStore
	languages []string

	// PublicRoot is the local directory behind media URLs, used for
	// modification-time cache busting when no object store is set.
	PublicRoot string

	// PublicBase is the URL prefix media paths are published under.
	PublicBase string
}

// NewMaterializer creates a materializer. cipher and store may be nil
// when no encrypted or remote-backed fields exist; renderer must be
// set.
func NewMaterializer(values *filter.Values, cipher core.Cipher, renderer core.Renderer, store core.ObjectStore, languages []string) *Materializer {
	return &Materializer{
		values:    values,
		cipher:    cipher,
		renderer:  renderer,
		store:     store,
		languages: languages,
	}
}

// SetReader wires the nested-query reader. Must be called before
// materializing schemas with relation fields.
func (m *Materializer) SetReader(r Reader) { m.reader = r }

// Materialize shapes raw rows into records. The option cache for
// select/elements sources is scoped to this one invocation; nothing is
// shared across requests.
func (m *Materializer) Materialize(ctx context.Context, sess *core.Session, s *core.Schema, rows []core.Row) ([]core.Record, error) {
	records := make([]core.Record, len(rows))
	for i, row := range rows {
		rec := make(core.Record, len(row))
		for k, v := range row {
			rec[k] = v
		}
		records[i] = rec
	}

	// Pass 1: type coercion.
	for _, rec := range records {
		for i := range s.Fields {
			f := &s.Fields[i]
			for _, name := range m.concreteNames(f) {
				if v, ok := rec[name]; ok {
					rec[name] = coerce(f, v)
				}
			}
		}
	}

	// Pass 2: decryption. A missing cipher here is fatal; handing the
	// caller ciphertext would be worse than halting.
	if err := m.decrypt(s, records); err != nil {
		return nil, err
	}

	// Pass 3: relation expansion.
	cache := newOptionCache()
	for i := range s.Fields {
		f := &s.Fields[i]
		switch {
		case f.Type == core.TypeModel:
			if err := m.expandModel(ctx, sess, f, records); err != nil {
				return nil, err
			}
		case f.Source != nil && f.Source.Model != "" &&
			(f.Type.IsMultiValue() || f.Type == core.TypeSelect):
			if err := m.resolveSource(ctx, sess, f, records, cache); err != nil {
				return nil, err
			}
		}
	}

	// Pass 4: language folding.
	m.foldLanguages(sess, s, records)

	// Pass 5: media and file path synthesis.
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Type.IsMedia() {
			for _, rec := range records {
				m.synthesizeMedia(ctx, s, f, rec)
			}
		}
	}

	// Pass 6: virtual fields render over the already-shaped record.
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Type != core.TypeVirtual {
			continue
		}
		for _, rec := range records {
			out, err := m.renderer.Render(template.Substitute(f.Settings.Template, rec), rec)
			if err != nil {
				log.Printf("[MATERIALIZE] virtual field %s render failed: %v", f.Name, err)
				out = ""
			}
			rec[f.Name] = out
		}
	}

	// Pass 7: URL synthesis, %token% pass before the template pass so
	// static segments survive templates that are not valid actions.
	if len(s.URLs) > 0 {
		for _, rec := range records {
			urls := make(map[string]string, len(s.URLs))
			for name, tmpl := range s.URLs {
				expanded := template.Substitute(tmpl, rec)
				rendered, err := m.renderer.Render(expanded, rec)
				if err != nil {
					log.Printf("[MATERIALIZE] url %s render failed: %v", name, err)
					rendered = expanded
				}
				urls[name] = rendered
			}
			rec["urls"] = urls
		}
	}

	return records, nil
}

// concreteNames returns the raw column names a field reads from: the
// language variants for :lang fields, the field name otherwise.
func (m *Materializer) concreteNames(f *core.Field) []string {
	if !f.Localized() {
		return []string{f.Name}
	}
	names := make([]string, 0, len(m.languages))
	for _, lang := range m.languages {
		names = append(names, core.LangField(f.Name, lang))
	}
	return names
}

func (m *Materializer) decrypt(s *core.Schema, records []core.Record) error {
	for i := range s.Fields {
		f := &s.Fields[i]
		if f.Settings.HashKey == "" {
			continue
		}
		if m.cipher == nil {
			return &core.ConfigError{
				Msg: fmt.Sprintf("field %s is encrypted but no cipher is configured", f.Name),
				Err: core.ErrMissingKey,
			}
		}
		for _, rec := range records {
			raw, ok := rec[f.Name].(string)
			if !ok || raw == "" {
				continue
			}
			plain, err := m.cipher.Decrypt(raw, f.Settings.HashKey)
			if err != nil {
				return &core.ConfigError{
					Msg: fmt.Sprintf("failed to decrypt field %s", f.Name), Err: err,
				}
			}
			rec[f.Name] = plain
		}
	}
	return nil
}

// expandModel runs the nested query for a model field, once per
// parent record, with %field% placeholders substituted from the row.
// Child queries are data-dependent on parent rows, so they cannot
// batch.
func (m *Materializer) expandModel(ctx context.Context, sess *core.Session, f *core.Field, records []core.Record) error {
	if f.Source == nil || (f.Source.Model == "" && f.Source.Table == "") {
		return &core.ConfigError{Msg: fmt.Sprintf("model field %s has no source model or table", f.Name)}
	}
	if m.reader == nil {
		return &core.ConfigError{Msg: "materializer has no reader wired for relation expansion"}
	}

	for _, rec := range records {
		sub := make(core.Filter, len(f.Filter))
		for k, v := range f.Filter {
			if s, ok := v.(string); ok {
				sub[k] = template.Substitute(s, rec)
			} else {
				sub[k] = v
			}
		}
		children, err := m.reader.GetMany(ctx, sess, []string{f.Source.Model}, sub)
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Missing source schema: the field is dropped rather
				// than failing the whole query.
				delete(rec, f.Name)
				continue
			}
			return fmt.Errorf("failed to expand relation %s: %w", f.Name, err)
		}
		rec[f.Name] = children
	}
	return nil
}

// resolveSource resolves select/elements/checkboxes values against
// their source model in one batched query over the deduplicated id
// set, then fans the result back out per row. Never N+1.
func (m *Materializer) resolveSource(ctx context.Context, sess *core.Session, f *core.Field, records []core.Record, cache *optionCache) error {
	if m.reader == nil {
		return &core.ConfigError{Msg: "materializer has no reader wired for source resolution"}
	}

	// Collect the ids needed across all rows.
	perRecord := make([][]int64, len(records))
	need := make(map[int64]bool)
	for i, rec := range records {
		var ids []int64
		switch {
		case f.Type.IsMultiValue():
			if s, ok := rec[f.Name].(string); ok {
				ids = m.values.DecodeSet(f, s)
			}
		default:
			if id, ok := toID(rec[f.Name]); ok {
				ids = []int64{id}
			}
		}
		perRecord[i] = ids
		for _, id := range ids {
			if !cache.has(f.Source.Model, id) {
				need[id] = true
			}
		}
	}

	if len(need) > 0 {
		missing := make([]any, 0, len(need))
		for id := range need {
			missing = append(missing, id)
		}
		options, err := m.reader.GetMany(ctx, sess, []string{f.Source.Model}, core.Filter{f.Source.ID: missing})
		if err != nil {
			if errors.Is(err, core.ErrNotFound) {
				// Lenient policy: a vanished source model drops the
				// field instead of breaking the page.
				for _, rec := range records {
					delete(rec, f.Name)
				}
				return nil
			}
			return fmt.Errorf("failed to resolve source %s for field %s: %w", f.Source.Model, f.Name, err)
		}
		for _, opt := range options {
			if id, ok := opt.ID(); ok {
				cache.put(f.Source.Model, id, opt)
			}
		}
	}

	for i, rec := range records {
		if f.Type.IsMultiValue() {
			resolved := make([]core.Record, 0, len(perRecord[i]))
			for _, id := range perRecord[i] {
				if opt, ok := cache.get(f.Source.Model, id); ok {
					resolved = append(resolved, opt)
				}
			}
			rec[f.Name] = resolved
			continue
		}
		if len(perRecord[i]) == 1 {
			if opt, ok := cache.get(f.Source.Model, perRecord[i][0]); ok {
				rec[f.Name] = opt
			}
		}
	}
	return nil
}

// foldLanguages projects each :lang field's active-language column
// onto the canonical field name and removes the raw suffixed columns.
func (m *Materializer) foldLanguages(sess *core.Session, s *core.Schema, records []core.Record) {
	lang := ""
	if sess != nil {
		lang = sess.Language
	}
	if lang == "" && len(m.languages) > 0 {
		lang = m.languages[0]
	}
	for i := range s.Fields {
		f := &s.Fields[i]
		if !f.Localized() {
			continue
		}
		canonical := strings.Replace(f.Name, core.LangMarker, "", 1)
		active := core.LangField(f.Name, lang)
		for _, rec := range records {
			rec[canonical] = rec[active]
			for _, l := range m.languages {
				delete(rec, core.LangField(f.Name, l))
			}
		}
	}
}

// synthesizeMedia builds the per-size URL map for a media field. A
// missing backing file yields an empty value, not an error.
func (m *Materializer) synthesizeMedia(ctx context.Context, s *core.Schema, f *core.Field, rec core.Record) {
	name := template.Substitute(f.Settings.Filename, rec)
	name = template.Substitute(name, map[string]any{"field": f.Name})
	if template.HasTokens(name) || name == "" {
		// Unresolvable filename (usually a row without a uid yet).
		rec[f.Name] = ""
		return
	}
	if rendered, err := m.renderer.Render(name, rec); err == nil {
		name = rendered
	}
	if f.Settings.Extension != "" {
		name += "." + f.Settings.Extension
	}

	sizes := make(map[string]string, len(f.Settings.Sizes))
	found := false
	for sizeName, size := range f.Settings.Sizes {
		folder := size.Folder
		if folder == "" {
			folder = f.Settings.Folder
		}
		p := path.Join(folder, name)
		token, ok := m.cacheBust(ctx, p)
		if !ok {
			sizes[sizeName] = ""
			continue
		}
		found = true
		url := m.publicURL(p)
		if token != "" {
			url += "?" + token
		}
		sizes[sizeName] = url
	}
	if !found {
		rec[f.Name] = ""
		return
	}
	rec[f.Name] = sizes
}

// cacheBust returns the revalidation token for a media path: a content
// hash when backed by the object store, the file modification time
// otherwise. ok is false when the backing file is missing.
func (m *Materializer) cacheBust(ctx context.Context, p string) (string, bool) {
	if m.store != nil {
		hash, ok, err := m.store.ContentHash(ctx, p)
		if err != nil {
			log.Printf("[MATERIALIZE] object store lookup failed for %s: %v", p, err)
			return "", false
		}
		return hash, ok
	}
	if m.PublicRoot != "" {
		info, err := os.Stat(path.Join(m.PublicRoot, p))
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(info.ModTime().Unix(), 10), true
	}
	// No backing store to consult; publish the path without a token.
	return "", true
}

func (m *Materializer) publicURL(p string) string {
	if m.store != nil {
		return m.store.PublicURL(p)
	}
	return m.PublicBase + "/" + p
}

// optionCache memoizes resolved source records for one materialization
// pass. It is deliberately not shared across invocations: stale option
// lists crossing requests were the original sin this design removes.
type optionCache struct {
	byModel map[string]map[int64]core.Record
}

func newOptionCache() *optionCache {
	return &optionCache{byModel: make(map[string]map[int64]core.Record)}
}

func (c *optionCache) has(model string, id int64) bool {
	_, ok := c.byModel[model][id]
	return ok
}

func (c *optionCache) get(model string, id int64) (core.Record, bool) {
	r, ok := c.byModel[model][id]
	return r, ok
}

func (c *optionCache) put(model string, id int64, r core.Record) {
	if c.byModel[model] == nil {
		c.byModel[model] = make(map[int64]core.Record)
	}
	c.byModel[model][id] = r
}

func toID(value any) (int64, bool) {
	switch v := value.(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

package materialize

import (
	"context"
	"fmt"
	"testing"

	"github.com/skothari-dev/loom/internal/core"
	"github.com/skothari-dev/loom/internal/filter"
	"github.com/skothari-dev/loom/internal/template"
)

// fakeReader serves canned records per model and counts queries so
// tests can prove source resolution batches.
type fakeReader struct {
	records map[string][]core.Record
	queries []string
}

func (r *fakeReader) GetMany(_ context.Context, _ *core.Session, names []string, f core.Filter) ([]core.Record, error) {
	model := names[0]
	r.queries = append(r.queries, fmt.Sprintf("%s %v", model, f))
	recs, ok := r.records[model]
	if !ok {
		return nil, fmt.Errorf("schema document %q: %w", model, core.ErrNotFound)
	}
	// Filter by id set when the filter carries one.
	if ids, ok := f["id"].([]any); ok {
		want := make(map[int64]bool, len(ids))
		for _, id := range ids {
			if n, ok := id.(int64); ok {
				want[n] = true
			}
		}
		var out []core.Record
		for _, rec := range recs {
			if id, ok := rec.ID(); ok && want[id] {
				out = append(out, rec)
			}
		}
		return out, nil
	}
	return recs, nil
}

func newTestMaterializer(reader Reader) *Materializer {
	m := NewMaterializer(filter.NewValues(nil, 0), nil, template.NewRenderer(), nil, []string{"EN", "FR"})
	if reader != nil {
		m.SetReader(reader)
	}
	return m
}

func TestTypeCoercion(t *testing.T) {
	s := &core.Schema{
		Name: "t", Table: "t",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "score", Type: core.TypeFloat},
			{Name: "active", Type: core.TypeBoolean},
			{Name: "meta", Type: core.TypeJSON},
		},
	}
	m := newTestMaterializer(nil)
	recs, err := m.Materialize(context.Background(), nil, s, []core.Row{
		{"id": "42", "score": "1.5", "active": "1", "meta": `{"a":1}`},
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	rec := recs[0]
	if rec["id"] != int64(42) {
		t.Errorf("id = %v (%T)", rec["id"], rec["id"])
	}
	if rec["score"] != 1.5 {
		t.Errorf("score = %v", rec["score"])
	}
	if rec["active"] != int64(1) {
		t.Errorf("active = %v", rec["active"])
	}
	meta, ok := rec["meta"].(map[string]any)
	if !ok || meta["a"] != float64(1) {
		t.Errorf("meta = %v", rec["meta"])
	}
}

func TestLanguageFolding(t *testing.T) {
	s := &core.Schema{
		Name: "t", Table: "t",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "title:lang", Type: core.TypeString},
		},
	}
	m := newTestMaterializer(nil)
	sess := core.NewSession("FR")
	recs, err := m.Materialize(context.Background(), sess, s, []core.Row{
		{"id": int64(1), "title_EN": "Hello", "title_FR": "Bonjour"},
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	rec := recs[0]
	if rec["title"] != "Bonjour" {
		t.Errorf("title = %v", rec["title"])
	}
	if _, ok := rec["title_EN"]; ok {
		t.Error("raw suffixed column title_EN must be removed")
	}
	if _, ok := rec["title_FR"]; ok {
		t.Error("raw suffixed column title_FR must be removed")
	}
}

func TestLanguageFoldingMidNameMarker(t *testing.T) {
	s := &core.Schema{
		Name: "t", Table: "t",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "title:lang_draft", Type: core.TypeString},
		},
	}
	m := newTestMaterializer(nil)
	sess := core.NewSession("FR")
	recs, err := m.Materialize(context.Background(), sess, s, []core.Row{
		{"id": int64(1), "title_EN_draft": "Draft", "title_FR_draft": "Brouillon"},
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	rec := recs[0]
	if rec["title_draft"] != "Brouillon" {
		t.Errorf("title_draft = %v", rec["title_draft"])
	}
	if _, ok := rec["title_FR_draft"]; ok {
		t.Error("raw suffixed column title_FR_draft must be removed")
	}
}

func TestModelRelationExpansion(t *testing.T) {
	s := &core.Schema{
		Name: "users", Table: "users",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{
				Name: "posts", Type: core.TypeModel,
				Source: &core.Source{Model: "posts", ID: "id", Field: "name"},
				Filter: core.Filter{"user_id": "%id%"},
			},
		},
	}
	reader := &fakeReader{records: map[string][]core.Record{
		"posts": {{"id": int64(10), "user_id": int64(1)}},
	}}
	m := newTestMaterializer(reader)
	recs, err := m.Materialize(context.Background(), nil, s, []core.Row{{"id": int64(1)}})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	posts, ok := recs[0]["posts"].([]core.Record)
	if !ok || len(posts) != 1 {
		t.Fatalf("posts = %v", recs[0]["posts"])
	}
	if len(reader.queries) != 1 || reader.queries[0] != "posts map[user_id:1]" {
		t.Errorf("queries = %v", reader.queries)
	}
}

func TestModelRelationWithoutSourceIsFatal(t *testing.T) {
	s := &core.Schema{
		Name: "users", Table: "users",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "posts", Type: core.TypeModel, Filter: core.Filter{"user_id": "%id%"}},
		},
	}
	m := newTestMaterializer(&fakeReader{})
	_, err := m.Materialize(context.Background(), nil, s, []core.Row{{"id": int64(1)}})
	if err == nil {
		t.Fatal("model field without a source must be fatal")
	}
}

func TestMissingSourceModelDropsField(t *testing.T) {
	s := &core.Schema{
		Name: "users", Table: "users",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{
				Name: "posts", Type: core.TypeModel,
				Source: &core.Source{Model: "vanished", ID: "id"},
				Filter: core.Filter{"user_id": "%id%"},
			},
		},
	}
	m := newTestMaterializer(&fakeReader{records: map[string][]core.Record{}})
	recs, err := m.Materialize(context.Background(), nil, s, []core.Row{{"id": int64(1), "posts": "x"}})
	if err != nil {
		t.Fatalf("missing source model must not fail the query: %v", err)
	}
	if _, ok := recs[0]["posts"]; ok {
		t.Error("field backed by a missing source model must be dropped")
	}
}

func TestBatchedSourceResolution(t *testing.T) {
	s := &core.Schema{
		Name: "articles", Table: "articles",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{
				Name: "tags", Type: core.TypeCheckboxes,
				Source:   &core.Source{Model: "tags", ID: "id", Field: "name"},
				Settings: core.Settings{Digits: 4},
			},
		},
	}
	reader := &fakeReader{records: map[string][]core.Record{
		"tags": {
			{"id": int64(1), "name": "go"},
			{"id": int64(2), "name": "sql"},
			{"id": int64(3), "name": "orm"},
		},
	}}
	m := newTestMaterializer(reader)
	recs, err := m.Materialize(context.Background(), nil, s, []core.Row{
		{"id": int64(1), "tags": "0001,0002"},
		{"id": int64(2), "tags": "0002,0003"},
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if len(reader.queries) != 1 {
		t.Fatalf("source resolution must batch into one query, got %v", reader.queries)
	}
	first, _ := recs[0]["tags"].([]core.Record)
	second, _ := recs[1]["tags"].([]core.Record)
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("fan-out wrong: %v / %v", recs[0]["tags"], recs[1]["tags"])
	}
	if first[0]["name"] != "go" || second[1]["name"] != "orm" {
		t.Errorf("resolved tags = %v / %v", first, second)
	}
}

func TestVirtualField(t *testing.T) {
	s := &core.Schema{
		Name: "users", Table: "users",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "name", Type: core.TypeString},
			{Name: "email", Type: core.TypeString},
			{
				Name: "display", Type: core.TypeVirtual,
				Settings: core.Settings{Template: "{{.name}} <{{.email}}>"},
			},
		},
	}
	m := newTestMaterializer(nil)
	recs, err := m.Materialize(context.Background(), nil, s, []core.Row{
		{"id": int64(1), "name": "Ann", "email": "a@x.com"},
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if recs[0]["display"] != "Ann <a@x.com>" {
		t.Errorf("display = %v", recs[0]["display"])
	}
}

func TestURLSynthesis(t *testing.T) {
	s := &core.Schema{
		Name: "users", Table: "users",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "slug", Type: core.TypeString},
		},
		URLs: map[string]string{"detail": "/users/%id%/{{.slug}}"},
	}
	m := newTestMaterializer(nil)
	recs, err := m.Materialize(context.Background(), nil, s, []core.Row{
		{"id": int64(7), "slug": "ann"},
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	urls, _ := recs[0]["urls"].(map[string]string)
	if urls["detail"] != "/users/7/ann" {
		t.Errorf("detail url = %q", urls["detail"])
	}
}

func TestMediaMissingFileYieldsEmpty(t *testing.T) {
	s := &core.Schema{
		Name: "articles", Table: "articles",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "uid", Type: core.TypeUID},
			{
				Name: "photo", Type: core.TypeImage,
				Settings: core.Settings{
					Folder:   "photos",
					Filename: "%uid%",
					Sizes:    map[string]core.Size{"original": {Folder: "photos"}},
				},
			},
		},
	}
	m := newTestMaterializer(nil)
	m.PublicRoot = t.TempDir() // empty dir: backing file absent
	recs, err := m.Materialize(context.Background(), nil, s, []core.Row{
		{"id": int64(1), "uid": "ab12cd"},
	})
	if err != nil {
		t.Fatalf("Materialize failed: %v", err)
	}
	if recs[0]["photo"] != "" {
		t.Errorf("photo = %v, want empty for missing backing file", recs[0]["photo"])
	}
}

func TestDecryptionWithoutCipherIsFatal(t *testing.T) {
	s := &core.Schema{
		Name: "users", Table: "users",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "ssn", Type: core.TypeString, Settings: core.Settings{HashKey: "ssn-salt"}},
		},
	}
	m := newTestMaterializer(nil)
	_, err := m.Materialize(context.Background(), nil, s, []core.Row{
		{"id": int64(1), "ssn": "Z0lwaGVyZWQ="},
	})
	if err == nil {
		t.Fatal("encrypted field without cipher must halt")
	}
}

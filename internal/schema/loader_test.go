package schema

import (
	"errors"
	"testing"

	"github.com/skothari-dev/loom/internal/core"
)

var testDocs = MapDocumentStore{
	"users": []byte(`{
		"table": "users",
		"fields": [
			{"field": "id", "type": "integer"},
			{"field": "name", "type": "string", "settings": {"length": 120}},
			{"field": "email", "type": "string"},
			{"field": "status", "type": "select"}
		],
		"filters": {"deleted": 0},
		"order": ["name ASC"]
	}`),
	"editors": []byte(`{
		"fields": [
			{"field": "email", "type": "string", "settings": {"length": 250}},
			{"field": "role", "type": "string", "position_after": "name"}
		]
	}`),
	"articles": []byte(`{
		"table": "articles",
		"fields": [
			{"field": "title:lang", "type": "string"},
			{"field": "photo", "type": "image", "folder": "photos"}
		]
	}`),
	"archive": []byte(`{
		"fields": [
			{"field": "name", "type": "string", "position_after": "status"}
		]
	}`),
	"pinned": []byte(`{
		"fields": [
			{"field": "status", "type": "select", "position_after": "id"}
		]
	}`),
	"broken": []byte(`{
		"table": "broken",
		"fields": [{"field": "x", "type": "hologram"}]
	}`),
}

func newTestLoader() *Loader {
	return NewLoader(testDocs, []string{"EN", "FR"})
}

func TestLoadSingleSchema(t *testing.T) {
	l := newTestLoader()
	s, err := l.Load(nil, []string{"users"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Table != "users" {
		t.Errorf("table = %q, want users", s.Table)
	}
	want := []string{"id", "name", "email", "status"}
	got := s.FieldNames()
	if len(got) != len(want) {
		t.Fatalf("fields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	if s.Filters["deleted"] != float64(0) {
		t.Errorf("static filter deleted = %v", s.Filters["deleted"])
	}
}

func TestLoadMissingSchema(t *testing.T) {
	l := newTestLoader()
	_, err := l.Load(nil, []string{"nope"}, false)
	if !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestLoadUnknownTypeRejected(t *testing.T) {
	l := newTestLoader()
	_, err := l.Load(nil, []string{"broken"}, false)
	var cfgErr *core.ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("err = %v, want ConfigError", err)
	}
}

func TestOverrideRelocatesWithPositionAfter(t *testing.T) {
	l := newTestLoader()

	// Forward move: the overriding document pushes name to the end.
	s, err := l.Load(nil, []string{"users", "archive"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want := []string{"id", "email", "status", "name"}
	got := s.FieldNames()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fields = %v, want %v", got, want)
		}
	}

	// Backward move: status slots in right after id.
	s, err = l.Load(nil, []string{"users", "pinned"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	want = []string{"id", "status", "name", "email"}
	got = s.FieldNames()
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("fields = %v, want %v", got, want)
		}
	}
}

func TestMergeOverridesAndPositions(t *testing.T) {
	l := newTestLoader()
	s, err := l.Load(nil, []string{"users", "editors"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	// email keeps its position but takes the override's settings;
	// role slots in after name.
	want := []string{"id", "name", "role", "email", "status"}
	got := s.FieldNames()
	if len(got) != len(want) {
		t.Fatalf("fields = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("field[%d] = %q, want %q", i, got[i], want[i])
		}
	}
	email, _ := s.Field("email")
	if email.Settings.Length != 250 {
		t.Errorf("email length = %d, want override 250", email.Settings.Length)
	}
	if len(email.Origins) != 2 {
		t.Errorf("email origins = %v, want users+editors", email.Origins)
	}
	if prov := s.Provenance["email"]; len(prov) != 2 || prov[0] != "users" || prov[1] != "editors" {
		t.Errorf("provenance[email] = %v", prov)
	}
}

func TestMergeIdempotent(t *testing.T) {
	l := newTestLoader()
	once, err := l.Load(nil, []string{"users", "editors"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	twice, err := l.Load(nil, []string{"users", "editors", "editors"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	a, b := once.FieldNames(), twice.FieldNames()
	if len(a) != len(b) {
		t.Fatalf("field sets differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("field[%d]: %q vs %q", i, a[i], b[i])
		}
	}
}

func TestLanguageExpansion(t *testing.T) {
	l := newTestLoader()
	s, err := l.Load(nil, []string{"articles"}, true)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, ok := s.Field("title_EN"); !ok {
		t.Error("missing title_EN")
	}
	if _, ok := s.Field("title_FR"); !ok {
		t.Error("missing title_FR")
	}
	if _, ok := s.Field("title:lang"); ok {
		t.Error("raw :lang field should be gone after expansion")
	}
}

func TestMediaNormalization(t *testing.T) {
	l := newTestLoader()
	s, err := l.Load(nil, []string{"articles"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	photo, ok := s.Field("photo")
	if !ok {
		t.Fatal("missing photo field")
	}
	if photo.Settings.Folder != "photos" {
		t.Errorf("deprecated folder not folded into settings: %q", photo.Settings.Folder)
	}
	if photo.Settings.Filename != "%uid%" {
		t.Errorf("default filename = %q, want %%uid%%", photo.Settings.Filename)
	}
	if _, ok := photo.Settings.Sizes["original"]; !ok {
		t.Error("original size variant not injected")
	}
	if _, ok := s.UIDField(); !ok {
		t.Error("synthetic uid field not added")
	}
}

func TestIDSynthesis(t *testing.T) {
	l := newTestLoader()
	s, err := l.Load(nil, []string{"articles"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Fields[0].Name != "id" {
		t.Errorf("first field = %q, want synthesized id", s.Fields[0].Name)
	}
	if s.Fields[0].Type != core.TypeInteger {
		t.Errorf("id type = %q", s.Fields[0].Type)
	}
}

func TestSessionSchemaCache(t *testing.T) {
	l := newTestLoader()
	sess := core.NewSession("EN")
	first, err := l.Load(sess, []string{"users"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := l.Load(sess, []string{"users"}, false)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if first != second {
		t.Error("second load should return the session-cached schema")
	}
}

func TestValidatorCollectsAllProblems(t *testing.T) {
	v := NewValidator()
	s := &core.Schema{
		Name: "bad",
		Fields: []core.Field{
			{Name: "rel", Type: core.TypeModel},
			{Name: "disp", Type: core.TypeVirtual},
			{Name: "n", Type: core.TypeInteger, Settings: core.Settings{HashKey: "k"}},
		},
	}
	errs := v.Validate(s)
	if len(errs) < 4 {
		t.Fatalf("want at least 4 problems (table, model source, model filter, virtual template, hash type), got %d: %v", len(errs), errs)
	}
}

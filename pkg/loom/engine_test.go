package loom

import (
	"context"
	"errors"
	"strings"
	"testing"

	lcache "github.com/skothari-dev/loom/internal/cache"
	"github.com/skothari-dev/loom/internal/core"
	"github.com/skothari-dev/loom/internal/schema"
)

// fakeConn records statements and serves scripted query results in
// order.
type fakeConn struct {
	queries  []string
	execs    []string
	results  [][]core.Row
	insertID int64
	affected int64
	execErr  error
}

func (c *fakeConn) Query(_ context.Context, query string, _ []core.Param) ([]core.Row, error) {
	c.queries = append(c.queries, query)
	if len(c.results) == 0 {
		return nil, nil
	}
	r := c.results[0]
	c.results = c.results[1:]
	return r, nil
}

func (c *fakeConn) Exec(_ context.Context, query string, _ []core.Param) (core.Result, error) {
	if c.execErr != nil {
		return nil, c.execErr
	}
	c.execs = append(c.execs, query)
	return fakeResult{id: c.insertID, n: c.affected}, nil
}

func (c *fakeConn) Columns(context.Context, string) ([]core.ColumnInfo, error) {
	return nil, core.ErrNotFound
}
func (c *fakeConn) Tables(context.Context) ([]string, error) { return nil, nil }
func (c *fakeConn) Close() error                             { return nil }

type fakeResult struct {
	id, n int64
}

func (r fakeResult) LastInsertId() (int64, error) { return r.id, nil }
func (r fakeResult) RowsAffected() (int64, error) { return r.n, nil }

var testDocs = schema.MapDocumentStore{
	"users": []byte(`{
		"table": "users",
		"fields": [
			{"field": "name", "type": "string"},
			{"field": "email", "type": "string"},
			{"field": "active", "type": "boolean"},
			{"field": "display", "type": "virtual", "settings": {"template": "{{.name}}"}}
		],
		"order": ["name ASC"]
	}`),
	"articles": []byte(`{
		"table": "articles",
		"fields": [
			{"field": "title:lang", "type": "string"},
			{"field": "views", "type": "integer"}
		]
	}`),
}

func testEngine(conn core.Connection, resultCache core.Cache) *Engine {
	cfg := DefaultConfig()
	cfg.Schema.Languages = []string{"EN", "FR"}
	cfg.Schema.DefaultLanguage = "EN"
	return assemble(cfg, conn, testDocs, nil, nil, resultCache, nil)
}

func TestGetManyMaterializesRows(t *testing.T) {
	conn := &fakeConn{results: [][]core.Row{{
		{"id": int64(7), "name": "Ann", "email": "ann@example.com", "active": int64(1)},
	}}}
	e := testEngine(conn, nil)
	sess := e.Session()

	records, err := e.GetMany(context.Background(), sess, []string{"users"}, Filter{"active": true})
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d records", len(records))
	}
	rec := records[0]
	if rec["active"] != int64(1) || rec["name"] != "Ann" {
		t.Errorf("record = %+v", rec)
	}
	if rec["display"] != "Ann" {
		t.Errorf("virtual field = %v", rec["display"])
	}

	query := conn.queries[0]
	if !strings.HasPrefix(query, "SELECT `id`, `name`, `email`, `active` FROM `users`") {
		t.Errorf("query = %s", query)
	}
	if !strings.Contains(query, "WHERE `active` = ?") {
		t.Errorf("query missing filter: %s", query)
	}
	if !strings.Contains(query, "ORDER BY `name` ASC") {
		t.Errorf("query missing schema order: %s", query)
	}
}

func TestGetManyExpandsLocalizedColumns(t *testing.T) {
	conn := &fakeConn{results: [][]core.Row{{
		{"id": int64(1), "title_EN": "Hello", "title_FR": "Bonjour", "views": int64(3)},
	}}}
	e := testEngine(conn, nil)
	sess := e.SessionFor("FR")

	records, err := e.GetMany(context.Background(), sess, []string{"articles"}, nil)
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}

	query := conn.queries[0]
	if !strings.Contains(query, "`title_EN`, `title_FR`") {
		t.Errorf("localized columns not expanded: %s", query)
	}
	rec := records[0]
	if rec["title"] != "Bonjour" {
		t.Errorf("title = %v, want the FR column folded in", rec["title"])
	}
	if _, ok := rec["title_EN"]; ok {
		t.Error("suffixed columns must be folded away")
	}
}

func TestGetManyFiltersAndOrdersLocalizedFields(t *testing.T) {
	conn := &fakeConn{results: [][]core.Row{{
		{"id": int64(1), "title_EN": "Hello", "title_FR": "Bonjour", "views": int64(3)},
	}}}
	e := testEngine(conn, nil)
	sess := e.SessionFor("FR")

	_, err := e.GetMany(context.Background(), sess, []string{"articles"},
		Filter{"title:lang": "Bonjour"}, WithOrder("title:lang", false))
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}

	query := conn.queries[0]
	if !strings.Contains(query, "WHERE `title_FR` = ?") {
		t.Errorf("localized filter not projected onto FR: %s", query)
	}
	if !strings.Contains(query, "ORDER BY `title_FR` ASC") {
		t.Errorf("localized order not projected onto FR: %s", query)
	}
}

func TestGetReturnsNotFound(t *testing.T) {
	e := testEngine(&fakeConn{}, nil)
	_, err := e.Get(context.Background(), e.Session(), []string{"users"}, Filter{"id": 1})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestGetManyRejectsUnknownFilterKey(t *testing.T) {
	e := testEngine(&fakeConn{}, nil)
	_, err := e.GetMany(context.Background(), e.Session(), []string{"users"}, Filter{"password": "x"})
	if err == nil {
		t.Error("unknown filter key must be rejected")
	}
}

func TestGetManyLimitAndOffset(t *testing.T) {
	conn := &fakeConn{}
	e := testEngine(conn, nil)

	_, err := e.GetMany(context.Background(), e.Session(), []string{"users"}, nil,
		WithOrder("email", true), WithLimit(10), WithOffset(20))
	if err != nil {
		t.Fatalf("GetMany failed: %v", err)
	}
	query := conn.queries[0]
	if !strings.Contains(query, "ORDER BY `email` DESC") {
		t.Errorf("explicit order not applied: %s", query)
	}
	if !strings.Contains(query, "LIMIT 10 OFFSET 20") {
		t.Errorf("limit/offset missing: %s", query)
	}
}

func TestGetManyServesFromCache(t *testing.T) {
	conn := &fakeConn{results: [][]core.Row{
		{{"id": int64(7), "name": "Ann", "email": "a@x", "active": int64(1)}},
		{{"id": int64(7), "name": "Ann", "email": "a@x", "active": int64(1)}},
	}}
	e := testEngine(conn, lcache.NewMemoryCache())
	sess := e.Session()
	ctx := context.Background()

	if _, err := e.GetMany(ctx, sess, []string{"users"}, Filter{"id": 7}); err != nil {
		t.Fatalf("first read failed: %v", err)
	}
	if _, err := e.GetMany(ctx, sess, []string{"users"}, Filter{"id": 7}); err != nil {
		t.Fatalf("second read failed: %v", err)
	}
	if len(conn.queries) != 1 {
		t.Errorf("expected 1 database query, got %d", len(conn.queries))
	}

	// A skip-cache session always reaches the database.
	sess.SkipCache = true
	if _, err := e.GetMany(ctx, sess, []string{"users"}, Filter{"id": 7}); err != nil {
		t.Fatalf("skip-cache read failed: %v", err)
	}
	if len(conn.queries) != 2 {
		t.Errorf("skip-cache read did not hit the database")
	}
}

func TestPostCreatesRecord(t *testing.T) {
	conn := &fakeConn{insertID: 7}
	e := testEngine(conn, nil)

	id, err := e.Post(context.Background(), e.Session(), []string{"users"},
		map[string]any{"name": "Ann", "email": "ann@example.com"})
	if err != nil {
		t.Fatalf("Post failed: %v", err)
	}
	if id != 7 {
		t.Errorf("id = %d", id)
	}
	if len(conn.execs) != 1 || !strings.HasPrefix(conn.execs[0], "INSERT INTO `users`") {
		t.Errorf("execs = %v", conn.execs)
	}
}

func TestWriteErrorPolicy(t *testing.T) {
	conn := &fakeConn{execErr: errors.New("duplicate entry")}
	e := testEngine(conn, nil)
	sess := e.Session()
	ctx := context.Background()

	// Default policy: falsy return, error surfaced via LastError.
	id, err := e.Post(ctx, sess, []string{"users"}, map[string]any{"name": "Ann"})
	if err != nil || id != 0 {
		t.Errorf("id = %d, err = %v; want silent zero", id, err)
	}
	if e.LastError() == nil || !strings.Contains(e.LastError().Error(), "duplicate entry") {
		t.Errorf("LastError = %v", e.LastError())
	}

	// Sessions can opt into hard errors.
	sess.ReturnError = true
	if _, err := e.Post(ctx, sess, []string{"users"}, map[string]any{"name": "Ann"}); err == nil {
		t.Error("ReturnError session must surface the write error")
	}
}

func TestPostWithNoResolvableFields(t *testing.T) {
	e := testEngine(&fakeConn{}, nil)
	sess := e.Session()

	id, err := e.Post(context.Background(), sess, []string{"users"}, map[string]any{"unknown": 1})
	if err != nil || id != 0 {
		t.Errorf("id = %d, err = %v", id, err)
	}
	if !errors.Is(e.LastError(), core.ErrNoFields) {
		t.Errorf("LastError = %v, want ErrNoFields", e.LastError())
	}
}

func TestGetSchemaMissingModel(t *testing.T) {
	e := testEngine(&fakeConn{}, nil)
	if _, err := e.GetSchema(e.Session(), []string{"payments"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestSyncCreatesTable(t *testing.T) {
	conn := &fakeConn{}
	e := testEngine(conn, nil)

	report, err := e.Sync(context.Background(), e.Session(), []string{"articles"},
		SyncOptions{Create: true, Mode: SyncAuto})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !report.Executed || len(conn.execs) != 1 {
		t.Fatalf("report = %+v, execs = %v", report, conn.execs)
	}
	stmt := conn.execs[0]
	for _, want := range []string{"`title_EN` VARCHAR(255)", "`title_FR` VARCHAR(255)", "`views` INT(11)"} {
		if !strings.Contains(stmt, want) {
			t.Errorf("stmt missing %q: %s", want, stmt)
		}
	}
}

func TestValidateSchemaCollectsProblems(t *testing.T) {
	docs := schema.MapDocumentStore{
		"broken": []byte(`{
			"table": "broken",
			"fields": [
				{"field": "rel", "type": "model"},
				{"field": "virt", "type": "virtual"}
			]
		}`),
	}
	cfg := DefaultConfig()
	e := assemble(cfg, &fakeConn{}, docs, nil, nil, nil, nil)

	problems, err := e.ValidateSchema(e.Session(), []string{"broken"})
	if err != nil {
		t.Fatalf("ValidateSchema failed: %v", err)
	}
	if len(problems) < 2 {
		t.Errorf("problems = %v", problems)
	}
}

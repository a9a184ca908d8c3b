package ddl

import (
	"context"
	"strings"
	"testing"

	"github.com/skothari-dev/loom/internal/core"
)

type fakeConn struct {
	columns []core.ColumnInfo
	missing bool
	execs   []string
}

func (c *fakeConn) Query(context.Context, string, []core.Param) ([]core.Row, error) {
	return nil, nil
}

func (c *fakeConn) Exec(_ context.Context, query string, _ []core.Param) (core.Result, error) {
	c.execs = append(c.execs, query)
	return fakeResult{}, nil
}

func (c *fakeConn) Columns(context.Context, string) ([]core.ColumnInfo, error) {
	if c.missing {
		return nil, core.ErrNotFound
	}
	return c.columns, nil
}

func (c *fakeConn) Tables(context.Context) ([]string, error) { return nil, nil }
func (c *fakeConn) Close() error                             { return nil }

type fakeResult struct{}

func (fakeResult) LastInsertId() (int64, error) { return 0, nil }
func (fakeResult) RowsAffected() (int64, error) { return 0, nil }

func newsSchema() *core.Schema {
	return &core.Schema{
		Name: "news", Table: "news",
		Fields: []core.Field{
			{Name: "id", Type: core.TypeInteger},
			{Name: "title", Type: core.TypeString, Settings: core.Settings{Length: 160}},
			{Name: "body", Type: core.TypeText, Settings: core.Settings{Long: true}},
			{Name: "published", Type: core.TypeBoolean},
			{Name: "tags", Type: core.TypeCheckboxes},
			{Name: "display", Type: core.TypeVirtual, Settings: core.Settings{Template: "x"}},
		},
	}
}

func TestColumnTypeMapping(t *testing.T) {
	cases := []struct {
		field core.Field
		want  string
	}{
		{core.Field{Name: "n", Type: core.TypeInteger}, "INT(11)"},
		{core.Field{Name: "n", Type: core.TypeString}, "VARCHAR(255)"},
		{core.Field{Name: "n", Type: core.TypeString, Settings: core.Settings{Length: 64}}, "VARCHAR(64)"},
		{core.Field{Name: "n", Type: core.TypeText}, "TEXT"},
		{core.Field{Name: "n", Type: core.TypeText, Settings: core.Settings{Long: true}}, "LONGTEXT"},
		{core.Field{Name: "n", Type: core.TypeBoolean}, "TINYINT(1)"},
		{core.Field{Name: "n", Type: core.TypeCheckboxes}, "VARCHAR(255)"},
		{core.Field{Name: "n", Type: core.TypeDate}, "DATE"},
		{core.Field{Name: "n", Type: core.TypeUID}, "VARCHAR(32)"},
		{core.Field{Name: "n", Type: core.TypeSelect, Source: &core.Source{Model: "m"}}, "INT(11)"},
		{core.Field{Name: "n", Type: core.TypeSelect, Settings: core.Settings{Output: "string", Length: 40}, Source: &core.Source{Model: "m"}}, "VARCHAR(40)"},
	}
	for _, tc := range cases {
		got, ok := ColumnType(&tc.field)
		if !ok || got != tc.want {
			t.Errorf("ColumnType(%s) = %q, want %q", tc.field.Type, got, tc.want)
		}
	}
	if _, ok := ColumnType(&core.Field{Name: "v", Type: core.TypeVirtual}); ok {
		t.Error("virtual fields must map to no column")
	}
}

func TestSyncCreatesMissingTable(t *testing.T) {
	conn := &fakeConn{missing: true}
	s := NewSynchronizer(conn)
	report, err := s.Sync(context.Background(), newsSchema(), Options{Create: true, Mode: ModeAuto})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !report.Executed || len(conn.execs) != 1 {
		t.Fatalf("report = %+v, execs = %v", report, conn.execs)
	}
	stmt := conn.execs[0]
	if !strings.HasPrefix(stmt, "CREATE TABLE `news`") {
		t.Errorf("stmt = %q", stmt)
	}
	for _, want := range []string{
		"`id` INT(11) NOT NULL AUTO_INCREMENT",
		"`title` VARCHAR(160)",
		"`body` LONGTEXT",
		"`published` TINYINT(1)",
		"PRIMARY KEY (`id`)",
	} {
		if !strings.Contains(stmt, want) {
			t.Errorf("stmt missing %q: %s", want, stmt)
		}
	}
	if strings.Contains(stmt, "display") {
		t.Errorf("virtual field leaked into DDL: %s", stmt)
	}
}

func TestSyncAddsAndModifiesColumns(t *testing.T) {
	conn := &fakeConn{columns: []core.ColumnInfo{
		{Name: "id", Type: "int(11)"},
		{Name: "title", Type: "varchar(80)"},
		{Name: "published", Type: "tinyint(1)"},
		{Name: "tags", Type: "varchar(255)"},
	}}
	s := NewSynchronizer(conn)
	report, err := s.Sync(context.Background(), newsSchema(), Options{Update: true, Mode: ModeInfo})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if report.Executed || len(conn.execs) != 0 {
		t.Fatal("info mode must not execute")
	}
	var kinds []string
	for _, a := range report.Actions {
		kinds = append(kinds, a.Kind+":"+a.SQL)
	}
	joined := strings.Join(kinds, "\n")
	if !strings.Contains(joined, "add:ALTER TABLE `news` ADD COLUMN `body` LONGTEXT AFTER `title`") {
		t.Errorf("missing body ADD in %s", joined)
	}
	if !strings.Contains(joined, "modify:ALTER TABLE `news` MODIFY COLUMN `title` VARCHAR(160)") {
		t.Errorf("missing title MODIFY in %s", joined)
	}
}

func TestSyncTreatsAliasesAsEqual(t *testing.T) {
	conn := &fakeConn{columns: []core.ColumnInfo{
		{Name: "id", Type: "INT"}, // bare alias of INT(11)
		{Name: "title", Type: "VARCHAR(160)"},
		{Name: "body", Type: "LONGTEXT"},
		{Name: "published", Type: "TINYINT(1)"},
		{Name: "tags", Type: "VARCHAR(255)"},
	}}
	s := NewSynchronizer(conn)
	report, err := s.Sync(context.Background(), newsSchema(), Options{Update: true, Mode: ModeInfo})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if len(report.Actions) != 0 {
		t.Errorf("aliases must not churn: %+v", report.Actions)
	}
}

func TestSyncAlertModeWaitsForConfirmation(t *testing.T) {
	conn := &fakeConn{missing: true}
	s := NewSynchronizer(conn)
	report, err := s.Sync(context.Background(), newsSchema(), Options{Create: true, Mode: ModeAlert})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if report.Executed || len(conn.execs) != 0 {
		t.Fatal("alert mode must not execute without confirmation")
	}
	if len(report.Actions) != 1 {
		t.Fatalf("actions = %+v", report.Actions)
	}

	report, err = s.Sync(context.Background(), newsSchema(), Options{Create: true, Mode: ModeAlert, Confirmed: true})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	if !report.Executed || len(conn.execs) != 1 {
		t.Fatal("confirmed alert run must execute")
	}
}

func TestSyncReportsStrayColumns(t *testing.T) {
	conn := &fakeConn{columns: []core.ColumnInfo{
		{Name: "id", Type: "INT(11)"},
		{Name: "title", Type: "VARCHAR(160)"},
		{Name: "body", Type: "LONGTEXT"},
		{Name: "published", Type: "TINYINT(1)"},
		{Name: "tags", Type: "VARCHAR(255)"},
		{Name: "legacy_col", Type: "TEXT"},
	}}
	s := NewSynchronizer(conn)
	report, err := s.Sync(context.Background(), newsSchema(), Options{Update: true, Mode: ModeInfo})
	if err != nil {
		t.Fatalf("Sync failed: %v", err)
	}
	found := false
	for _, m := range report.Messages {
		if strings.Contains(m, "legacy_col") {
			found = true
		}
	}
	if !found {
		t.Errorf("stray column not reported: %v", report.Messages)
	}
	for _, a := range report.Actions {
		if strings.Contains(a.SQL, "DROP") {
			t.Errorf("stray columns must never be dropped: %s", a.SQL)
		}
	}
}

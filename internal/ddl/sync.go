// Package ddl keeps live table structure synchronized with logical
// schemas: it maps semantic field types onto MySQL column types, diffs
// them against the introspected table and emits CREATE/ALTER actions.
// Metadata-heavy and write-rare; never on the request hot path.
package ddl

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/skothari-dev/loom/internal/core"
)

// Mode selects how a sync run treats the actions it computes.
type Mode string

const (
	// ModeAuto executes CREATE/ALTER statements immediately.
	ModeAuto Mode = "auto"

	// ModeAlert computes the actions and returns them for human
	// confirmation; nothing executes until a confirmed re-run.
	ModeAlert Mode = "alert"

	// ModeInfo returns a textual diff without ever executing.
	ModeInfo Mode = "info"
)

// Options controls one sync run.
type Options struct {
	// Create allows CREATE TABLE for missing tables.
	Create bool

	// Update allows ALTER TABLE on existing tables.
	Update bool

	Mode Mode

	// Confirmed executes pending actions under ModeAlert.
	Confirmed bool
}

// Action is one DDL statement the diff produced.
type Action struct {
	Kind string // "create", "add", "modify"
	SQL  string
}

// Report is the outcome of a sync run.
type Report struct {
	Actions  []Action
	Messages []string
	Executed bool
}

// Synchronizer diffs schemas against live tables.
type Synchronizer struct {
	conn core.Connection
}

// NewSynchronizer creates a DDL synchronizer.
func NewSynchronizer(conn core.Connection) *Synchronizer {
	return &Synchronizer{conn: conn}
}

// Sync computes and (mode permitting) executes the DDL bringing the
// table behind the schema up to date. The schema must already be
// language-expanded so every :lang variant diffs as its own column.
func (s *Synchronizer) Sync(ctx context.Context, sc *core.Schema, opts Options) (*Report, error) {
	if s.conn == nil {
		return nil, &core.ConfigError{Msg: "sync attempted without a connection", Err: core.ErrNoConnection}
	}
	if opts.Mode == "" {
		opts.Mode = ModeInfo
	}

	report := &Report{}
	live, err := s.conn.Columns(ctx, sc.Table)
	switch {
	case errors.Is(err, core.ErrNotFound):
		if !opts.Create {
			report.Messages = append(report.Messages,
				fmt.Sprintf("table %s does not exist (create disabled)", sc.Table))
			return report, nil
		}
		report.Actions = append(report.Actions, Action{Kind: "create", SQL: s.createTable(sc)})
	case err != nil:
		return nil, fmt.Errorf("failed to introspect %s: %w", sc.Table, err)
	default:
		if opts.Update {
			s.diff(sc, live, report)
		}
		s.reportStray(sc, live, report)
	}

	if len(report.Actions) == 0 {
		report.Messages = append(report.Messages, fmt.Sprintf("table %s is up to date", sc.Table))
		return report, nil
	}

	execute := opts.Mode == ModeAuto || (opts.Mode == ModeAlert && opts.Confirmed)
	if !execute {
		for _, a := range report.Actions {
			report.Messages = append(report.Messages, a.SQL)
		}
		return report, nil
	}

	for _, a := range report.Actions {
		if _, err := s.conn.Exec(ctx, a.SQL, nil); err != nil {
			return report, fmt.Errorf("ddl statement failed: %w", err)
		}
		log.Printf("[DDL] Executed: %s", a.SQL)
	}
	report.Executed = true
	return report, nil
}

// createTable builds the full CREATE TABLE statement for a schema.
func (s *Synchronizer) createTable(sc *core.Schema) string {
	var defs []string
	for _, f := range sc.Columns() {
		colType, ok := ColumnType(&f)
		if !ok {
			continue
		}
		if f.Name == "id" {
			defs = append(defs, "`id` "+colType+" NOT NULL AUTO_INCREMENT")
			continue
		}
		defs = append(defs, fmt.Sprintf("`%s` %s", f.Name, colType))
	}
	defs = append(defs, "PRIMARY KEY (`id`)")
	return fmt.Sprintf("CREATE TABLE `%s` (%s) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4",
		sc.Table, strings.Join(defs, ", "))
}

// diff emits ADD/MODIFY actions for schema columns that are missing or
// mistyped in the live table.
func (s *Synchronizer) diff(sc *core.Schema, live []core.ColumnInfo, report *Report) {
	byName := make(map[string]core.ColumnInfo, len(live))
	for _, col := range live {
		byName[col.Name] = col
	}

	prev := ""
	for _, f := range sc.Columns() {
		colType, ok := ColumnType(&f)
		if !ok {
			continue
		}
		existing, exists := byName[f.Name]
		switch {
		case !exists:
			stmt := fmt.Sprintf("ALTER TABLE `%s` ADD COLUMN `%s` %s", sc.Table, f.Name, colType)
			if prev != "" {
				stmt += fmt.Sprintf(" AFTER `%s`", prev)
			}
			report.Actions = append(report.Actions, Action{Kind: "add", SQL: stmt})
		case !typesEqual(existing.Type, colType):
			report.Actions = append(report.Actions, Action{
				Kind: "modify",
				SQL:  fmt.Sprintf("ALTER TABLE `%s` MODIFY COLUMN `%s` %s", sc.Table, f.Name, colType),
			})
			report.Messages = append(report.Messages,
				fmt.Sprintf("column %s.%s: %s -> %s", sc.Table, f.Name, existing.Type, colType))
		}
		prev = f.Name
	}
}

// reportStray lists live columns no schema field claims. They are
// reported, never dropped: data loss is a human decision.
func (s *Synchronizer) reportStray(sc *core.Schema, live []core.ColumnInfo, report *Report) {
	for _, col := range live {
		if _, _, ok := sc.ResolveField(col.Name, nil); !ok {
			report.Messages = append(report.Messages,
				fmt.Sprintf("column %s.%s exists in the table but not in the schema", sc.Table, col.Name))
		}
	}
}

// ColumnType maps a field's semantic type onto its MySQL column type.
// ok is false for fields with no column at all.
func ColumnType(f *core.Field) (string, bool) {
	switch f.Type {
	case core.TypeInteger, core.TypeOrder:
		return "INT(11)", true
	case core.TypeFloat:
		return "DOUBLE", true
	case core.TypeBoolean:
		return "TINYINT(1)", true
	case core.TypeString:
		return fmt.Sprintf("VARCHAR(%d)", lengthOr(f, 255)), true
	case core.TypeText:
		if f.Settings.Long {
			return "LONGTEXT", true
		}
		return "TEXT", true
	case core.TypeJSON:
		return "LONGTEXT", true
	case core.TypeDate:
		return "DATE", true
	case core.TypeDatetime:
		return "DATETIME", true
	case core.TypeSelect:
		// A string-typed source id stores the id itself, so the
		// column width follows the id field's width.
		if f.Source != nil && f.Source.Model == "" && f.Source.Table == "" {
			return fmt.Sprintf("VARCHAR(%d)", lengthOr(f, 255)), true
		}
		if f.Settings.Output == "string" {
			return fmt.Sprintf("VARCHAR(%d)", lengthOr(f, 255)), true
		}
		return "INT(11)", true
	case core.TypeCheckboxes, core.TypeElements:
		return fmt.Sprintf("VARCHAR(%d)", lengthOr(f, 255)), true
	case core.TypeImage, core.TypeVideo, core.TypeAudio, core.TypeFile, core.TypeMedia:
		return fmt.Sprintf("VARCHAR(%d)", lengthOr(f, 255)), true
	case core.TypeUID:
		return fmt.Sprintf("VARCHAR(%d)", lengthOr(f, 32)), true
	default:
		return "", false
	}
}

func lengthOr(f *core.Field, def int) int {
	if f.Settings.Length > 0 {
		return f.Settings.Length
	}
	return def
}

// typeAliases maps bare MySQL type names to the display width MySQL
// reports for them, so INT and INT(11) never diff as a change.
var typeAliases = map[string]string{
	"INT":      "INT(11)",
	"INTEGER":  "INT(11)",
	"BIGINT":   "BIGINT(20)",
	"TINYINT":  "TINYINT(4)",
	"SMALLINT": "SMALLINT(6)",
}

// typesEqual compares a live column type against a generated one,
// treating known aliases as identical to avoid noisy churn.
func typesEqual(live, generated string) bool {
	return normalizeType(live) == normalizeType(generated)
}

func normalizeType(t string) string {
	t = strings.ToUpper(strings.TrimSpace(t))
	if alias, ok := typeAliases[t]; ok {
		return alias
	}
	return t
}

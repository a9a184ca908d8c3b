package write

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/skothari-dev/loom/internal/core"
	"github.com/skothari-dev/loom/internal/filter"
)

// Coordinator implements the write path: create, update-or-insert and
// delete against a schema. SET and VALUES parameters go through the
// same value-processing rules as the filter compiler, so read-path and
// write-path type coercion never diverge. Media, virtual and external
// join fields never appear in the direct column list; external fields
// are routed to the join-table synchronizer instead.
type Coordinator struct {
	conn      core.Connection
	compiler  *filter.Compiler
	notifier  core.Notifier
	languages []string
	limiter   *rate.Limiter

	// BatchSize caps the rows per multi-row INSERT during imports.
	BatchSize int
}

// NewCoordinator creates a write coordinator. notifier may be nil;
// importRate <= 0 disables batch throttling.
func NewCoordinator(conn core.Connection, compiler *filter.Compiler, notifier core.Notifier, languages []string, importRate float64) *Coordinator {
	var limiter *rate.Limiter
	if importRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(importRate), 1)
	}
	return &Coordinator{
		conn:      conn,
		compiler:  compiler,
		notifier:  notifier,
		languages: languages,
		limiter:   limiter,
		BatchSize: 100,
	}
}

// column is one resolved write column.
type column struct {
	name  string
	param core.Param
}

// external is one join-table field routed around the direct SET.
type external struct {
	field *core.Field
	value any
}

// resolve splits the incoming data into direct columns and external
// fields, applying the shared value-processing rules. Unknown keys and
// non-column fields (virtual, model, media) are skipped.
func (w *Coordinator) resolve(s *core.Schema, data map[string]any) ([]column, []external, error) {
	var cols []column
	var ext []external
	for _, key := range sortedDataKeys(data) {
		value := data[key]
		f, concrete, ok := s.ResolveField(key, w.languages)
		if !ok {
			continue
		}
		if f.Settings.External {
			ext = append(ext, external{field: f, value: value})
			continue
		}
		if !f.IsColumn() || f.Type.IsMedia() {
			continue
		}
		p, err := w.compiler.Values().Param(f, value)
		if err != nil {
			return nil, nil, err
		}
		cols = append(cols, column{name: concrete, param: p})
	}
	return cols, ext, nil
}

// Create inserts one record and returns the new id. A uid field that
// the caller did not supply is generated here.
func (w *Coordinator) Create(ctx context.Context, sess *core.Session, s *core.Schema, data map[string]any) (int64, error) {
	if w.conn == nil {
		return 0, &core.ConfigError{Msg: "write attempted without a connection", Err: core.ErrNoConnection}
	}

	data = withUID(s, data)
	cols, ext, err := w.resolve(s, data)
	if err != nil {
		return 0, err
	}
	if len(cols) == 0 {
		return 0, fmt.Errorf("create on %s: %w", s.Table, core.ErrNoFields)
	}

	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	params := make([]core.Param, len(cols))
	for i, c := range cols {
		names[i] = quote(c.name)
		marks[i] = "?"
		params[i] = c.param
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quote(s.Table), strings.Join(names, ", "), strings.Join(marks, ", "))

	res, err := w.conn.Exec(ctx, query, params)
	if err != nil {
		return 0, fmt.Errorf("insert into %s failed: %w", s.Table, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("insert into %s: no insert id: %w", s.Table, err)
	}

	for _, e := range ext {
		if err := w.syncExternal(ctx, s, e.field, id, e.value); err != nil {
			return 0, err
		}
	}
	w.notify(ctx, s.Table, core.ChangeCreate, id)
	return id, nil
}

// CreateMany inserts several records one by one, collecting the new
// ids. Bulk imports that can tolerate reconciliation should use
// Import instead.
func (w *Coordinator) CreateMany(ctx context.Context, sess *core.Session, s *core.Schema, rows []map[string]any) ([]int64, error) {
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		id, err := w.Create(ctx, sess, s, row)
		if err != nil {
			return ids, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Put updates the rows matched by the filter, falling back to Create
// when nothing matches. With a nil filter the data's own id is the
// target. Returns the affected row count, or the new row's id when
// the create fallback ran.
func (w *Coordinator) Put(ctx context.Context, sess *core.Session, s *core.Schema, data map[string]any, f core.Filter) (int64, error) {
	if w.conn == nil {
		return 0, &core.ConfigError{Msg: "write attempted without a connection", Err: core.ErrNoConnection}
	}

	if f == nil {
		id, ok := data["id"]
		if !ok {
			return 0, fmt.Errorf("update on %s without filter or id", s.Table)
		}
		f = core.Filter{"id": id}
	}

	ids, err := w.probe(ctx, sess, s, f)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return w.Create(ctx, sess, s, data)
	}
	return w.update(ctx, sess, s, data, f, ids)
}

func (w *Coordinator) update(ctx context.Context, sess *core.Session, s *core.Schema, data map[string]any, f core.Filter, ids []int64) (int64, error) {
	cols, ext, err := w.resolve(s, data)
	if err != nil {
		return 0, err
	}
	// The id never belongs in its own SET clause.
	cols = withoutColumn(cols, "id")
	if len(cols) == 0 && len(ext) == 0 {
		return 0, fmt.Errorf("update on %s: %w", s.Table, core.ErrNoFields)
	}

	var affected int64
	if len(cols) > 0 {
		where, err := w.compiler.Compile(s, f, sess)
		if err != nil {
			return 0, err
		}
		sets := make([]string, len(cols))
		params := make([]core.Param, 0, len(cols)+len(where.Params))
		for i, c := range cols {
			sets[i] = quote(c.name) + " = ?"
			params = append(params, c.param)
		}
		query := fmt.Sprintf("UPDATE %s SET %s", quote(s.Table), strings.Join(sets, ", "))
		if !where.Empty() {
			query += " WHERE " + where.Clause
			params = append(params, where.Params...)
		}
		res, err := w.conn.Exec(ctx, query, params)
		if err != nil {
			return 0, fmt.Errorf("update on %s failed: %w", s.Table, err)
		}
		affected, _ = res.RowsAffected()
	}

	for _, id := range ids {
		for _, e := range ext {
			if err := w.syncExternal(ctx, s, e.field, id, e.value); err != nil {
				return 0, err
			}
		}
		w.notify(ctx, s.Table, core.ChangeUpdate, id)
	}
	if affected == 0 && len(ext) > 0 {
		affected = int64(len(ids))
	}
	return affected, nil
}

// Delete removes the rows matched by the filter, cleaning up external
// join rows first. An empty filter is rejected rather than truncating
// the table.
func (w *Coordinator) Delete(ctx context.Context, sess *core.Session, s *core.Schema, f core.Filter) (int64, error) {
	if w.conn == nil {
		return 0, &core.ConfigError{Msg: "write attempted without a connection", Err: core.ErrNoConnection}
	}
	if len(f) == 0 {
		return 0, fmt.Errorf("delete on %s requires a filter", s.Table)
	}

	ids, err := w.probe(ctx, sess, s, f)
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	for _, id := range ids {
		for i := range s.Fields {
			fld := &s.Fields[i]
			if fld.Settings.External && fld.Source != nil && fld.Source.Table != "" {
				if err := w.clearExternal(ctx, s, fld, id); err != nil {
					return 0, err
				}
			}
		}
	}

	where, err := w.compiler.Compile(s, f, sess)
	if err != nil {
		return 0, err
	}
	query := fmt.Sprintf("DELETE FROM %s WHERE %s", quote(s.Table), where.Clause)
	res, err := w.conn.Exec(ctx, query, where.Params)
	if err != nil {
		return 0, fmt.Errorf("delete on %s failed: %w", s.Table, err)
	}
	affected, _ := res.RowsAffected()
	for _, id := range ids {
		w.notify(ctx, s.Table, core.ChangeDelete, id)
	}
	return affected, nil
}

// Import reconciles a batch of incoming records against existing rows:
// rows whose key-field filter matches become UPDATEs, the remainder
// becomes multi-row INSERTs, throttled by the import rate limit.
// Returns (updated, inserted).
func (w *Coordinator) Import(ctx context.Context, sess *core.Session, s *core.Schema, rows []map[string]any, keys []string) (int64, int64, error) {
	if w.conn == nil {
		return 0, 0, &core.ConfigError{Msg: "write attempted without a connection", Err: core.ErrNoConnection}
	}
	if len(keys) == 0 {
		return 0, 0, fmt.Errorf("import on %s requires key fields", s.Table)
	}

	var updated int64
	var pending []map[string]any
	for _, row := range rows {
		f := make(core.Filter, len(keys))
		miss := false
		for _, k := range keys {
			v, ok := row[k]
			if !ok {
				miss = true
				break
			}
			f[k] = v
		}
		if miss {
			pending = append(pending, row)
			continue
		}
		ids, err := w.probe(ctx, sess, s, f)
		if err != nil {
			return updated, 0, err
		}
		if len(ids) == 0 {
			pending = append(pending, row)
			continue
		}
		n, err := w.update(ctx, sess, s, row, f, ids)
		if err != nil {
			return updated, 0, err
		}
		updated += n
	}

	inserted, err := w.insertBatch(ctx, sess, s, pending)
	return updated, inserted, err
}

// insertBatch writes the remainder of an import as multi-row INSERTs.
func (w *Coordinator) insertBatch(ctx context.Context, sess *core.Session, s *core.Schema, rows []map[string]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	// One shared column list, derived from the first row, keeps the
	// statement rectangular.
	first, _, err := w.resolve(s, withUID(s, rows[0]))
	if err != nil {
		return 0, err
	}
	if len(first) == 0 {
		return 0, fmt.Errorf("import on %s: %w", s.Table, core.ErrNoFields)
	}
	names := make([]string, len(first))
	for i, c := range first {
		names[i] = c.name
	}

	var total int64
	for start := 0; start < len(rows); start += w.BatchSize {
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx); err != nil {
				return total, err
			}
		}
		end := start + w.BatchSize
		if end > len(rows) {
			end = len(rows)
		}
		chunk := rows[start:end]

		tuples := make([]string, 0, len(chunk))
		params := make([]core.Param, 0, len(chunk)*len(names))
		for _, row := range chunk {
			row = withUID(s, row)
			marks := make([]string, len(names))
			for i, name := range names {
				f, _, _ := s.ResolveField(name, w.languages)
				p, err := w.compiler.Values().Param(f, row[name])
				if err != nil {
					return total, err
				}
				marks[i] = "?"
				params = append(params, p)
			}
			tuples = append(tuples, "("+strings.Join(marks, ", ")+")")
		}

		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = quote(n)
		}
		query := fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
			quote(s.Table), strings.Join(quoted, ", "), strings.Join(tuples, ", "))
		res, err := w.conn.Exec(ctx, query, params)
		if err != nil {
			return total, fmt.Errorf("batch insert into %s failed: %w", s.Table, err)
		}
		n, _ := res.RowsAffected()
		total += n
		log.Printf("[WRITE] Imported %d rows into %s", n, s.Table)
	}
	return total, nil
}

// probe runs the SELECT id existence check behind upserts and deletes.
func (w *Coordinator) probe(ctx context.Context, sess *core.Session, s *core.Schema, f core.Filter) ([]int64, error) {
	where, err := w.compiler.Compile(s, f, sess)
	if err != nil {
		return nil, err
	}
	query := "SELECT `id` FROM " + quote(s.Table)
	if !where.Empty() {
		query += " WHERE " + where.Clause
	}
	rows, err := w.conn.Query(ctx, query, where.Params)
	if err != nil {
		return nil, fmt.Errorf("existence probe on %s failed: %w", s.Table, err)
	}
	ids := make([]int64, 0, len(rows))
	for _, row := range rows {
		if id, ok := core.Record(row).ID(); ok {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// syncExternal rewrites the join-table rows for one external field:
// delete everything for the owner, then re-insert the full set. Not
// delta-friendly, but always consistent, and association sets stay
// small.
func (w *Coordinator) syncExternal(ctx context.Context, s *core.Schema, f *core.Field, ownerID int64, value any) error {
	if f.Source == nil || f.Source.Table == "" {
		return &core.ConfigError{Msg: fmt.Sprintf("external field %s has no join table", f.Name)}
	}
	if err := w.clearExternal(ctx, s, f, ownerID); err != nil {
		return err
	}

	ids, err := w.compiler.Values().Ints(value)
	if err != nil {
		return fmt.Errorf("external field %s: %w", f.Name, err)
	}
	if len(ids) == 0 {
		return nil
	}

	own := quote(f.OwnKeyColumn(s.Table))
	foreign := quote(f.ForeignKeyColumn())
	tuples := make([]string, 0, len(ids))
	params := make([]core.Param, 0, len(ids)*2)
	for _, id := range ids {
		tuples = append(tuples, "(?, ?)")
		params = append(params,
			core.Param{Type: core.ParamInteger, Value: ownerID},
			core.Param{Type: core.ParamInteger, Value: id})
	}
	query := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES %s",
		quote(f.Source.Table), own, foreign, strings.Join(tuples, ", "))
	if _, err := w.conn.Exec(ctx, query, params); err != nil {
		return fmt.Errorf("join table sync for %s failed: %w", f.Name, err)
	}
	return nil
}

func (w *Coordinator) clearExternal(ctx context.Context, s *core.Schema, f *core.Field, ownerID int64) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?",
		quote(f.Source.Table), quote(f.OwnKeyColumn(s.Table)))
	params := []core.Param{{Type: core.ParamInteger, Value: ownerID}}
	if _, err := w.conn.Exec(ctx, query, params); err != nil {
		return fmt.Errorf("join table clear for %s failed: %w", f.Name, err)
	}
	return nil
}

// notify publishes a change event. Best-effort: a failed publish is
// logged, never propagated into the write result.
func (w *Coordinator) notify(ctx context.Context, table string, op core.ChangeOp, id int64) {
	if w.notifier == nil {
		return
	}
	event := core.ChangeEvent{Table: table, Op: op, ID: id, Timestamp: time.Now().UTC()}
	if err := w.notifier.Publish(ctx, event); err != nil {
		log.Printf("[WRITE] change event publish failed for %s #%d: %v", table, id, err)
	}
}

// withUID fills a generated uid when the schema carries a uid field
// the caller left empty.
func withUID(s *core.Schema, data map[string]any) map[string]any {
	f, ok := s.UIDField()
	if !ok {
		return data
	}
	if v, ok := data[f.Name]; ok && v != "" && v != nil {
		return data
	}
	out := make(map[string]any, len(data)+1)
	for k, v := range data {
		out[k] = v
	}
	uid := strings.ReplaceAll(uuid.New().String(), "-", "")
	if f.Settings.Length > 0 && f.Settings.Length < len(uid) {
		uid = uid[:f.Settings.Length]
	}
	out[f.Name] = f.Settings.UIDPrefix + uid
	return out
}

func withoutColumn(cols []column, name string) []column {
	out := cols[:0]
	for _, c := range cols {
		if c.name != name {
			out = append(out, c)
		}
	}
	return out
}

func sortedDataKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	// Stable statement text matters for logs and tests alike.
	sort.Strings(keys)
	return keys
}

func quote(ident string) string {
	return "`" + strings.ReplaceAll(ident, "`", "") + "`"
}

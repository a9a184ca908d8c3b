// Package loom is the public face of the engine: schema-driven reads
// and writes against MySQL, configured from YAML.
//
// Typical usage:
//
//	cfg, _ := loom.LoadConfig("loom.yaml")
//	engine, _ := loom.New(context.Background(), cfg)
//	defer engine.Close()
//
//	sess := engine.Session()
//	user, _ := engine.Get(ctx, sess, []string{"users"}, loom.Filter{"id": 7})
//	id, _ := engine.Post(ctx, sess, []string{"users"}, map[string]any{"name": "Ann"})
package loom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/skothari-dev/loom/internal/cache"
	"github.com/skothari-dev/loom/internal/core"
	"github.com/skothari-dev/loom/internal/crypto"
	"github.com/skothari-dev/loom/internal/database"
	"github.com/skothari-dev/loom/internal/ddl"
	"github.com/skothari-dev/loom/internal/filter"
	"github.com/skothari-dev/loom/internal/materialize"
	"github.com/skothari-dev/loom/internal/notify"
	"github.com/skothari-dev/loom/internal/objstore"
	"github.com/skothari-dev/loom/internal/schema"
	"github.com/skothari-dev/loom/internal/template"
	"github.com/skothari-dev/loom/internal/write"
)

// Filter is the query filter shape accepted by all read and write
// operations. Keys are field names or schema filter names; values may
// be scalars, arrays, operator maps, or raw clause maps.
type Filter = core.Filter

// Record is one materialized row, nested relations included.
type Record = core.Record

// SyncOptions control a DDL synchronization run.
type SyncOptions = ddl.Options

// SyncReport is the outcome of a DDL synchronization run.
type SyncReport = ddl.Report

// SyncMode is the execution policy of a DDL synchronization run.
type SyncMode = ddl.Mode

// DDL synchronization modes.
const (
	SyncAuto  = ddl.ModeAuto
	SyncAlert = ddl.ModeAlert
	SyncInfo  = ddl.ModeInfo
)

// ErrNotFound is returned when a lookup matches nothing.
var ErrNotFound = core.ErrNotFound

// Engine is the schema-driven data engine. It is safe for concurrent
// use; per-request state lives in the Session.
type Engine struct {
	cfg          *Config
	conn         core.Connection
	loader       *schema.Loader
	validator    *schema.Validator
	compiler     *filter.Compiler
	materializer *materialize.Materializer
	writer       *write.Coordinator
	syncer       *ddl.Synchronizer
	cache        core.Cache
	notifier     core.Notifier
	errs         *core.ErrorLog
}

// New creates an engine from the configuration: it connects to MySQL,
// opens the configured cache and notifier backends, and wires the
// object store when one is enabled.
func New(ctx context.Context, cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, &core.ConfigError{Msg: "config cannot be nil"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, &core.ConfigError{Msg: "invalid configuration", Err: err}
	}

	conn, err := database.Connect(database.Options{
		Host:              cfg.Database.Host,
		Port:              cfg.Database.Port,
		Database:          cfg.Database.Database,
		Username:          cfg.Database.Username,
		Password:          cfg.Database.Password,
		MaxOpenConns:      cfg.Database.MaxOpenConns,
		MaxIdleConns:      cfg.Database.MaxIdleConns,
		ConnMaxLifetime:   cfg.Database.ConnMaxLifetime,
		ConnMaxIdleTime:   cfg.Database.ConnMaxIdleTime,
		ConnectionTimeout: cfg.Database.ConnectionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	var store core.ObjectStore
	if cfg.ObjectStore.Enabled {
		store, err = objstore.NewS3Store(ctx, objstore.S3Config{
			Region:          cfg.ObjectStore.Region,
			Bucket:          cfg.ObjectStore.Bucket,
			Endpoint:        cfg.ObjectStore.Endpoint,
			AccessKeyID:     cfg.ObjectStore.AccessKeyID,
			SecretAccessKey: cfg.ObjectStore.SecretAccessKey,
			CDNHost:         cfg.ObjectStore.CDNHost,
			MetadataPath:    cfg.ObjectStore.MetadataPath,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open object store: %w", err)
		}
	}

	var resultCache core.Cache
	if cfg.Cache.Enabled {
		resultCache, err = cache.Create(cache.Config{
			Type:            cfg.Cache.Type,
			Endpoints:       cfg.Cache.Endpoints,
			Password:        cfg.Cache.Password,
			DB:              cfg.Cache.DB,
			PoolSize:        cfg.Cache.PoolSize,
			MinIdleConns:    cfg.Cache.MinIdleConns,
			DialTimeout:     int64(cfg.Cache.DialTimeout),
			ReadTimeout:     int64(cfg.Cache.ReadTimeout),
			WriteTimeout:    int64(cfg.Cache.WriteTimeout),
			Region:          cfg.Cache.Region,
			TableName:       cfg.Cache.TableName,
			Endpoint:        cfg.Cache.Endpoint,
			AccessKeyID:     cfg.Cache.AccessKeyID,
			SecretAccessKey: cfg.Cache.SecretAccessKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open result cache: %w", err)
		}
	}

	var notifier core.Notifier
	switch cfg.Notifier.Type {
	case "", "none":
	case "memory":
		notifier = notify.NewMemoryNotifier(cfg.Notifier.BufferSize)
	case "kafka":
		notifier, err = notify.NewKafkaNotifier(notify.KafkaConfig{
			Brokers:      cfg.Notifier.Brokers,
			Topic:        cfg.Notifier.Topic,
			BatchSize:    cfg.Notifier.BatchSize,
			BatchTimeout: cfg.Notifier.BatchTimeout,
			WriteTimeout: cfg.Notifier.WriteTimeout,
			RequiredAcks: cfg.Notifier.RequiredAcks,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open notifier: %w", err)
		}
	}

	var cipher core.Cipher
	if cfg.Encryption.PublicKey != "" {
		cipher, err = crypto.NewFieldCipher(cfg.Encryption.PublicKey, cfg.Encryption.SecretKey)
		if err != nil {
			return nil, err
		}
	}

	docs := schema.NewFSDocumentStore(cfg.Schema.Roots...)
	return assemble(cfg, conn, docs, cipher, store, resultCache, notifier), nil
}

// assemble wires an engine from already-constructed collaborators.
func assemble(cfg *Config, conn core.Connection, docs core.DocumentStore,
	cipher core.Cipher, store core.ObjectStore, resultCache core.Cache,
	notifier core.Notifier) *Engine {

	values := filter.NewValues(cipher, cfg.Schema.Digits)
	compiler := filter.NewCompiler(values, cfg.Schema.Languages)
	renderer := template.NewRenderer()

	materializer := materialize.NewMaterializer(values, cipher, renderer, store, cfg.Schema.Languages)
	materializer.PublicRoot = cfg.Media.PublicRoot
	materializer.PublicBase = cfg.Media.PublicBase

	e := &Engine{
		cfg:          cfg,
		conn:         conn,
		loader:       schema.NewLoader(docs, cfg.Schema.Languages),
		validator:    schema.NewValidator(),
		compiler:     compiler,
		materializer: materializer,
		writer:       write.NewCoordinator(conn, compiler, notifier, cfg.Schema.Languages, cfg.Import.Rate),
		syncer:       ddl.NewSynchronizer(conn),
		cache:        resultCache,
		notifier:     notifier,
		errs:         &core.ErrorLog{},
	}
	materializer.SetReader(readerAdapter{e})
	return e
}

// readerAdapter lets the materializer run nested relation queries
// through the engine without a package cycle.
type readerAdapter struct{ e *Engine }

func (r readerAdapter) GetMany(ctx context.Context, sess *core.Session, names []string, f core.Filter) ([]core.Record, error) {
	return r.e.GetMany(ctx, sess, names, f)
}

// Session starts a request-scoped session in the default language.
func (e *Engine) Session() *core.Session {
	return core.NewSession(e.cfg.Schema.DefaultLanguage)
}

// SessionFor starts a request-scoped session in the given language.
func (e *Engine) SessionFor(language string) *core.Session {
	return core.NewSession(language)
}

// readOptions collects the per-query knobs of GetMany.
type readOptions struct {
	order  []core.OrderTerm
	limit  int
	offset int
}

// Option adjusts one read operation.
type Option func(*readOptions)

// WithOrder adds an ORDER BY term, overriding the schema default.
func WithOrder(column string, descending bool) Option {
	return func(o *readOptions) {
		o.order = append(o.order, core.OrderTerm{Column: column, Descending: descending})
	}
}

// WithLimit caps the number of returned records.
func WithLimit(n int) Option {
	return func(o *readOptions) { o.limit = n }
}

// WithOffset skips the first n records.
func WithOffset(n int) Option {
	return func(o *readOptions) { o.offset = n }
}

// Get returns the first record matching the filter, or ErrNotFound.
func (e *Engine) Get(ctx context.Context, sess *core.Session, names []string, f Filter) (Record, error) {
	records, err := e.GetMany(ctx, sess, names, f, WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, core.ErrNotFound
	}
	return records[0], nil
}

// GetMany returns every record matching the filter, fully
// materialized. Results are served from the cache when one is
// configured and the session does not skip it.
func (e *Engine) GetMany(ctx context.Context, sess *core.Session, names []string, f Filter, opts ...Option) ([]Record, error) {
	if e.conn == nil {
		return nil, core.ErrNoConnection
	}

	s, err := e.loader.Load(sess, names, false)
	if err != nil {
		return nil, err
	}

	var ro readOptions
	for _, opt := range opts {
		opt(&ro)
	}
	order := ro.order
	if len(order) == 0 {
		order = s.Order
	}

	key := ""
	if e.cache != nil && (sess == nil || !sess.SkipCache) {
		key = cache.QueryKey(names, f, orderString(order), ro.limit, ro.offset, sessionLanguage(sess))
		if raw, err := e.cache.Get(ctx, key); err == nil {
			var cached []Record
			if err := json.Unmarshal(raw, &cached); err == nil {
				return cached, nil
			}
		}
	}

	where, err := e.compiler.Compile(s, f, sess)
	if err != nil {
		return nil, err
	}

	query := e.buildSelect(s, sessionLanguage(sess), where, order, ro.limit, ro.offset)
	rows, err := e.conn.Query(ctx, query, where.Params)
	if err != nil {
		return nil, fmt.Errorf("query failed for %s: %w", s.Name, err)
	}

	records, err := e.materializer.Materialize(ctx, sess, s, rows)
	if err != nil {
		return nil, err
	}

	if key != "" {
		if raw, err := json.Marshal(records); err == nil {
			if err := e.cache.Set(ctx, key, raw, e.cfg.Cache.TTL); err != nil {
				log.Printf("[ENGINE] cache store failed for %s: %v", s.Name, err)
			}
		}
	}
	return records, nil
}

// buildSelect assembles the SELECT statement for one schema query.
func (e *Engine) buildSelect(s *core.Schema, lang string, where core.Where, order []core.OrderTerm, limit, offset int) string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(e.selectColumns(s), ", "))
	b.WriteString(" FROM `")
	b.WriteString(s.Table)
	b.WriteString("`")

	if !where.Empty() {
		b.WriteString(" WHERE ")
		b.WriteString(where.Clause)
	}

	if len(order) > 0 {
		terms := make([]string, 0, len(order))
		for _, term := range order {
			col := e.orderColumn(s, lang, term.Column)
			if term.Descending {
				terms = append(terms, col+" DESC")
			} else {
				terms = append(terms, col+" ASC")
			}
		}
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(terms, ", "))
	}

	if limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", limit)
		if offset > 0 {
			fmt.Fprintf(&b, " OFFSET %d", offset)
		}
	}
	return b.String()
}

// selectColumns expands the schema's column fields into concrete
// quoted column names, one per language for localized fields.
func (e *Engine) selectColumns(s *core.Schema) []string {
	var cols []string
	for _, f := range s.Columns() {
		if f.Localized() {
			for _, lang := range e.cfg.Schema.Languages {
				cols = append(cols, "`"+core.LangField(f.Name, lang)+"`")
			}
			continue
		}
		cols = append(cols, "`"+f.Name+"`")
	}
	return cols
}

// orderColumn resolves an ORDER BY column, projecting localized
// fields onto the session's active language.
func (e *Engine) orderColumn(s *core.Schema, lang, name string) string {
	if f, ok := s.Field(name); ok && f.Localized() {
		if lang == "" {
			lang = e.cfg.Schema.DefaultLanguage
		}
		return "`" + core.LangField(f.Name, lang) + "`"
	}
	return "`" + name + "`"
}

// Post creates one record and returns its id. Write failures are
// logged and return zero unless the session asks for errors.
func (e *Engine) Post(ctx context.Context, sess *core.Session, names []string, data map[string]any) (int64, error) {
	s, err := e.loader.Load(sess, names, false)
	if err != nil {
		return 0, err
	}
	id, err := e.writer.Create(ctx, sess, s, data)
	if err != nil {
		return 0, e.writeError(sess, err)
	}
	return id, nil
}

// PostMany creates several records and returns their ids in order.
func (e *Engine) PostMany(ctx context.Context, sess *core.Session, names []string, rows []map[string]any) ([]int64, error) {
	s, err := e.loader.Load(sess, names, false)
	if err != nil {
		return nil, err
	}
	ids, err := e.writer.CreateMany(ctx, sess, s, rows)
	if err != nil {
		return nil, e.writeError(sess, err)
	}
	return ids, nil
}

// Put updates records matching the filter, creating one when nothing
// matches. Returns the number of affected records, or the new
// record's id when the create fallback ran.
func (e *Engine) Put(ctx context.Context, sess *core.Session, names []string, data map[string]any, f Filter) (int64, error) {
	s, err := e.loader.Load(sess, names, false)
	if err != nil {
		return 0, err
	}
	n, err := e.writer.Put(ctx, sess, s, data, f)
	if err != nil {
		return 0, e.writeError(sess, err)
	}
	return n, nil
}

// Delete removes records matching the filter. An empty filter is
// rejected; full-table deletes must be explicit SQL.
func (e *Engine) Delete(ctx context.Context, sess *core.Session, names []string, f Filter) (int64, error) {
	s, err := e.loader.Load(sess, names, false)
	if err != nil {
		return 0, err
	}
	n, err := e.writer.Delete(ctx, sess, s, f)
	if err != nil {
		return 0, e.writeError(sess, err)
	}
	return n, nil
}

// Import reconciles a batch of rows against existing data: rows whose
// key fields match an existing record update it, the rest become
// multi-row INSERTs. Returns (updated, inserted).
func (e *Engine) Import(ctx context.Context, sess *core.Session, names []string, rows []map[string]any, keys []string) (int64, int64, error) {
	s, err := e.loader.Load(sess, names, false)
	if err != nil {
		return 0, 0, err
	}
	updated, inserted, err := e.writer.Import(ctx, sess, s, rows, keys)
	if err != nil {
		return updated, inserted, e.writeError(sess, err)
	}
	return updated, inserted, nil
}

// GetSchema loads and returns the composed schema for a name list.
func (e *Engine) GetSchema(sess *core.Session, names []string) (*core.Schema, error) {
	return e.loader.Load(sess, names, false)
}

// ValidateSchema loads a schema and returns every problem found.
func (e *Engine) ValidateSchema(sess *core.Session, names []string) ([]error, error) {
	s, err := e.loader.Load(sess, names, false)
	if err != nil {
		return nil, err
	}
	return e.validator.Validate(s), nil
}

// Sync reconciles the database table behind a schema with the schema
// itself. Localized fields are expanded before diffing, so each
// language lands in its own column.
func (e *Engine) Sync(ctx context.Context, sess *core.Session, names []string, opts SyncOptions) (*SyncReport, error) {
	s, err := e.loader.Load(sess, names, true)
	if err != nil {
		return nil, err
	}
	return e.syncer.Sync(ctx, s, opts)
}

// LastError returns the most recent logged write error.
func (e *Engine) LastError() error {
	return e.errs.Last()
}

// Errors returns every logged write error, oldest first.
func (e *Engine) Errors() []error {
	return e.errs.All()
}

// Close releases the engine's connections.
func (e *Engine) Close() error {
	var first error
	if e.notifier != nil {
		if err := e.notifier.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.cache != nil {
		if err := e.cache.Close(); err != nil && first == nil {
			first = err
		}
	}
	if e.conn != nil {
		if err := e.conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// writeError applies the write failure policy: configuration problems
// always surface, everything else is logged and swallowed unless the
// session opts into errors.
func (e *Engine) writeError(sess *core.Session, err error) error {
	var cfgErr *core.ConfigError
	if errors.As(err, &cfgErr) || errors.Is(err, core.ErrNoConnection) {
		return err
	}
	e.errs.Record(err)
	if sess != nil && sess.ReturnError {
		return err
	}
	return nil
}

func sessionLanguage(sess *core.Session) string {
	if sess == nil {
		return ""
	}
	return sess.Language
}

func orderString(order []core.OrderTerm) string {
	terms := make([]string, 0, len(order))
	for _, t := range order {
		dir := "ASC"
		if t.Descending {
			dir = "DESC"
		}
		terms = append(terms, t.Column+" "+dir)
	}
	return strings.Join(terms, ",")
}

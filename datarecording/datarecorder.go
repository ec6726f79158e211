// Package datarecording persists simulation output into SQLite databases.
package datarecording

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/fatih/structs"

	// Need to use SQLite connections.
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/xid"
	"github.com/tebeka/atexit"
)

// Extension is appended to database paths that do not carry it.
const Extension = ".sqlite3"

// DataRecorder is a backend that can record and store data.
type DataRecorder interface {
	// CreateTable creates a table whose columns are the fields of
	// sampleEntry. Creating an existing table is a no-op.
	CreateTable(tableName string, sampleEntry any)

	// InsertData buffers an entry for a table that already exists. Large
	// buffers are written out early, but nothing becomes visible until the
	// next Flush.
	InsertData(tableName string, entry any)

	// ListTables returns the names of all tables created so far.
	ListTables() []string

	// Flush commits every entry inserted since the last Flush. If it fails,
	// those entries are discarded.
	Flush() error

	// Discard drops every entry inserted since the last Flush, including the
	// ones already written out early.
	Discard() error

	// Close flushes and releases the database.
	Close() error
}

// DefaultPath returns a fresh database path in the working directory.
func DefaultPath() string {
	return "episim_" + xid.New().String() + Extension
}

// New opens or creates the SQLite database at path. Buffered entries are
// flushed when the program exits through atexit.
func New(path string) (DataRecorder, error) {
	if path == "" {
		path = DefaultPath()
	}

	if !strings.HasSuffix(path, Extension) {
		path += Extension
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("datarecording: open %s: %w", path, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("datarecording: open %s: %w", path, err)
	}

	return NewWithDB(db), nil
}

// NewWithDB creates a new DataRecorder with a given database.
func NewWithDB(db *sql.DB) DataRecorder {
	w := &sqliteWriter{
		DB:        db,
		batchSize: 100000,
		tables:    make(map[string]*table),
	}

	atexit.Register(func() { _ = w.Flush() })

	return w
}

type table struct {
	structType reflect.Type
	entries    []any
}

// sqliteWriter is the writer that writes data into SQLite database
type sqliteWriter struct {
	*sql.DB

	// tx holds the entries written out since the last Flush.
	tx *sql.Tx

	// pendingTables were created inside tx and vanish if it rolls back.
	pendingTables []string

	tableOrder []string
	tables     map[string]*table
	batchSize  int
	entryCount int
	closed     bool
}

func isAllowedType(kind reflect.Kind) bool {
	switch kind {
	case
		reflect.Bool,
		reflect.Int,
		reflect.Int8,
		reflect.Int16,
		reflect.Int32,
		reflect.Int64,
		reflect.Uint,
		reflect.Uint8,
		reflect.Uint16,
		reflect.Uint32,
		reflect.Float32,
		reflect.Float64,
		reflect.String:
		return true
	default:
		return false
	}
}

func checkStructFields(entry any) error {
	types := reflect.TypeOf(entry)
	if types == nil || types.Kind() != reflect.Struct {
		return errors.New("datarecording: entry must be a struct")
	}

	for i := 0; i < types.NumField(); i++ {
		field := types.Field(i)
		if !field.IsExported() {
			return fmt.Errorf("datarecording: field %s is not exported", field.Name)
		}

		if !isAllowedType(field.Type.Kind()) {
			return fmt.Errorf("datarecording: field %s has unsupported type %s",
				field.Name, field.Type)
		}
	}

	return nil
}

func (t *sqliteWriter) CreateTable(tableName string, sampleEntry any) {
	if err := checkStructFields(sampleEntry); err != nil {
		panic(err)
	}

	if existing, ok := t.tables[tableName]; ok {
		if existing.structType != reflect.TypeOf(sampleEntry) {
			panic(fmt.Sprintf(
				"datarecording: table %s already holds %s", tableName, existing.structType))
		}

		return
	}

	n := structs.Names(sampleEntry)
	fields := strings.Join(n, ", \n\t")

	createTableSQL := `CREATE TABLE IF NOT EXISTS ` + tableName +
		` (` + "\n\t" + fields + "\n" + `);`
	t.mustExecute(createTableSQL)

	if t.tx != nil {
		t.pendingTables = append(t.pendingTables, tableName)
	}

	t.tables[tableName] = &table{
		structType: reflect.TypeOf(sampleEntry),
	}
	t.tableOrder = append(t.tableOrder, tableName)
}

func (t *sqliteWriter) InsertData(tableName string, entry any) {
	table, exists := t.tables[tableName]
	if !exists {
		panic(fmt.Sprintf("datarecording: table %s does not exist", tableName))
	}

	if reflect.TypeOf(entry) != table.structType {
		panic(fmt.Sprintf("datarecording: table %s expects %s, got %T",
			tableName, table.structType, entry))
	}

	table.entries = append(table.entries, entry)

	t.entryCount++
	if t.entryCount >= t.batchSize {
		if err := t.spill(); err != nil {
			panic(err)
		}
	}
}

func (t *sqliteWriter) ListTables() []string {
	return append([]string(nil), t.tableOrder...)
}

func (t *sqliteWriter) Flush() error {
	if t.closed {
		return nil
	}

	if err := t.spill(); err != nil {
		return err
	}

	if t.tx == nil {
		return nil
	}

	err := t.tx.Commit()
	t.tx = nil

	if err != nil {
		t.forgetPendingTables()
		return fmt.Errorf("datarecording: commit: %w", err)
	}

	t.pendingTables = nil

	return nil
}

// spill writes the buffered entries into the pending transaction. On failure
// everything since the last Flush is discarded.
func (t *sqliteWriter) spill() error {
	if t.entryCount == 0 {
		return nil
	}

	if t.tx == nil {
		tx, err := t.Begin()
		if err != nil {
			return fmt.Errorf("datarecording: begin: %w", err)
		}

		t.tx = tx
	}

	for _, tableName := range t.tableOrder {
		table := t.tables[tableName]
		if len(table.entries) == 0 {
			continue
		}

		if err := insertAll(t.tx, tableName, table.entries); err != nil {
			return errors.Join(err, t.Discard())
		}
	}

	t.dropBuffers()

	return nil
}

func (t *sqliteWriter) Discard() error {
	t.dropBuffers()

	if t.tx == nil {
		return nil
	}

	err := t.tx.Rollback()
	t.tx = nil
	t.forgetPendingTables()

	if err != nil {
		return fmt.Errorf("datarecording: rollback: %w", err)
	}

	return nil
}

func (t *sqliteWriter) forgetPendingTables() {
	for _, name := range t.pendingTables {
		delete(t.tables, name)
		t.tableOrder = slices.DeleteFunc(t.tableOrder, func(n string) bool {
			return n == name
		})
	}

	t.pendingTables = nil
}

func (t *sqliteWriter) dropBuffers() {
	for _, table := range t.tables {
		table.entries = nil
	}

	t.entryCount = 0
}

func insertAll(tx *sql.Tx, tableName string, entries []any) error {
	stmt, err := tx.Prepare(insertStatement(tableName, entries[0]))
	if err != nil {
		return fmt.Errorf("datarecording: prepare insert into %s: %w", tableName, err)
	}
	defer stmt.Close()

	for _, entry := range entries {
		if _, err := stmt.Exec(structs.Values(entry)...); err != nil {
			return fmt.Errorf("datarecording: insert into %s: %w", tableName, err)
		}
	}

	return nil
}

func (t *sqliteWriter) Close() error {
	if t.closed {
		return nil
	}

	flushErr := t.Flush()
	t.closed = true

	return errors.Join(flushErr, t.DB.Close())
}

func (t *sqliteWriter) mustExecute(query string) sql.Result {
	exec := t.Exec
	if t.tx != nil {
		exec = t.tx.Exec
	}

	res, err := exec(query)
	if err != nil {
		panic(fmt.Errorf("datarecording: failed to execute %q: %w", query, err))
	}

	return res
}

func insertStatement(table string, entry any) string {
	n := structs.Names(entry)
	for i := range n {
		n[i] = "?"
	}

	return "INSERT INTO " + table + " VALUES (" + strings.Join(n, ", ") + ")"
}

// Package whtest is an in-memory stand-in for Snowflake behind database/sql.
//
// It understands the statements issued by warehouse.StageAndLoad: file formats,
// stages, PUT from the local filesystem, LIST, TRUNCATE and COPY INTO with an
// ON_ERROR policy. COPY parses one record per line and treats a record whose
// field count differs from the table's column count as malformed. PUT stores
// files with a ".gz" suffix, as Snowflake does with auto-compression, and COPY
// paths match staged files by prefix.
package whtest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
)

var (
	reFileFormat = regexp.MustCompile(`(?i)^CREATE OR REPLACE FILE FORMAT (\w+) TYPE\s*=\s*'CSV' FIELD_DELIMITER\s*=\s*'(.)'\s*;?$`)
	reStage      = regexp.MustCompile(`(?i)^CREATE OR REPLACE STAGE (\w+) FILE_FORMAT\s*=\s*(\w+)\s*;?$`)
	rePut        = regexp.MustCompile(`(?i)^PUT 'file://([^']+)' @(\w+)\s*;?$`)
	reList       = regexp.MustCompile(`(?i)^LIST @(\w+)\s*;?$`)
	reTruncate   = regexp.MustCompile(`(?i)^TRUNCATE TABLE ([\w.]+)\s*;?$`)
	reCopy       = regexp.MustCompile(`(?i)^COPY INTO ([\w.]+) FROM @(\w+)/(\S+) FILE_FORMAT\s*=\s*(\w+),\s*ON_ERROR\s*=\s*'(\w+)'\s*;?$`)
)

type table struct {
	columns int
	rows    [][]string
}

type stage struct {
	format string
	files  map[string][]byte
}

type failure struct {
	prefix string
	err    error
}

// Warehouse is a driver.Connector. Use DB to get a *sql.DB bound to it.
type Warehouse struct {
	mu sync.Mutex

	formats map[string]rune
	stages  map[string]*stage
	tables  map[string]*table

	statements []string
	failures   []failure
	connectErr error

	opened int
	closed int
}

func New() *Warehouse {
	return &Warehouse{
		formats: map[string]rune{},
		stages:  map[string]*stage{},
		tables:  map[string]*table{},
	}
}

// AddTable creates schema.table with the given column count and initial rows.
func (w *Warehouse) AddTable(qualified string, columns int, rows ...[]string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tables[strings.ToUpper(qualified)] = &table{columns: columns, rows: rows}
}

// FailOn makes every statement starting with prefix (case-insensitive) fail with err.
func (w *Warehouse) FailOn(prefix string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failures = append(w.failures, failure{prefix: strings.ToUpper(prefix), err: err})
}

// FailConnect makes new connections fail with err, like a rejected login.
func (w *Warehouse) FailConnect(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.connectErr = err
}

func (w *Warehouse) DB() *sql.DB {
	return sql.OpenDB(w)
}

// Rows returns a copy of the table contents, or nil if the table is unknown.
func (w *Warehouse) Rows(qualified string) [][]string {
	w.mu.Lock()
	defer w.mu.Unlock()
	t, ok := w.tables[strings.ToUpper(qualified)]
	if !ok {
		return nil
	}
	out := make([][]string, len(t.rows))
	for i, r := range t.rows {
		out[i] = append([]string(nil), r...)
	}
	return out
}

// Statements returns every statement received, failed ones included.
func (w *Warehouse) Statements() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.statements...)
}

// StagedFiles lists the file names in a stage, sorted.
func (w *Warehouse) StagedFiles(name string) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	st, ok := w.stages[strings.ToUpper(name)]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(st.files))
	for n := range st.files {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (w *Warehouse) HasFileFormat(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.formats[strings.ToUpper(name)]
	return ok
}

// OpenConns is the number of driver connections not yet closed.
func (w *Warehouse) OpenConns() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened - w.closed
}

// Opened is the number of driver connections ever created.
func (w *Warehouse) Opened() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.opened
}

func (w *Warehouse) Connect(context.Context) (driver.Conn, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.connectErr != nil {
		return nil, w.connectErr
	}
	w.opened++
	return &conn{w: w}, nil
}

func (w *Warehouse) Driver() driver.Driver { return drv{w} }

type drv struct{ w *Warehouse }

func (d drv) Open(string) (driver.Conn, error) { return d.w.Connect(context.Background()) }

type conn struct {
	w      *Warehouse
	closed bool
}

func (c *conn) Prepare(string) (driver.Stmt, error) {
	return nil, errors.New("whtest: prepared statements are not supported")
}

func (c *conn) Begin() (driver.Tx, error) {
	return nil, errors.New("whtest: transactions are not supported")
}

func (c *conn) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.w.mu.Lock()
	c.w.closed++
	c.w.mu.Unlock()
	return nil
}

func (c *conn) Ping(context.Context) error {
	if c.closed {
		return driver.ErrBadConn
	}
	return nil
}

func (c *conn) ExecContext(ctx context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	if c.closed {
		return nil, driver.ErrBadConn
	}
	if len(args) > 0 {
		return nil, errors.New("whtest: bind arguments are not supported")
	}
	return c.w.exec(strings.TrimSpace(query))
}

func (w *Warehouse) exec(q string) (driver.Result, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.statements = append(w.statements, q)

	upper := strings.ToUpper(q)
	for _, f := range w.failures {
		if strings.HasPrefix(upper, f.prefix) {
			return nil, f.err
		}
	}

	switch {
	case reFileFormat.MatchString(q):
		m := reFileFormat.FindStringSubmatch(q)
		w.formats[strings.ToUpper(m[1])] = []rune(m[2])[0]
		return driver.RowsAffected(0), nil

	case reStage.MatchString(q):
		m := reStage.FindStringSubmatch(q)
		format := strings.ToUpper(m[2])
		if _, ok := w.formats[format]; !ok {
			return nil, fmt.Errorf("file format '%s' does not exist or not authorized", format)
		}
		w.stages[strings.ToUpper(m[1])] = &stage{format: format, files: map[string][]byte{}}
		return driver.RowsAffected(0), nil

	case rePut.MatchString(q):
		m := rePut.FindStringSubmatch(q)
		st, err := w.stage(m[2])
		if err != nil {
			return nil, err
		}
		data, err := os.ReadFile(m[1])
		if err != nil {
			return nil, fmt.Errorf("file does not exist: %s", m[1])
		}
		st.files[filepath.Base(m[1])+".gz"] = data
		return driver.RowsAffected(1), nil

	case reList.MatchString(q):
		st, err := w.stage(reList.FindStringSubmatch(q)[1])
		if err != nil {
			return nil, err
		}
		return driver.RowsAffected(int64(len(st.files))), nil

	case reTruncate.MatchString(q):
		t, err := w.table(reTruncate.FindStringSubmatch(q)[1])
		if err != nil {
			return nil, err
		}
		t.rows = nil
		return driver.RowsAffected(0), nil

	case reCopy.MatchString(q):
		m := reCopy.FindStringSubmatch(q)
		return w.copyInto(m[1], m[2], m[3], m[4], m[5])
	}

	return nil, fmt.Errorf("sql compilation error: unsupported statement %q", q)
}

func (w *Warehouse) stage(name string) (*stage, error) {
	st, ok := w.stages[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("stage '%s' does not exist or not authorized", strings.ToUpper(name))
	}
	return st, nil
}

func (w *Warehouse) table(name string) (*table, error) {
	t, ok := w.tables[strings.ToUpper(name)]
	if !ok {
		return nil, fmt.Errorf("table '%s' does not exist or not authorized", strings.ToUpper(name))
	}
	return t, nil
}

func (w *Warehouse) copyInto(tableName, stageName, path, formatName, onError string) (driver.Result, error) {
	t, err := w.table(tableName)
	if err != nil {
		return nil, err
	}
	st, err := w.stage(stageName)
	if err != nil {
		return nil, err
	}
	delim, ok := w.formats[strings.ToUpper(formatName)]
	if !ok {
		return nil, fmt.Errorf("file format '%s' does not exist or not authorized", strings.ToUpper(formatName))
	}
	cont := strings.EqualFold(onError, "CONTINUE")

	names := make([]string, 0, len(st.files))
	for n := range st.files {
		if strings.HasPrefix(n, path) {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var loaded [][]string
	for _, n := range names {
		for i, line := range strings.Split(string(st.files[n]), "\n") {
			line = strings.TrimSuffix(line, "\r")
			if line == "" {
				continue
			}
			rec, err := parseLine(line, delim)
			if err == nil && len(rec) != t.columns {
				err = fmt.Errorf("number of columns in file (%d) does not match that of the corresponding table (%d)", len(rec), t.columns)
			}
			if err != nil {
				if cont {
					continue
				}
				return nil, fmt.Errorf("%s line %d: %w", n, i+1, err)
			}
			loaded = append(loaded, rec)
		}
	}

	t.rows = append(t.rows, loaded...)
	return driver.RowsAffected(int64(len(loaded))), nil
}

func parseLine(line string, delim rune) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.Comma = delim
	r.FieldsPerRecord = -1
	return r.Read()
}

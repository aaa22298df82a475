package warehouse

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// FileFormatName is recreated on every load.
const FileFormatName = "COMMA_CSV"

// Target names everything one load touches.
type Target struct {
	StageName string
	Schema    string
	Table     string
	FilePath  string // local path handed to PUT
	FileName  string // name of the file inside the stage
}

func (t Target) Validate() error {
	var missing []string
	if strings.TrimSpace(t.StageName) == "" {
		missing = append(missing, "stage name")
	}
	if strings.TrimSpace(t.Schema) == "" {
		missing = append(missing, "schema")
	}
	if strings.TrimSpace(t.Table) == "" {
		missing = append(missing, "table")
	}
	if strings.TrimSpace(t.FilePath) == "" {
		missing = append(missing, "file path")
	}
	if strings.TrimSpace(t.FileName) == "" {
		missing = append(missing, "file name")
	}
	if len(missing) > 0 {
		return fmt.Errorf("invalid load target: missing %s", strings.Join(missing, ", "))
	}
	return nil
}

func (t Target) QualifiedTable() string {
	return t.Schema + "." + t.Table
}

// Step is one statement of the load sequence.
type Step struct {
	Name string
	SQL  string
}

// Steps returns the load sequence in execution order. Names are interpolated
// into the SQL text as given.
func Steps(t Target) []Step {
	return []Step{
		{"create_file_format", fmt.Sprintf("CREATE OR REPLACE FILE FORMAT %s TYPE = 'CSV' FIELD_DELIMITER = ',';", FileFormatName)},
		{"create_stage", fmt.Sprintf("CREATE OR REPLACE STAGE %s FILE_FORMAT = %s", t.StageName, FileFormatName)},
		{"put", fmt.Sprintf("PUT 'file://%s' @%s", t.FilePath, t.StageName)},
		{"list", fmt.Sprintf("LIST @%s", t.StageName)},
		{"truncate", fmt.Sprintf("TRUNCATE TABLE %s;", t.QualifiedTable())},
		{"copy", fmt.Sprintf("COPY INTO %s FROM @%s/%s FILE_FORMAT = %s, ON_ERROR = 'CONTINUE';",
			t.QualifiedTable(), t.StageName, t.FileName, FileFormatName)},
	}
}

func Statements(t Target) []string {
	steps := Steps(t)
	out := make([]string, len(steps))
	for i, s := range steps {
		out[i] = s.SQL
	}
	return out
}

// StatementError is returned when a step fails. Steps already executed are not
// undone: a failure at or after "truncate" leaves the table truncated.
type StatementError struct {
	Step      string
	Statement string
	Err       error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StatementError) Unwrap() error {
	return e.Err
}

type LoadResult struct {
	Executed   []string // step names, in order
	RowsLoaded int64    // -1 when the driver does not report it
}

// StageAndLoad runs Steps(t) on cur in order, without a transaction, stopping at
// the first failure.
func StageAndLoad(ctx context.Context, cur Cursor, t Target) (*LoadResult, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	res := &LoadResult{RowsLoaded: -1}
	for _, step := range Steps(t) {
		r, err := cur.ExecContext(ctx, step.SQL)
		if err != nil {
			slog.ErrorContext(ctx, "warehouse statement failed", "step", step.Name, "error", err)
			return res, &StatementError{Step: step.Name, Statement: step.SQL, Err: err}
		}
		res.Executed = append(res.Executed, step.Name)

		var n int64 = -1
		if r != nil {
			if v, err := r.RowsAffected(); err == nil {
				n = v
			}
		}
		if step.Name == "copy" {
			res.RowsLoaded = n
		}
		slog.DebugContext(ctx, "warehouse statement", "step", step.Name, "rows", n)
	}

	slog.InfoContext(ctx, "stage and load done",
		"stage", t.StageName,
		"table", t.QualifiedTable(),
		"rows_loaded", res.RowsLoaded,
	)
	return res, nil
}

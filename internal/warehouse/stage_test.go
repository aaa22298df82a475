package warehouse

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"snowflake-loader/internal/warehouse/whtest"
)

func testTarget(t *testing.T, csv string) Target {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rates.csv")
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))
	return Target{
		StageName: "RATES_STAGE",
		Schema:    "RAW",
		Table:     "RATES",
		FilePath:  path,
		FileName:  "rates.csv",
	}
}

func openTestSession(t *testing.T, wh *whtest.Warehouse) *Session {
	t.Helper()
	s, err := NewSession(context.Background(), wh.DB())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStatementsOrderAndText(t *testing.T) {
	tgt := Target{StageName: "S", Schema: "SC", Table: "T", FilePath: "/tmp/data.csv", FileName: "data.csv"}

	require.Equal(t, []string{
		"CREATE OR REPLACE FILE FORMAT COMMA_CSV TYPE = 'CSV' FIELD_DELIMITER = ',';",
		"CREATE OR REPLACE STAGE S FILE_FORMAT = COMMA_CSV",
		"PUT 'file:///tmp/data.csv' @S",
		"LIST @S",
		"TRUNCATE TABLE SC.T;",
		"COPY INTO SC.T FROM @S/data.csv FILE_FORMAT = COMMA_CSV, ON_ERROR = 'CONTINUE';",
	}, Statements(tgt))
}

func TestStageAndLoadSkipsMalformedRows(t *testing.T) {
	wh := whtest.New()
	wh.AddTable("RAW.RATES", 3, []string{"old", "row", "x"})
	s := openTestSession(t, wh)

	// line 2 has four fields for a three-column table
	tgt := testTarget(t, "1,EUR,1.08\n2,GBP,1.27,extra\n3,JPY,0.0067\n")

	res, err := StageAndLoad(context.Background(), s.Cursor(), tgt)
	require.NoError(t, err)

	require.Equal(t, [][]string{
		{"1", "EUR", "1.08"},
		{"3", "JPY", "0.0067"},
	}, wh.Rows("RAW.RATES"))
	require.Equal(t, int64(2), res.RowsLoaded)
	require.Equal(t, []string{"create_file_format", "create_stage", "put", "list", "truncate", "copy"}, res.Executed)
	require.Equal(t, []string{"rates.csv.gz"}, wh.StagedFiles("RATES_STAGE"))
	require.True(t, wh.HasFileFormat(FileFormatName))
}

func TestStageAndLoadReplacesContents(t *testing.T) {
	wh := whtest.New()
	wh.AddTable("RAW.RATES", 2)
	s := openTestSession(t, wh)

	tgt := testTarget(t, "a,1\nb,2\n")
	_, err := StageAndLoad(context.Background(), s.Cursor(), tgt)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(tgt.FilePath, []byte("c,3\n"), 0o644))
	_, err = StageAndLoad(context.Background(), s.Cursor(), tgt)
	require.NoError(t, err)

	require.Equal(t, [][]string{{"c", "3"}}, wh.Rows("RAW.RATES"))
}

func TestStageAndLoadCopyFailureLeavesTableTruncated(t *testing.T) {
	wh := whtest.New()
	wh.AddTable("RAW.RATES", 2, []string{"keep", "me"}, []string{"and", "me"})
	wh.FailOn("COPY INTO", errors.New("connection reset by peer"))
	s := openTestSession(t, wh)

	res, err := StageAndLoad(context.Background(), s.Cursor(), testTarget(t, "a,1\n"))

	var se *StatementError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "copy", se.Step)
	require.Contains(t, se.Statement, "COPY INTO RAW.RATES")
	require.EqualError(t, err, "copy: connection reset by peer")

	require.Empty(t, wh.Rows("RAW.RATES"))
	require.Equal(t, []string{"create_file_format", "create_stage", "put", "list", "truncate"}, res.Executed)
}

func TestStageAndLoadStopsAtFirstFailure(t *testing.T) {
	wh := whtest.New()
	wh.AddTable("RAW.RATES", 2, []string{"keep", "me"})
	wh.FailOn("PUT", errors.New("insufficient privileges to operate on stage"))
	s := openTestSession(t, wh)

	_, err := StageAndLoad(context.Background(), s.Cursor(), testTarget(t, "a,1\n"))
	require.Error(t, err)

	// nothing after PUT ran, so the table is untouched
	require.Len(t, wh.Statements(), 3)
	require.Equal(t, [][]string{{"keep", "me"}}, wh.Rows("RAW.RATES"))
}

func TestStageAndLoadMissingTable(t *testing.T) {
	wh := whtest.New()
	s := openTestSession(t, wh)

	_, err := StageAndLoad(context.Background(), s.Cursor(), testTarget(t, "a,1\n"))

	var se *StatementError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "truncate", se.Step)
}

func TestStageAndLoadInvalidTarget(t *testing.T) {
	wh := whtest.New()
	s := openTestSession(t, wh)

	_, err := StageAndLoad(context.Background(), s.Cursor(), Target{Schema: "RAW"})
	require.EqualError(t, err, "invalid load target: missing stage name, table, file path, file name")
	require.Empty(t, wh.Statements())
}

type nilResultCursor struct{ n int }

func (c *nilResultCursor) ExecContext(context.Context, string, ...any) (sql.Result, error) {
	c.n++
	return nil, nil
}

func TestStageAndLoadUnknownRowCount(t *testing.T) {
	cur := &nilResultCursor{}
	tgt := Target{StageName: "S", Schema: "SC", Table: "T", FilePath: "/tmp/f.csv", FileName: "f.csv"}

	res, err := StageAndLoad(context.Background(), cur, tgt)
	require.NoError(t, err)
	require.Equal(t, 6, cur.n)
	require.Equal(t, int64(-1), res.RowsLoaded)
}

package structset

import (
	"database/sql"
	"path/filepath"
	"reflect"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStruct is a test struct that will be used in tests
type testStruct struct {
	ID     int64          `sql:"id"`
	Field1 string         `sql:"f1"`
	Field2 sql.NullString `sql:"f2"`
	Field3 float64
	Field4 []string `sql:"-"`
}

func TestGetStructFieldTagValues(t *testing.T) {
	tags := GetStructFieldTagValues(testStruct{}, "sql")
	assert.Equal(t, []string{"id", "f1", "f2", "Field3"}, tags)
}

func TestCachedFieldIndexes(t *testing.T) {
	expected := map[string]int{"id": 0, "f1": 1, "f2": 2, "Field3": 3}

	indexes := CachedFieldIndexes(reflect.TypeOf(testStruct{}))
	assert.Equal(t, expected, indexes)

	// Second call must return the cached map
	indexes = CachedFieldIndexes(reflect.TypeOf(testStruct{}))
	assert.Equal(t, expected, indexes)
}

func TestScanRow(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	_, err = db.Exec(`CREATE TABLE t (id integer, f1 text, f2 text, Field3 real);
INSERT INTO t VALUES (1, 'foo', NULL, 1.5), (2, 'bar', 'baz', 2.5);`)
	require.NoError(t, err)

	rows, err := db.Query("SELECT id, f1, f2, Field3 FROM t ORDER BY id")
	require.NoError(t, err)

	defer rows.Close()

	columns, err := rows.Columns()
	require.NoError(t, err)

	indexes := CachedFieldIndexes(reflect.TypeOf(testStruct{}))

	var got []testStruct

	for rows.Next() {
		var s testStruct
		require.NoError(t, ScanRow(rows, columns, indexes, &s))

		got = append(got, s)
	}

	require.NoError(t, rows.Err())
	assert.Equal(t, []testStruct{
		{ID: 1, Field1: "foo", Field3: 1.5},
		{ID: 2, Field1: "bar", Field2: sql.NullString{String: "baz", Valid: true}, Field3: 2.5},
	}, got)
}

func TestScanRowErrors(t *testing.T) {
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	defer db.Close()

	rows, err := db.Query("SELECT 1 AS id, 'x' AS unknown")
	require.NoError(t, err)

	defer rows.Close()

	columns, err := rows.Columns()
	require.NoError(t, err)
	require.True(t, rows.Next())

	indexes := CachedFieldIndexes(reflect.TypeOf(testStruct{}))

	var s testStruct
	assert.ErrorIs(t, ScanRow(rows, columns, indexes, s), ErrInvalidDest)
	assert.Error(t, ScanRow(rows, columns, indexes, &s))
}

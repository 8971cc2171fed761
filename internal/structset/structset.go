// Package structset implements reflection helpers to map database columns
// onto struct fields using `sql` tags
package structset

import (
	"database/sql"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// ErrInvalidDest is returned when the scan destination is not a pointer to struct.
var ErrInvalidDest = errors.New("dest must be a non-nil pointer to struct")

var (
	fieldIndexesCache sync.Map
)

// Get tag value of field. If tag value is "-", empty string will be returned
// If tag is empty, return name of field.
func getTagValue(field reflect.StructField, tag string) string {
	switch value := field.Tag.Get(tag); value {
	case "-":
		return ""
	case "":
		return field.Name
	default:
		return strings.Split(value, ",")[0]
	}
}

// GetStructFieldTagValues returns all tag names in a given struct for a given tag.
func GetStructFieldTagValues(s any, tag string) []string {
	typeOfS := reflect.TypeOf(s)

	var values []string

	for i := range typeOfS.NumField() {
		if value := getTagValue(typeOfS.Field(i), tag); value != "" {
			values = append(values, value)
		}
	}

	return values
}

// ScanRow scans the current row of rows into the fields of dest, which must
// be a pointer to struct. Every column must map to a field. It does not
// handle embedded fields. See https://github.com/golang/go/issues/61637
func ScanRow(rows *sql.Rows, columns []string, indexes map[string]int, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return ErrInvalidDest
	}

	elem := rv.Elem()
	scanArgs := make([]any, 0, len(columns))

	for _, column := range columns {
		index, ok := indexes[column]
		if !ok {
			return fmt.Errorf("no field found for column %s in %s", column, elem.Type())
		}

		scanArgs = append(scanArgs, elem.Field(index).Addr().Interface())
	}

	return rows.Scan(scanArgs...)
}

// fieldIndexes returns a map of database column name to struct field index.
func fieldIndexes(structType reflect.Type) map[string]int {
	indexes := make(map[string]int)

	for i := range structType.NumField() {
		if name := getTagValue(structType.Field(i), "sql"); name != "" {
			indexes[name] = i
		}
	}

	return indexes
}

// CachedFieldIndexes is like fieldIndexes, but cached per struct type.
func CachedFieldIndexes(structType reflect.Type) map[string]int {
	if f, ok := fieldIndexesCache.Load(structType); ok {
		return f.(map[string]int) //nolint:forcetypeassert
	}

	indexes := fieldIndexes(structType)
	fieldIndexesCache.Store(structType, indexes)

	return indexes
}

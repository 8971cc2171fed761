// Package report writes aggregated group statistics and per job metrics as
// CSV, Parquet, rendered tables and Prometheus text files
package report

import (
	"fmt"
	"reflect"
	"strconv"
)

// Null is written in place of undefined values.
const Null = "NULL"

// Float formats a non count quantity with two decimals.
func Float(v float64) string {
	return fmt.Sprintf("%.2f", v)
}

// OptFloat is like Float but returns Null for nil.
func OptFloat(v *float64) string {
	if v == nil {
		return Null
	}

	return Float(*v)
}

// Int formats counts, identifiers and codes.
func Int(v int64) string {
	return strconv.FormatInt(v, 10)
}

// formatValue formats a struct field of one of the kinds used by report
// records.
func formatValue(v reflect.Value) string {
	switch v.Kind() { //nolint:exhaustive
	case reflect.Pointer:
		if v.IsNil() {
			return Null
		}

		return formatValue(v.Elem())
	case reflect.Int, reflect.Int32, reflect.Int64:
		return Int(v.Int())
	case reflect.Float32, reflect.Float64:
		return Float(v.Float())
	case reflect.Bool:
		if v.Bool() {
			return "1"
		}

		return "0"
	case reflect.String:
		return v.String()
	default:
		return fmt.Sprint(v.Interface())
	}
}

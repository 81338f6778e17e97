// Package rowmapper deserializes result rows into Go values.
//
// Structs are filled through sqlx's StructScan using `db` tags (untagged
// fields match their lowercased name). Scalars, time.Time and sql.Scanner
// implementations are read from a single-column row.
package rowmapper

import (
	"database/sql"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/jmoiron/sqlx/reflectx"
)

var (
	scannerType = reflect.TypeFor[sql.Scanner]()
	timeType    = reflect.TypeFor[time.Time]()
)

// DefaultMapper is the field mapper used when none is supplied.
var DefaultMapper = reflectx.NewMapperFunc("db", strings.ToLower)

// RowMapper builds values of one type from rows.
type RowMapper struct {
	typ    reflect.Type
	base   reflect.Type
	ptr    bool
	strct  bool
	mapper *reflectx.Mapper
}

// New returns a RowMapper for t. Pointer types yield freshly allocated
// values. Channels, funcs and unsafe pointers are rejected.
func New(t reflect.Type, mapper *reflectx.Mapper) (*RowMapper, error) {
	if t == nil {
		return nil, fmt.Errorf("rowmapper: nil type")
	}
	if mapper == nil {
		mapper = DefaultMapper
	}

	rm := &RowMapper{typ: t, base: t, mapper: mapper}
	if t.Kind() == reflect.Pointer {
		rm.ptr = true
		rm.base = t.Elem()
	}

	switch rm.base.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer, reflect.Pointer:
		return nil, fmt.Errorf("rowmapper: cannot map rows to %s", t)
	case reflect.Struct:
		rm.strct = !isScannable(rm.base)
	}
	return rm, nil
}

func isScannable(t reflect.Type) bool {
	return t == timeType || reflect.PointerTo(t).Implements(scannerType)
}

// Cursor binds the mapper to an open result set.
func (rm *RowMapper) Cursor(rows *sql.Rows) *Cursor {
	return &Cursor{rm: rm, rows: &sqlx.Rows{Rows: rows, Mapper: rm.mapper}}
}

// Cursor deserializes the rows of one result set.
type Cursor struct {
	rm   *RowMapper
	rows *sqlx.Rows
}

// Next advances to the next row.
func (c *Cursor) Next() bool {
	return c.rows.Next()
}

// Err returns the iteration error, if any.
func (c *Cursor) Err() error {
	return c.rows.Err()
}

// Value deserializes the current row.
func (c *Cursor) Value() (any, error) {
	dest := reflect.New(c.rm.base)

	var err error
	if c.rm.strct {
		err = c.rows.StructScan(dest.Interface())
	} else {
		err = c.rows.Scan(dest.Interface())
	}
	if err != nil {
		return nil, fmt.Errorf("rowmapper: scan %s: %w", c.rm.typ, err)
	}

	if c.rm.ptr {
		return dest.Interface(), nil
	}
	return dest.Elem().Interface(), nil
}

// FromInt64 converts a driver-generated integer id, as returned by
// sql.Result.LastInsertId, or an affected-row count into a value of type t. Supported targets are
// integer and unsigned kinds, strings, sql.Scanner implementations and any.
func FromInt64(id int64, t reflect.Type) (any, error) {
	base := t
	if t.Kind() == reflect.Pointer {
		base = t.Elem()
	}

	dest := reflect.New(base)
	switch {
	case reflect.PointerTo(base).Implements(scannerType):
		if err := dest.Interface().(sql.Scanner).Scan(id); err != nil {
			return nil, fmt.Errorf("rowmapper: convert id to %s: %w", t, err)
		}
	case base.Kind() == reflect.Interface && base.NumMethod() == 0:
		dest.Elem().Set(reflect.ValueOf(id))
	case base.Kind() == reflect.String:
		dest.Elem().SetString(strconv.FormatInt(id, 10))
	case isInteger(base.Kind()):
		v := reflect.ValueOf(id)
		if base.Kind() >= reflect.Uint && base.Kind() <= reflect.Uintptr {
			if id < 0 || dest.Elem().OverflowUint(uint64(id)) {
				return nil, fmt.Errorf("rowmapper: value %d overflows %s", id, t)
			}
		} else if dest.Elem().OverflowInt(id) {
			return nil, fmt.Errorf("rowmapper: value %d overflows %s", id, t)
		}
		dest.Elem().Set(v.Convert(base))
	default:
		return nil, fmt.Errorf("rowmapper: cannot convert generated id to %s", t)
	}

	if t.Kind() == reflect.Pointer {
		return dest.Interface(), nil
	}
	return dest.Elem().Interface(), nil
}

func isInteger(k reflect.Kind) bool {
	return k >= reflect.Int && k <= reflect.Uintptr
}

// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package clause

import (
	"reflect"
	"sort"

	"github.com/canonical/dblite/internal/typeinfo"
)

// Fields returns the mapped column names of a struct value as Idents.
func Fields(v any) ([]Ident, error) {
	cols, err := typeinfo.Columns(v)
	if err != nil {
		return nil, specErrorf("cannot use %T for columns: %s", v, err)
	}
	ids := make([]Ident, len(cols))
	for i, c := range cols {
		ids[i] = Ident(c)
	}
	return ids, nil
}

// Names returns the column references of a column or grouping source. Each
// entry is a string or an Ident.
func Names(src any) ([]any, error) {
	switch src := src.(type) {
	case nil:
		return nil, nil
	case string:
		if src == "" {
			return nil, nil
		}
		return []any{src}, nil
	case Ident:
		return []any{src}, nil
	case []string:
		names := make([]any, len(src))
		for i, s := range src {
			names[i] = s
		}
		return names, nil
	case []Ident:
		names := make([]any, len(src))
		for i, s := range src {
			names[i] = s
		}
		return names, nil
	case []any:
		names := make([]any, len(src))
		for i, s := range src {
			name, err := column(s)
			if err != nil {
				return nil, err
			}
			names[i] = name
		}
		return names, nil
	}
	if typeinfo.IsStruct(src) {
		ids, err := Fields(src)
		if err != nil {
			return nil, err
		}
		return Names(ids)
	}
	return nil, specErrorf("cannot use %T as column list", src)
}

// Table returns the table reference of a query: a raw string, or an Ident for
// Ident values and struct values.
func Table(src any) (any, error) {
	switch src := src.(type) {
	case string:
		if src == "" {
			return nil, specErrorf("empty table name")
		}
		return src, nil
	case Ident:
		if src == "" {
			return nil, specErrorf("empty table name")
		}
		return src, nil
	case nil:
		return nil, specErrorf("missing table")
	}
	name, err := typeinfo.TableName(src)
	if err != nil {
		return nil, specErrorf("%s", err)
	}
	return Ident(name), nil
}

// Sort is one ordering entry. Dir is nil for the default ascending order, a
// bool (true for ascending) or a keyword string such as "DESC NULLS LAST".
type Sort struct {
	Column any
	Dir    any
}

// Asc orders by col ascending.
func Asc(col any) Sort {
	return Sort{Column: col, Dir: true}
}

// Desc orders by col descending.
func Desc(col any) Sort {
	return Sort{Column: col, Dir: false}
}

// Direction returns the keyword to append after the column, "" for
// ascending.
func (s Sort) Direction() (string, error) {
	switch dir := s.Dir.(type) {
	case nil:
		return "", nil
	case bool:
		if dir {
			return "", nil
		}
		return "DESC", nil
	case string:
		return dir, nil
	}
	return "", specErrorf("cannot use %T as ordering direction", s.Dir)
}

// Orders returns the ordering entries of an ordering source.
func Orders(src any) ([]Sort, error) {
	switch src := src.(type) {
	case nil:
		return nil, nil
	case string:
		if src == "" {
			return nil, nil
		}
		return []Sort{{Column: src}}, nil
	case Ident:
		return []Sort{{Column: src}}, nil
	case Sort:
		return []Sort{src}, nil
	case []Sort:
		return src, nil
	case []string:
		sorts := make([]Sort, len(src))
		for i, s := range src {
			sorts[i] = Sort{Column: s}
		}
		return sorts, nil
	case map[string]bool:
		keys := make([]string, 0, len(src))
		for k := range src {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sorts := make([]Sort, len(keys))
		for i, k := range keys {
			sorts[i] = Sort{Column: k, Dir: src[k]}
		}
		return sorts, nil
	case []any:
		// A lone (column, bool) pair is a single entry.
		if len(src) == 2 {
			if _, ok := src[1].(bool); ok {
				if col, err := column(src[0]); err == nil {
					return []Sort{{Column: col, Dir: src[1]}}, nil
				}
			}
		}
		sorts := make([]Sort, 0, len(src))
		for _, item := range src {
			s, err := sortEntry(item)
			if err != nil {
				return nil, err
			}
			sorts = append(sorts, s)
		}
		return sorts, nil
	}
	return nil, specErrorf("cannot use %T as ordering", src)
}

func sortEntry(item any) (Sort, error) {
	switch item := item.(type) {
	case Sort:
		return item, nil
	case []any:
		if len(item) == 0 || len(item) > 2 {
			return Sort{}, specErrorf("ordering entry must have 1 or 2 elements, got %d", len(item))
		}
		col, err := column(item[0])
		if err != nil {
			return Sort{}, err
		}
		s := Sort{Column: col}
		if len(item) == 2 {
			s.Dir = item[1]
		}
		return s, nil
	}
	col, err := column(item)
	if err != nil {
		return Sort{}, err
	}
	return Sort{Column: col}, nil
}

// Paging returns the (limit, offset) values of a paging source. The result
// has as many entries as were given, at most two; nil entries mean absent.
// Negative values are absent too.
func Paging(src any) ([]*int64, error) {
	if src == nil {
		return nil, nil
	}
	if n, ok := integer(src); ok {
		return []*int64{nonNegative(n)}, nil
	}
	v := reflect.ValueOf(src)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, specErrorf("cannot use %T as limit", src)
	}
	if v.Len() > 2 {
		return nil, specErrorf("limit takes at most 2 values, got %d", v.Len())
	}
	page := make([]*int64, v.Len())
	for i := 0; i < v.Len(); i++ {
		item := v.Index(i).Interface()
		if item == nil {
			continue
		}
		n, ok := integer(item)
		if !ok {
			return nil, specErrorf("cannot use %T as limit value", item)
		}
		page[i] = nonNegative(n)
	}
	return page, nil
}

func nonNegative(n int64) *int64 {
	if n < 0 {
		return nil
	}
	return &n
}

func integer(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	case reflect.Pointer:
		if rv.IsNil() {
			return -1, true
		}
		return integer(rv.Elem().Interface())
	}
	return 0, false
}

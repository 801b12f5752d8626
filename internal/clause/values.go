// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package clause

import (
	"fmt"
	"reflect"
	"sort"
)

// IsCollection reports whether v is a slice, an array or a map used as a
// set. Byte slices are scalar blobs, not collections.
func IsCollection(v any) bool {
	if v == nil {
		return false
	}
	t := reflect.TypeOf(v)
	switch t.Kind() {
	case reflect.Slice, reflect.Array:
		return t.Elem().Kind() != reflect.Uint8
	case reflect.Map:
		return true
	}
	return false
}

// Arity is the number of values v stands for: its length if it is a
// collection, otherwise 1.
func Arity(v any) int {
	if !IsCollection(v) {
		return 1
	}
	return reflect.ValueOf(v).Len()
}

// List returns the elements of a collection as a new slice, or a one element
// slice holding v. The keys of a map are returned in sorted order.
func List(v any) []any {
	if !IsCollection(v) {
		return []any{v}
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Map {
		return sortedKeys(rv)
	}
	list := make([]any, rv.Len())
	for i := range list {
		list[i] = rv.Index(i).Interface()
	}
	return list
}

// IsNull reports whether v stands for SQL NULL: nil, or a nil pointer, slice
// or map.
func IsNull(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Slice, reflect.Map:
		return rv.IsNil()
	}
	return false
}

func sortedKeys(m reflect.Value) []any {
	keys := m.MapKeys()
	sort.Slice(keys, func(i, j int) bool {
		return lessValue(keys[i], keys[j])
	})
	list := make([]any, len(keys))
	for i, k := range keys {
		list[i] = k.Interface()
	}
	return list
}

func lessValue(a, b reflect.Value) bool {
	if a.Kind() == b.Kind() {
		switch a.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return a.Int() < b.Int()
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return a.Uint() < b.Uint()
		case reflect.Float32, reflect.Float64:
			return a.Float() < b.Float()
		case reflect.String:
			return a.String() < b.String()
		}
	}
	return fmt.Sprint(a.Interface()) < fmt.Sprint(b.Interface())
}

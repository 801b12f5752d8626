// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typeinfo

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"sync"
)

var cacheMutex sync.RWMutex
var cache = make(map[reflect.Type]*Info)

// TableNamer is implemented by struct types that are stored in a table whose
// name differs from the type name.
type TableNamer interface {
	TableName() string
}

// GetTypeInfo will return the Info of the struct type of the given value,
// generating and caching as required. Pointers are dereferenced.
func GetTypeInfo(value any) (*Info, error) {
	if value == (any)(nil) {
		return &Info{}, fmt.Errorf("cannot reflect nil value")
	}

	v := reflect.ValueOf(value)
	v = reflect.Indirect(v)
	if !v.IsValid() {
		return &Info{}, fmt.Errorf("cannot reflect nil pointer")
	}

	cacheMutex.RLock()
	info, found := cache[v.Type()]
	cacheMutex.RUnlock()
	if found {
		return info, nil
	}

	info, err := generate(v.Type())
	if err != nil {
		return &Info{}, err
	}

	cacheMutex.Lock()
	cache[v.Type()] = info
	cacheMutex.Unlock()

	return info, nil
}

// IsStruct reports whether value is a struct or a non-nil pointer to one.
func IsStruct(value any) bool {
	if value == nil {
		return false
	}
	v := reflect.Indirect(reflect.ValueOf(value))
	return v.IsValid() && v.Kind() == reflect.Struct
}

// Members returns the column names and field values of a struct value in
// field declaration order. Fields tagged with "omitempty" are left out when
// they hold the zero value.
func Members(value any) ([]Member, error) {
	info, err := GetTypeInfo(value)
	if err != nil {
		return nil, err
	}
	v := reflect.Indirect(reflect.ValueOf(value))
	members := make([]Member, 0, len(info.Fields))
	for _, field := range info.Fields {
		fv, ok := fieldByIndex(v, field.Index)
		if !ok {
			// Nil embedded pointer, nothing to read.
			continue
		}
		if field.OmitEmpty && fv.IsZero() {
			continue
		}
		members = append(members, Member{Column: field.Column, Value: fv.Interface()})
	}
	return members, nil
}

// Columns returns the column names of a struct type in field declaration
// order.
func Columns(value any) ([]string, error) {
	info, err := GetTypeInfo(value)
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(info.Fields))
	for i, field := range info.Fields {
		cols[i] = field.Column
	}
	return cols, nil
}

// TableName returns the name of the table a struct value is stored in: the
// result of its TableName method if it has one, otherwise the type name.
func TableName(value any) (string, error) {
	if tn, ok := value.(TableNamer); ok {
		return tn.TableName(), nil
	}
	if !IsStruct(value) {
		return "", fmt.Errorf("cannot use %T as table: need struct", value)
	}
	typ := reflect.Indirect(reflect.ValueOf(value)).Type()
	if typ.Name() == "" {
		return "", fmt.Errorf("cannot use anonymous struct as table")
	}
	return typ.Name(), nil
}

// fieldByIndex is reflect.Value.FieldByIndex that does not panic on nil
// embedded pointers.
func fieldByIndex(v reflect.Value, index []int) (reflect.Value, bool) {
	for i, x := range index {
		if i > 0 && v.Kind() == reflect.Pointer {
			if v.IsNil() {
				return reflect.Value{}, false
			}
			v = v.Elem()
		}
		v = v.Field(x)
	}
	return v, true
}

// generate produces and returns reflection information for the input
// struct type.
func generate(typ reflect.Type) (*Info, error) {
	// Reflection information is only generated for structs.
	if typ.Kind() != reflect.Struct {
		return &Info{}, fmt.Errorf("can only reflect struct type")
	}

	info := Info{
		ColumnToField: make(map[string]Field),
		Type:          typ,
	}
	if err := addFields(&info, typ, nil); err != nil {
		return &Info{}, err
	}
	return &info, nil
}

func addFields(info *Info, typ reflect.Type, parent []int) error {
	for i := 0; i < typ.NumField(); i++ {
		field := typ.Field(i)
		index := append(append([]int{}, parent...), i)
		tag, hasTag := field.Tag.Lookup("db")
		if tag == "-" {
			continue
		}

		// Untagged embedded structs contribute their own fields.
		if field.Anonymous && !hasTag {
			ft := field.Type
			if ft.Kind() == reflect.Pointer {
				ft = ft.Elem()
			}
			if ft.Kind() == reflect.Struct {
				if err := addFields(info, ft, index); err != nil {
					return err
				}
				continue
			}
		}
		if !field.IsExported() {
			continue
		}

		column, omitEmpty := field.Name, false
		if hasTag {
			var err error
			column, omitEmpty, err = parseTag(tag)
			if err != nil {
				return err
			}
		}
		if _, ok := info.ColumnToField[column]; ok {
			return fmt.Errorf("column %q appears more than once in %s", column, info.Type.Name())
		}
		f := Field{
			Name:      field.Name,
			Column:    column,
			Index:     index,
			OmitEmpty: omitEmpty,
			Tagged:    hasTag,
			Type:      field.Type,
		}
		info.Fields = append(info.Fields, f)
		info.ColumnToField[column] = f
	}
	return nil
}

var validColNameRx = regexp.MustCompile(`^([a-zA-Z_])+([a-zA-Z_0-9])*$`)

// parseTag parses the input tag string and returns its
// name and whether it contains the "omitempty" option.
func parseTag(tag string) (string, bool, error) {
	options := strings.Split(tag, ",")

	var omitEmpty bool
	// Refuse to parse if there are more than 2 items.
	if len(options) > 2 {
		return "", false, fmt.Errorf("too many options in 'db' tag")
	}
	if len(options) == 2 {
		if strings.ToLower(options[1]) != "omitempty" {
			return "", false, fmt.Errorf("unexpected tag value %q", options[1])
		}
		omitEmpty = true
	}

	name := options[0]
	if len(name) == 0 {
		return "", false, fmt.Errorf("empty db tag")
	}

	if !validColNameRx.MatchString(name) {
		return "", false, fmt.Errorf("invalid column name in 'db' tag")
	}

	return name, omitEmpty, nil
}

package engine

import (
	"reflect"

	"github.com/compmake/engine/internal/model"
)

// collectChildren walks args/kwargs as a tree — sequences, mappings, and
// struct "records" — looking for embedded model.Promise values, per spec
// section 4.3's argument rewriting step. It does not mutate the tree: a
// Promise already marshals to {"$promise": "<job_id>"} via its own json tag,
// so there is nothing to rewrite structurally, only ids to collect. Unknown
// object types (anything not a slice/array/map/struct/pointer/Promise) are
// left intact, exactly as spec requires.
func collectChildren(values ...any) map[string]struct{} {
	children := map[string]struct{}{}
	visited := map[uintptr]bool{}
	for _, v := range values {
		walk(reflect.ValueOf(v), children, visited, 0)
	}
	return children
}

const maxWalkDepth = 64

func walk(v reflect.Value, children map[string]struct{}, visited map[uintptr]bool, depth int) {
	if depth > maxWalkDepth || !v.IsValid() {
		return
	}

	if p, ok := v.Interface().(model.Promise); ok {
		children[p.JobID] = struct{}{}
		return
	}
	if p, ok := v.Interface().(*model.Promise); ok {
		if p != nil {
			children[p.JobID] = struct{}{}
		}
		return
	}

	switch v.Kind() {
	case reflect.Interface:
		walk(v.Elem(), children, visited, depth+1)
	case reflect.Ptr:
		if v.IsNil() {
			return
		}
		if visited[v.Pointer()] {
			return
		}
		visited[v.Pointer()] = true
		walk(v.Elem(), children, visited, depth+1)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice {
			if v.IsNil() {
				return
			}
			if visited[v.Pointer()] {
				return
			}
			visited[v.Pointer()] = true
		}
		for i := 0; i < v.Len(); i++ {
			walk(v.Index(i), children, visited, depth+1)
		}
	case reflect.Map:
		if v.IsNil() {
			return
		}
		if visited[v.Pointer()] {
			return
		}
		visited[v.Pointer()] = true
		iter := v.MapRange()
		for iter.Next() {
			walk(iter.Value(), children, visited, depth+1)
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if !v.Type().Field(i).IsExported() {
				continue
			}
			walk(v.Field(i), children, visited, depth+1)
		}
	default:
		// Scalars and anything else: opaque, left intact.
	}
}

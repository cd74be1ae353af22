// Package buildcontext is the type-keyed registry of objects shared by build tasks.
package buildcontext

import (
	"fmt"
	"reflect"

	"github.com/greeddj/go-sbp/internal/sbp/helpers"
)

// Context holds at most one object per type key for one build.
// It is filled before tasks run and is not safe for concurrent mutation.
type Context struct {
	objects      map[reflect.Type]any
	capabilities []reflect.Type
}

// New returns an empty Context. Objects registered later are also indexed
// under every capability interface they implement.
func New(capabilities ...reflect.Type) *Context {
	return &Context{
		objects:      make(map[reflect.Type]any),
		capabilities: capabilities,
	}
}

// TypeOf returns the reflect.Type of T, including interface types.
func TypeOf[T any]() reflect.Type {
	return reflect.TypeOf((*T)(nil)).Elem()
}

// Set registers obj under its concrete type and its capabilities.
// Nothing is registered when any of those keys is already taken.
func (c *Context) Set(obj any) error {
	if obj == nil {
		return helpers.ErrContextObjectNil
	}
	value := reflect.ValueOf(obj)
	if value.Kind() == reflect.Pointer && value.IsNil() {
		return helpers.ErrContextObjectNil
	}
	concrete := value.Type()
	keys := []reflect.Type{concrete}
	for _, capability := range c.capabilities {
		if capability != concrete && concrete.Implements(capability) {
			keys = append(keys, capability)
		}
	}
	return c.insert(obj, keys)
}

// SetAs registers obj under the type key T only.
func SetAs[T any](c *Context, obj T) error {
	value := reflect.ValueOf(&obj).Elem()
	if !value.IsValid() || (value.Kind() == reflect.Interface || value.Kind() == reflect.Pointer) && value.IsNil() {
		return helpers.ErrContextObjectNil
	}
	return c.insert(obj, []reflect.Type{TypeOf[T]()})
}

func (c *Context) insert(obj any, keys []reflect.Type) error {
	for _, key := range keys {
		if _, ok := c.objects[key]; ok {
			return fmt.Errorf("%w: %s", helpers.ErrContextObjectExists, key)
		}
	}
	for _, key := range keys {
		c.objects[key] = obj
	}
	return nil
}

// ContainsType reports whether an object is registered under t.
func (c *Context) ContainsType(t reflect.Type) bool {
	_, ok := c.objects[t]
	return ok
}

// Get returns the object registered under T.
func Get[T any](c *Context) (T, error) {
	obj, ok := TryGet[T](c)
	if !ok {
		return obj, fmt.Errorf("%w: %s", helpers.ErrContextObjectMissing, TypeOf[T]())
	}
	return obj, nil
}

// TryGet returns the object registered under T and whether it exists.
func TryGet[T any](c *Context) (T, bool) {
	var zero T
	if c == nil {
		return zero, false
	}
	obj, ok := c.objects[TypeOf[T]()]
	if !ok {
		return zero, false
	}
	typed, ok := obj.(T)
	return typed, ok
}

// Contains reports whether an object is registered under T.
func Contains[T any](c *Context) bool {
	return c != nil && c.ContainsType(TypeOf[T]())
}

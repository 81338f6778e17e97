package dao

import (
	"fmt"
	"reflect"

	"github.com/gaborage/rxdao/database/rowmapper"
)

// Void is the element type of update methods that deliver no value.
type Void struct{}

// GeneratedKey is the element type of insert methods delivering the keys
// they generated. The key columns are named by the method's keys tag.
type GeneratedKey[K any] struct {
	Key K
}

func (GeneratedKey[K]) keyType() reflect.Type { return reflect.TypeFor[K]() }

func (GeneratedKey[K]) wrap(v any) (any, error) {
	if v == nil {
		return GeneratedKey[K]{}, nil
	}
	k, ok := v.(K)
	if !ok {
		return nil, fmt.Errorf("dao: generated key of type %T is not a %s", v, reflect.TypeFor[K]())
	}
	return GeneratedKey[K]{Key: k}, nil
}

// keyCarrier is implemented by every GeneratedKey instantiation.
type keyCarrier interface {
	keyType() reflect.Type
	wrap(v any) (any, error)
}

var (
	voidType  = reflect.TypeFor[Void]()
	int64Type = reflect.TypeFor[int64]()
)

func asKeyCarrier(t reflect.Type) (keyCarrier, bool) {
	kc, ok := reflect.Zero(t).Interface().(keyCarrier)
	return kc, ok
}

// CollectionOptions pages a select method returning a Flux. Declare it as a
// *CollectionOptions parameter: the statement fetches Limit+1 rows starting
// at Offset, the Flux delivers at most Limit of them and LastRecord reports
// whether the window reached the end of the result. A non-positive Limit
// selects every remaining row.
//
// LastRecord is written during the subscription and is safe to read once
// the Flux has terminated.
type CollectionOptions struct {
	Limit      int
	Offset     int
	LastRecord bool
}

// PageWindow implements sqlspec.Pager.
func (o *CollectionOptions) PageWindow() (limit, offset int) {
	return o.Limit, o.Offset
}

// converter adapts values produced by a statement to the declared element
// type: keys are wrapped in GeneratedKey and counts converted between
// integer kinds. A count the element type cannot hold is an error.
func converter(elem reflect.Type) func(any) (any, error) {
	if kc, ok := asKeyCarrier(elem); ok {
		return kc.wrap
	}
	if !isInteger(elem.Kind()) {
		return nil
	}
	return func(v any) (any, error) {
		n, ok := v.(int64)
		if !ok || elem == int64Type {
			return v, nil
		}
		return rowmapper.FromInt64(n, elem)
	}
}

func isInteger(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

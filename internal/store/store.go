package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
)

// IDField holds a record's identity.
const IDField = "_id"

// Record is a schemaless document.
type Record map[string]interface{}

// ID returns the record identity, or "" when unset.
func (r Record) ID() string {
	id, _ := r[IDField].(string)
	return id
}

func (r Record) clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Selector matches records whose fields equal every given value. An
// empty selector matches everything.
type Selector map[string]interface{}

// Matches reports whether rec satisfies the selector.
func (s Selector) Matches(rec Record) bool {
	for field, want := range s {
		got, ok := rec[field]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// Order sorts find results by one field.
type Order struct {
	Field      string
	Descending bool
}

// Store is one logical table. Every call is atomic on its own; no
// cross-call transactions are offered.
type Store interface {
	// Upsert assigns an identity when rec has none, otherwise merges rec
	// into the stored record with the same identity. It returns the
	// stored record.
	Upsert(ctx context.Context, rec Record) (Record, error)

	// Find returns matching records in insertion order, or sorted by
	// order when given.
	Find(ctx context.Context, selector Selector, order *Order) ([]Record, error)
}

// Pinger is implemented by stores backed by a remote service.
type Pinger interface {
	Ping(ctx context.Context) error
}

func sortRecords(records []Record, order *Order) {
	if order == nil || order.Field == "" {
		return
	}
	sort.SliceStable(records, func(i, j int) bool {
		c := compareValues(records[i][order.Field], records[j][order.Field])
		if order.Descending {
			return c > 0
		}
		return c < 0
	})
}

func compareValues(a, b interface{}) int {
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case float64:
		if bv, ok := b.(float64); ok {
			switch {
			case av < bv:
				return -1
			case av > bv:
				return 1
			}
			return 0
		}
	case int:
		if bv, ok := b.(int); ok {
			return av - bv
		}
	}
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	as, bs := fmt.Sprint(a), fmt.Sprint(b)
	switch {
	case as < bs:
		return -1
	case as > bs:
		return 1
	}
	return 0
}

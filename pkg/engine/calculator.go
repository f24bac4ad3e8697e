package engine

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
)

// Calculate compares desired items with existing items and returns the changes
// needed to converge them. It performs no I/O.
//
// Desired items are matched against existing ones by trying desc.Identifiers in
// order. A matched item whose payload differs becomes an update carrying the
// existing item's id; an unmatched desired item becomes a create; existing items
// matched by nothing are delete candidates. Whether deletes are executed is
// decided by the caller; allowDelete only affects conflict detection, because
// existing items that will be deleted first cannot collide.
func Calculate(desc Descriptor, desired, existing []Item, allowDelete bool) *ChangeSet {
	changes := &ChangeSet{
		Create:    make([]Item, 0),
		Update:    make([]Item, 0),
		Delete:    make([]Item, 0),
		Conflicts: make([]Item, 0),
	}

	idField := desc.idField()
	matched := make([]bool, len(existing))

	// claimants records, per desired item that will be written, which existing
	// item it targets (-1 for creates).
	type claimant struct {
		item   Item
		target int
	}
	writes := make([]claimant, 0, len(desired))

	for _, d := range desired {
		j := matchExisting(desc, d, existing, matched)
		if j < 0 {
			changes.Create = append(changes.Create, d.Clone())
			writes = append(writes, claimant{item: d, target: -1})
			continue
		}

		matched[j] = true
		if subsetEqual(d, existing[j]) {
			continue
		}

		update := d.Clone()
		if existing[j].Has(idField) {
			update[idField] = existing[j][idField]
		}
		changes.Update = append(changes.Update, update)
		writes = append(writes, claimant{item: d, target: j})
	}

	for j, e := range existing {
		if !matched[j] {
			changes.Delete = append(changes.Delete, e.Clone())
		}
	}

	if len(desc.UniqueFields) == 0 || len(writes) == 0 {
		return changes
	}

	conflicts := make(map[int]Item)
	for _, field := range desc.UniqueFields {
		// Value claimed by each written item, keyed by canonical value.
		claims := make(map[string][]int)
		for _, w := range writes {
			if !w.item.Has(field) {
				continue
			}
			key := valueKey(w.item[field])
			claims[key] = append(claims[key], w.target)
		}

		next := newTempValues(field, desired, existing)
		for j, e := range existing {
			if !e.Has(field) {
				continue
			}
			if allowDelete && !matched[j] {
				continue
			}

			targets, ok := claims[valueKey(e[field])]
			if !ok || !claimedByOther(targets, j) {
				continue
			}

			c, ok := conflicts[j]
			if !ok {
				c = Item{}
				if e.Has(idField) {
					c[idField] = e[idField]
				}
				if name := desc.nameField(); e.Has(name) {
					c[name] = e[name]
				}
				conflicts[j] = c
			}
			c[field] = next(e[field])
		}
	}

	// Keep existing order.
	indices := make([]int, 0, len(conflicts))
	for j := range conflicts {
		indices = append(indices, j)
	}
	sort.Ints(indices)
	for _, j := range indices {
		changes.Conflicts = append(changes.Conflicts, conflicts[j])
	}

	return changes
}

// matchExisting returns the index of the first unmatched existing item that
// matches d under the first applicable identifier, or -1.
func matchExisting(desc Descriptor, d Item, existing []Item, matched []bool) int {
	for _, ident := range desc.Identifiers {
		if len(ident) == 0 || !hasAll(d, ident) {
			continue
		}
		for j, e := range existing {
			if matched[j] {
				continue
			}
			if fieldsEqual(d, e, ident) {
				return j
			}
		}
	}
	return -1
}

// hasAll reports whether the item carries every field of the identifier.
func hasAll(item Item, ident Identifier) bool {
	for _, f := range ident {
		if !item.Has(f) {
			return false
		}
	}
	return true
}

// fieldsEqual reports whether a and b agree on every field of the identifier.
func fieldsEqual(a, b Item, ident Identifier) bool {
	for _, f := range ident {
		if !b.Has(f) || !valuesEqual(a[f], b[f]) {
			return false
		}
	}
	return true
}

// claimedByOther reports whether any claimant targets an item other than j.
func claimedByOther(targets []int, j int) bool {
	for _, t := range targets {
		if t != j {
			return true
		}
	}
	return false
}

// subsetEqual reports whether every field of desired equals the same field of
// existing. Fields the remote side adds (ids, timestamps) are ignored.
func subsetEqual(desired, existing Item) bool {
	for k, v := range desired {
		ev, ok := existing[k]
		if !ok {
			if v == nil {
				continue
			}
			return false
		}
		if !valuesEqual(v, ev) {
			return false
		}
	}
	return true
}

// valuesEqual compares two values after normalizing them through JSON, so that
// an int from a YAML file equals a float64 from a JSON response.
func valuesEqual(a, b interface{}) bool {
	return reflect.DeepEqual(normalize(a), normalize(b))
}

// normalize round-trips a value through JSON. Values that cannot be encoded are
// returned unchanged.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	}

	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

// valueKey returns a canonical map key for a value.
func valueKey(v interface{}) string {
	n := normalize(v)
	return fmt.Sprintf("%T:%v", n, n)
}

// newTempValues returns a generator of disambiguating values for a unique field.
// Numeric values are placed above every value known on either side; string
// values get a suffix that is checked against every known value.
func newTempValues(field string, desired, existing []Item) func(current interface{}) interface{} {
	known := make(map[string]struct{})
	maxNum := math.Inf(-1)

	observe := func(items []Item) {
		for _, it := range items {
			if !it.Has(field) {
				continue
			}
			v := normalize(it[field])
			known[valueKey(v)] = struct{}{}
			if f, ok := v.(float64); ok && f > maxNum {
				maxNum = f
			}
		}
	}
	observe(desired)
	observe(existing)

	counter := 0
	return func(current interface{}) interface{} {
		switch v := normalize(current).(type) {
		case float64:
			if math.IsInf(maxNum, -1) {
				maxNum = v
			}
			maxNum++
			known[valueKey(maxNum)] = struct{}{}
			if maxNum == math.Trunc(maxNum) {
				return int64(maxNum)
			}
			return maxNum
		default:
			for {
				counter++
				candidate := fmt.Sprintf("%v-%d", v, counter)
				key := valueKey(candidate)
				if _, taken := known[key]; !taken {
					known[key] = struct{}{}
					return candidate
				}
			}
		}
	}
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

// Package reldiff reconciles membership sets.
//
// Diff compares the keys currently stored for a relation with the keys a caller
// wants stored and reports the minimal set of inserts and deletes. It is used for
// provider-account bookkeeping during account merges and for the many-to-many
// association tables edited through the admin API.
package reldiff

// Delta is the change needed to turn a current set into a desired set.
type Delta[K comparable] struct {
	ToAdd    []K
	ToRemove []K
}

// Empty reports whether applying the delta would change nothing.
func (d Delta[K]) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0
}

// Diff returns desired minus current as ToAdd and current minus desired as
// ToRemove. Duplicate keys are collapsed. Output order follows the order in
// which keys first appear in the inputs.
func Diff[K comparable](current, desired []K) Delta[K] {
	have := toSet(current)
	want := toSet(desired)

	var d Delta[K]
	seen := make(map[K]struct{}, len(desired))
	for _, k := range desired {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := have[k]; !ok {
			d.ToAdd = append(d.ToAdd, k)
		}
	}

	clear(seen)
	for _, k := range current {
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		if _, ok := want[k]; !ok {
			d.ToRemove = append(d.ToRemove, k)
		}
	}
	return d
}

// Union returns the keys of a followed by the keys of b not already in a.
func Union[K comparable](a, b []K) []K {
	out := make([]K, 0, len(a)+len(b))
	seen := make(map[K]struct{}, len(a)+len(b))
	for _, list := range [][]K{a, b} {
		for _, k := range list {
			if _, ok := seen[k]; ok {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}

func toSet[K comparable](keys []K) map[K]struct{} {
	set := make(map[K]struct{}, len(keys))
	for _, k := range keys {
		set[k] = struct{}{}
	}
	return set
}

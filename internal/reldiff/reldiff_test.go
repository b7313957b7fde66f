// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Medidir Contributors

package reldiff_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/medidir/medidir/internal/reldiff"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name       string
		current    []int64
		desired    []int64
		wantAdd    []int64
		wantRemove []int64
	}{
		{
			name:    "empty current adds everything",
			desired: []int64{1, 2, 3},
			wantAdd: []int64{1, 2, 3},
		},
		{
			name:       "empty desired removes everything",
			current:    []int64{4, 5},
			wantRemove: []int64{4, 5},
		},
		{
			name:       "overlapping sets",
			current:    []int64{1, 2, 3},
			desired:    []int64{2, 3, 4},
			wantAdd:    []int64{4},
			wantRemove: []int64{1},
		},
		{
			name:    "identical sets",
			current: []int64{7, 8},
			desired: []int64{8, 7},
		},
		{
			name:       "duplicates collapse",
			current:    []int64{1, 1, 2},
			desired:    []int64{3, 3, 2},
			wantAdd:    []int64{3},
			wantRemove: []int64{1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := reldiff.Diff(tt.current, tt.desired)
			assert.Equal(t, tt.wantAdd, d.ToAdd)
			assert.Equal(t, tt.wantRemove, d.ToRemove)
		})
	}
}

func TestDiff_Idempotent(t *testing.T) {
	current := []string{"google", "telegram"}
	desired := []string{"telegram", "facebook"}

	first := reldiff.Diff(current, desired)
	assert.False(t, first.Empty())

	// Apply the first delta, then diff again against the same desired set.
	applied := reldiff.Union(current, first.ToAdd)
	applied = without(applied, first.ToRemove)

	second := reldiff.Diff(applied, desired)
	assert.True(t, second.Empty())
}

func TestUnion(t *testing.T) {
	assert.Equal(t, []int64{1, 2, 3, 4}, reldiff.Union([]int64{1, 2, 3}, []int64{3, 4, 1}))
	assert.Empty(t, reldiff.Union[int64](nil, nil))
}

func without(keys, drop []string) []string {
	d := reldiff.Diff(drop, keys)
	return d.ToAdd
}

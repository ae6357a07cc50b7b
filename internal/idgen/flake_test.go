// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package idgen

import (
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlakeGeneratorNextID(t *testing.T) {
	gen, err := NewFlakeGenerator()
	require.NoError(t, err)

	prev := gen.NextID()
	assert.Positive(t, prev)
	for range 1000 {
		id := gen.NextID()
		require.Greater(t, id, prev)
		prev = id
	}
}

func TestFlakeGeneratorIsMonotonicAcrossClockStalls(t *testing.T) {
	gen, err := NewFlakeGenerator()
	require.NoError(t, err)

	gen.last = 1 << 62
	assert.Equal(t, int64(1<<62)+1, gen.NextID())
	assert.Equal(t, int64(1<<62)+2, gen.NextID())
}

func TestULIDGenerator_Make(t *testing.T) {
	gen := NewULIDGenerator()
	now := time.Now()

	ids := make([]string, 0, 100)
	for range 100 {
		ids = append(ids, gen.Make(now))
	}
	assert.True(t, slices.IsSorted(ids), "ids within one millisecond must stay ordered")
	assert.Len(t, slices.Compact(slices.Clone(ids)), len(ids))

	got, err := ULIDTime(ids[0])
	require.NoError(t, err)
	assert.Equal(t, now.UnixMilli(), got.UnixMilli())

	_, err = ULIDTime("not-a-ulid")
	assert.Error(t, err)
}

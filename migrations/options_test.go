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

package migrations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCheckMode(t *testing.T) {
	for _, m := range []CheckMode{CheckModeWait, CheckModeWarn, CheckModeSkip} {
		got, err := ParseCheckMode(m.String())
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}
	got, err := ParseCheckMode("WARN")
	require.NoError(t, err)
	assert.Equal(t, CheckModeWarn, got)

	_, err = ParseCheckMode("sometimes")
	assert.Error(t, err)
	assert.Equal(t, "CheckMode(9)", CheckMode(9).String())
}

func TestCheckOptions(t *testing.T) {
	o := DefaultCheckOptions()
	for _, opt := range []CheckOption{
		WithCheckMode(CheckModeWarn),
		WithTimeout(time.Second),
		WithRetryInterval(time.Millisecond),
		WithAllowDirty(true),
	} {
		opt(&o)
	}
	assert.Equal(t, CheckOptions{
		Mode:          CheckModeWarn,
		Timeout:       time.Second,
		RetryInterval: time.Millisecond,
		AllowDirty:    true,
	}, o)
}

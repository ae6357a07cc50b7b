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
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cardinalhq/dsconfig/migrations"
)

func TestExtractLatestMigrationVersion(t *testing.T) {
	got, err := extractLatestMigrationVersion(migrationFiles)
	require.NoError(t, err)
	assert.Equal(t, uint(1760745600), got)

	tests := []struct {
		name    string
		files   fstest.MapFS
		want    uint
		wantErr bool
	}{
		{
			name: "highest up file wins",
			files: fstest.MapFS{
				"1_a.up.sql":    {},
				"1_a.down.sql":  {},
				"30_b.up.sql":   {},
				"4_c.up.sql":    {},
				"99_d.down.sql": {},
			},
			want: 30,
		},
		{
			name:  "unparseable names are skipped",
			files: fstest.MapFS{"x_a.up.sql": {}, "7_b.up.sql": {}},
			want:  7,
		},
		{
			name:    "no migrations",
			files:   fstest.MapFS{"README.md": {}},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractLatestMigrationVersion(tt.files)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCheckOptionsFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		t.Setenv("CONFIGDB_MIGRATION_CHECK_ENABLED", "")
		t.Setenv("MIGRATION_CHECK_TIMEOUT", "")
		t.Setenv("MIGRATION_CHECK_RETRY_INTERVAL", "")
		t.Setenv("MIGRATION_CHECK_ALLOW_DIRTY", "")
		assert.Equal(t, migrations.DefaultCheckOptions(), checkOptionsFromEnv())
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("CONFIGDB_MIGRATION_CHECK_ENABLED", "false")
		t.Setenv("MIGRATION_CHECK_TIMEOUT", "30s")
		t.Setenv("MIGRATION_CHECK_RETRY_INTERVAL", "2s")
		t.Setenv("MIGRATION_CHECK_ALLOW_DIRTY", "true")
		o := checkOptionsFromEnv()
		assert.Equal(t, migrations.CheckModeSkip, o.Mode)
		assert.Equal(t, 30*time.Second, o.Timeout)
		assert.Equal(t, 2*time.Second, o.RetryInterval)
		assert.True(t, o.AllowDirty)
	})

	t.Run("bad durations keep defaults", func(t *testing.T) {
		t.Setenv("MIGRATION_CHECK_TIMEOUT", "soon")
		assert.Equal(t, migrations.DefaultCheckOptions().Timeout, checkOptionsFromEnv().Timeout)
	})
}

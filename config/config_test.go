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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("DSCONFIG_INVALIDATION_BROKERS", "broker1:9092,broker2:9092")
	t.Setenv("DSCONFIG_INVALIDATION_ENABLED", "true")
	t.Setenv("DSCONFIG_INVALIDATION_SASL_USERNAME", "alice")
	t.Setenv("DSCONFIG_CACHE_KIND", "sqlite")
	t.Setenv("DSCONFIG_CACHE_PATH", "/var/cache/dsconfig.db")
	t.Setenv("DSCONFIG_RESOLVER_MEMORY_TTL", "90s")
	t.Setenv("DSCONFIG_INFERENCE_MAIN_SUFFIX", "star")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, []string{"broker1:9092", "broker2:9092"}, cfg.Invalidation.Brokers)
	assert.True(t, cfg.Invalidation.Enabled)
	assert.Equal(t, "alice", cfg.Invalidation.SASLUsername)
	assert.Equal(t, CacheSQLite, cfg.Cache.Kind)
	assert.Equal(t, "/var/cache/dsconfig.db", cfg.Cache.Path)
	assert.Equal(t, 90*time.Second, cfg.Resolver.MemoryTTL)
	assert.Equal(t, "star", cfg.Inference.MainSuffix)
	assert.Equal(t, "dm", cfg.Inference.DimensionSuffix, "unset keys keep their defaults")
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
sources:
  - name: primary
    kind: postgres
  - name: shared
    kind: s3
    bucket: configs
    prefix: dsconfig
    path_style: true
notifications:
  - kind: sqs
    queue_url: https://sqs.us-east-2.amazonaws.com/123/configs
    region: us-east-2
schema:
  driver: duckdb
  path: warehouse.duckdb
  views:
    - name: gene__gene__main
      source: /data/gene.parquet
  duckdb:
    memory_limit: 512
`), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	require.Len(t, cfg.Sources, 2)
	assert.Equal(t, "primary", cfg.Sources[0].Name)
	assert.Equal(t, SourceS3, cfg.Sources[1].Kind)
	assert.True(t, cfg.Sources[1].PathStyle)
	require.Len(t, cfg.Notifications, 1)
	assert.Equal(t, NotifySQS, cfg.Notifications[0].Kind)
	assert.Equal(t, "us-east-2", cfg.Notifications[0].Region)
	assert.Equal(t, SchemaDuckDB, cfg.Schema.Driver)
	require.Len(t, cfg.Schema.Views, 1)
	assert.Equal(t, "/data/gene.parquet", cfg.Schema.Views[0].Source)
	assert.Equal(t, int64(512), cfg.Schema.DuckDB.Settings().MemoryLimitMB)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"defaults", func(*Config) {}, ""},
		{"unknown cache", func(c *Config) { c.Cache.Kind = "redis" }, `unknown kind "redis"`},
		{"sqlite without path", func(c *Config) { c.Cache.Kind = CacheSQLite }, "needs a path"},
		{"no sources", func(c *Config) { c.Sources = nil }, "at least one source"},
		{"duplicate source", func(c *Config) { c.Sources = append(c.Sources, c.Sources[0]) }, "duplicate name"},
		{"s3 without bucket", func(c *Config) { c.Sources = []SourceConfig{{Name: "x", Kind: SourceS3}} }, "needs a bucket"},
		{"azure without account", func(c *Config) {
			c.Sources = []SourceConfig{{Name: "x", Kind: SourceAzure, Container: "c"}}
		}, "storage account or endpoint"},
		{"sqs without queue", func(c *Config) {
			c.Notifications = []NotificationConfig{{Kind: NotifySQS}}
		}, "sqs needs a queue_url"},
		{"pubsub without subscription", func(c *Config) {
			c.Notifications = []NotificationConfig{{Kind: NotifyGCPPubSub, ProjectID: "p"}}
		}, "project_id and subscription_id"},
		{"azure queue", func(c *Config) {
			c.Notifications = []NotificationConfig{{Kind: NotifyAzureQueue, QueueName: "q", StorageAccount: "acct"}}
		}, ""},
		{"unknown notification", func(c *Config) {
			c.Notifications = []NotificationConfig{{Kind: "sns"}}
		}, `unknown kind "sns"`},
		{"snapshot without path", func(c *Config) { c.Schema.Driver = SchemaSnapshot }, "snapshot driver needs a path"},
		{"unknown driver", func(c *Config) { c.Schema.Driver = "oracle" }, `unknown driver "oracle"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestDuckDBTempDirectory(t *testing.T) {
	t.Setenv("TMPDIR", "/scratch")
	c := DefaultDuckDBConfig()
	assert.Equal(t, "/scratch", c.GetTempDirectory())
	c.TempDirectory = "/spill"
	assert.Equal(t, "/spill", c.Settings().TempDirectory)
}

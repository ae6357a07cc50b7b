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
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"

	"github.com/cardinalhq/dsconfig/internal/inference"
	"github.com/cardinalhq/dsconfig/internal/invalidation"
	"github.com/cardinalhq/dsconfig/internal/schema/duckschema"
	"github.com/cardinalhq/dsconfig/internal/validator"
)

// Config aggregates configuration for the application.
// Section types owned by a package come from that package.
type Config struct {
	Resolver     ResolverConfig        `mapstructure:"resolver"`
	Cache        CacheConfig           `mapstructure:"cache"`
	Sources      []SourceConfig        `mapstructure:"sources"`
	Schema       SchemaConfig          `mapstructure:"schema"`
	Validation   validator.Conventions `mapstructure:"validation"`
	Inference    inference.Conventions `mapstructure:"inference"`
	Invalidation invalidation.Config   `mapstructure:"invalidation"`
	Watch        WatchConfig           `mapstructure:"watch"`

	// Notifications feed object store change events to the watch command.
	Notifications []NotificationConfig `mapstructure:"notifications"`
}

type ResolverConfig struct {
	// MemoryTTL bounds how long a tree stays in memory; zero keeps it
	// until invalidated.
	MemoryTTL             time.Duration `mapstructure:"memory_ttl"`
	SyncConcurrency       int           `mapstructure:"sync_concurrency"`
	FederationConcurrency int           `mapstructure:"federation_concurrency"`
	SyncInterval          time.Duration `mapstructure:"sync_interval"`
}

// WatchConfig controls the probe server of the watch command. An empty
// HealthAddr disables it.
type WatchConfig struct {
	HealthAddr string `mapstructure:"health_addr"`
	Pprof      bool   `mapstructure:"pprof"`
}

const (
	CacheSQLite = "sqlite"
	CacheDir    = "dir"
	CacheMemory = "memory"
	CacheNone   = "none"
)

type CacheConfig struct {
	Kind     string `mapstructure:"kind"`
	Path     string `mapstructure:"path"`
	Capacity uint64 `mapstructure:"capacity"`
}

const (
	SourcePostgres = "postgres"
	SourceS3       = "s3"
	SourceGCS      = "gcs"
	SourceAzure    = "azure"
	SourceFile     = "file"
)

// SourceConfig describes one authoritative store. Sources are consulted in
// the order listed.
type SourceConfig struct {
	Name string `mapstructure:"name"`
	Kind string `mapstructure:"kind"`

	// Object stores.
	Bucket         string `mapstructure:"bucket"`
	Container      string `mapstructure:"container"`
	StorageAccount string `mapstructure:"storage_account"`
	Prefix         string `mapstructure:"prefix"`
	Endpoint       string `mapstructure:"endpoint"`
	Region         string `mapstructure:"region"`
	RoleARN        string `mapstructure:"role_arn"`
	PathStyle      bool   `mapstructure:"path_style"`
	InsecureTLS    bool   `mapstructure:"insecure_tls"`

	// File sources.
	Path  string `mapstructure:"path"`
	Watch bool   `mapstructure:"watch"`

	// CompressThreshold overrides the store's default; negative disables
	// compression.
	CompressThreshold int `mapstructure:"compress_threshold"`
}

const (
	NotifySQS        = "sqs"
	NotifyGCPPubSub  = "gcp_pubsub"
	NotifyAzureQueue = "azure_queue"
)

// NotificationConfig names a queue carrying bucket notifications for the
// s3, gcs or azure sources.
type NotificationConfig struct {
	Kind string `mapstructure:"kind"`

	// SQS.
	QueueURL string `mapstructure:"queue_url"`
	Region   string `mapstructure:"region"`
	RoleARN  string `mapstructure:"role_arn"`

	// GCP Pub/Sub.
	ProjectID       string `mapstructure:"project_id"`
	SubscriptionID  string `mapstructure:"subscription_id"`
	CredentialsFile string `mapstructure:"credentials_file"`

	// Azure storage queues.
	StorageAccount string `mapstructure:"storage_account"`
	Endpoint       string `mapstructure:"endpoint"`
	QueueName      string `mapstructure:"queue_name"`
}

const (
	SchemaPostgres = "postgres"
	SchemaDuckDB   = "duckdb"
	SchemaSnapshot = "snapshot"
)

// SchemaConfig selects the warehouse whose metadata validation and
// inference read. Postgres connection settings come from SCHEMADB_*.
type SchemaConfig struct {
	Driver     string            `mapstructure:"driver"`
	Path       string            `mapstructure:"path"`
	SchemaName string            `mapstructure:"schema_name"`
	Views      []duckschema.View `mapstructure:"views"`
	DuckDB     DuckDBConfig      `mapstructure:"duckdb"`

	// Concurrency bounds the pages validated at once.
	Concurrency int `mapstructure:"concurrency"`
}

func DefaultConfig() *Config {
	return &Config{
		Resolver: ResolverConfig{
			SyncConcurrency:       4,
			FederationConcurrency: 4,
			SyncInterval:          5 * time.Minute,
		},
		Cache: CacheConfig{Kind: CacheNone},
		Sources: []SourceConfig{
			{Name: "local", Kind: SourceFile, Path: "configs"},
		},
		Schema: SchemaConfig{
			Driver:      SchemaPostgres,
			SchemaName:  "public",
			DuckDB:      DefaultDuckDBConfig(),
			Concurrency: 4,
		},
		Validation:   validator.DefaultConventions(),
		Inference:    inference.DefaultConventions(),
		Invalidation: invalidation.DefaultConfig(),
		Watch:        WatchConfig{HealthAddr: ":8090"},
	}
}

// Load reads configuration from files and environment variables.
// Environment variables use the prefix "DSCONFIG" and the dot character
// in keys is replaced by an underscore. For example, "cache.kind" becomes
// "DSCONFIG_CACHE_KIND".
func Load() (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.AddConfigPath(".")
	v.SetEnvPrefix("DSCONFIG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnvs(v, cfg)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	if b := v.GetString("invalidation.brokers"); b != "" {
		cfg.Invalidation.Brokers = strings.Split(b, ",")
	}
	cfg.Invalidation.Enabled = v.GetBool("invalidation.enabled")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every problem in the configuration at once.
func (c *Config) Validate() error {
	var errs *multierror.Error

	switch c.Cache.Kind {
	case CacheNone, CacheMemory:
	case CacheSQLite, CacheDir:
		if c.Cache.Path == "" {
			errs = multierror.Append(errs, fmt.Errorf("cache: %s cache needs a path", c.Cache.Kind))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("cache: unknown kind %q", c.Cache.Kind))
	}

	if len(c.Sources) == 0 {
		errs = multierror.Append(errs, errors.New("sources: at least one source is required"))
	}
	names := mapset.NewThreadUnsafeSet[string]()
	for i, s := range c.Sources {
		if s.Name == "" {
			errs = multierror.Append(errs, fmt.Errorf("sources[%d]: name is required", i))
		} else if !names.Add(s.Name) {
			errs = multierror.Append(errs, fmt.Errorf("sources[%d]: duplicate name %q", i, s.Name))
		}
		switch s.Kind {
		case SourcePostgres:
		case SourceS3, SourceGCS:
			if s.Bucket == "" {
				errs = multierror.Append(errs, fmt.Errorf("sources[%d]: %s source needs a bucket", i, s.Kind))
			}
		case SourceAzure:
			if s.Container == "" {
				errs = multierror.Append(errs, fmt.Errorf("sources[%d]: azure source needs a container", i))
			}
			if s.StorageAccount == "" && s.Endpoint == "" {
				errs = multierror.Append(errs, fmt.Errorf("sources[%d]: azure source needs a storage account or endpoint", i))
			}
		case SourceFile:
			if s.Path == "" {
				errs = multierror.Append(errs, fmt.Errorf("sources[%d]: file source needs a path", i))
			}
		default:
			errs = multierror.Append(errs, fmt.Errorf("sources[%d]: unknown kind %q", i, s.Kind))
		}
	}

	for i, n := range c.Notifications {
		switch n.Kind {
		case NotifySQS:
			if n.QueueURL == "" {
				errs = multierror.Append(errs, fmt.Errorf("notifications[%d]: sqs needs a queue_url", i))
			}
		case NotifyGCPPubSub:
			if n.ProjectID == "" || n.SubscriptionID == "" {
				errs = multierror.Append(errs, fmt.Errorf("notifications[%d]: gcp_pubsub needs a project_id and subscription_id", i))
			}
		case NotifyAzureQueue:
			if n.QueueName == "" {
				errs = multierror.Append(errs, fmt.Errorf("notifications[%d]: azure_queue needs a queue_name", i))
			}
			if n.StorageAccount == "" && n.Endpoint == "" {
				errs = multierror.Append(errs, fmt.Errorf("notifications[%d]: azure_queue needs a storage account or endpoint", i))
			}
		default:
			errs = multierror.Append(errs, fmt.Errorf("notifications[%d]: unknown kind %q", i, n.Kind))
		}
	}

	switch c.Schema.Driver {
	case SchemaPostgres, SchemaDuckDB:
	case SchemaSnapshot:
		if c.Schema.Path == "" {
			errs = multierror.Append(errs, errors.New("schema: snapshot driver needs a path"))
		}
	default:
		errs = multierror.Append(errs, fmt.Errorf("schema: unknown driver %q", c.Schema.Driver))
	}

	return errs.ErrorOrNil()
}

// bindEnvs registers all keys within cfg so that viper will look up
// corresponding environment variables when unmarshalling.
func bindEnvs(v *viper.Viper, cfg any, parts ...string) {
	val := reflect.ValueOf(cfg)
	typ := reflect.TypeOf(cfg)
	if typ.Kind() == reflect.Ptr {
		val = val.Elem()
		typ = typ.Elem()
	}
	for i := 0; i < typ.NumField(); i++ {
		f := typ.Field(i)
		tag := f.Tag.Get("mapstructure")
		if tag == "" {
			tag = strings.ToLower(f.Name)
		}
		key := append(parts, tag)
		if f.Type.Kind() == reflect.Struct {
			bindEnvs(v, val.Field(i).Interface(), key...)
			continue
		}
		_ = v.BindEnv(strings.Join(key, "."))
	}
}

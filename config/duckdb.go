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

	"github.com/cardinalhq/dsconfig/internal/schema/duckschema"
)

// DuckDBConfig tunes the DuckDB engine behind the duckdb schema driver.
type DuckDBConfig struct {
	MemoryLimit   int64  `mapstructure:"memory_limit"`   // Memory limit in MB (0 = unlimited)
	Threads       int    `mapstructure:"threads"`        // 0 means DuckDB's default
	TempDirectory string `mapstructure:"temp_directory"` // Directory for spill files
}

func DefaultDuckDBConfig() DuckDBConfig {
	return DuckDBConfig{}
}

// GetTempDirectory returns the configured temp directory, defaulting to
// TMPDIR and then /tmp.
func (c *DuckDBConfig) GetTempDirectory() string {
	if c.TempDirectory != "" {
		return c.TempDirectory
	}
	if tmpdir := os.Getenv("TMPDIR"); tmpdir != "" {
		return tmpdir
	}
	return "/tmp"
}

func (c *DuckDBConfig) Settings() duckschema.Settings {
	return duckschema.Settings{
		MemoryLimitMB: c.MemoryLimit,
		Threads:       c.Threads,
		TempDirectory: c.GetTempDirectory(),
	}
}

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

package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/KimMachineGun/automemlimit/memlimit"
	gomaxecs "github.com/rdforte/gomaxecs/maxprocs"
	"go.uber.org/automaxprocs/maxprocs"

	"github.com/cardinalhq/dsconfig/cmd"
)

func stderrf(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
}

// fitToContainer sizes GOMAXPROCS and GOMEMLIMIT to the container's
// quotas, for the long-running watch daemon.
func fitToContainer() {
	var err error
	if gomaxecs.IsECS() {
		_, err = gomaxecs.Set(gomaxecs.WithLogger(stderrf))
	} else {
		_, err = maxprocs.Set(maxprocs.Logger(func(string, ...any) {}))
	}
	if err != nil {
		stderrf("failed to set GOMAXPROCS: %v", err)
	}

	if _, err := memlimit.SetGoMemLimitWithOpts(
		memlimit.WithRatio(0.8),
		memlimit.WithProvider(memlimit.ApplyFallback(memlimit.FromCgroup, memlimit.FromSystem)),
	); err != nil {
		stderrf("failed to set GOMEMLIMIT: %v", err)
	}
}

// privateTempDir keeps DuckDB spill files in a directory of our own.
func privateTempDir() {
	tmp := filepath.Join(os.TempDir(), "dsconfig")
	if err := os.MkdirAll(tmp, 0o755); err != nil {
		slog.Warn("Failed to create temp dir, using the default", slog.String("path", tmp), slog.Any("error", err))
		return
	}
	_ = os.Setenv("TMPDIR", tmp)
}

func main() {
	time.Local = time.UTC
	fitToContainer()
	privateTempDir()
	cmd.Execute()
}

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

// Package migrations holds the options shared by database migration
// version checks.
package migrations

import (
	"fmt"
	"strings"
	"time"
)

// CheckMode says what a version check does when the database is not at
// the expected migration version.
type CheckMode int

const (
	// CheckModeWait polls until the version matches, failing after the timeout.
	CheckModeWait CheckMode = iota
	// CheckModeWarn logs the mismatch and continues.
	CheckModeWarn
	// CheckModeSkip does not check.
	CheckModeSkip
)

var checkModeNames = map[CheckMode]string{
	CheckModeWait: "wait",
	CheckModeWarn: "warn",
	CheckModeSkip: "skip",
}

func (m CheckMode) String() string {
	if s, ok := checkModeNames[m]; ok {
		return s
	}
	return fmt.Sprintf("CheckMode(%d)", int(m))
}

// ParseCheckMode accepts wait, warn or skip.
func ParseCheckMode(s string) (CheckMode, error) {
	for m, name := range checkModeNames {
		if strings.EqualFold(s, name) {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown migration check mode %q", s)
}

// CheckOptions controls a migration version check.
type CheckOptions struct {
	Mode          CheckMode
	Timeout       time.Duration
	RetryInterval time.Duration
	AllowDirty    bool
}

// CheckOption modifies CheckOptions.
type CheckOption func(*CheckOptions)

func WithCheckMode(mode CheckMode) CheckOption {
	return func(opts *CheckOptions) { opts.Mode = mode }
}

func WithTimeout(timeout time.Duration) CheckOption {
	return func(opts *CheckOptions) { opts.Timeout = timeout }
}

func WithRetryInterval(interval time.Duration) CheckOption {
	return func(opts *CheckOptions) { opts.RetryInterval = interval }
}

func WithAllowDirty(allow bool) CheckOption {
	return func(opts *CheckOptions) { opts.AllowDirty = allow }
}

// DefaultCheckOptions waits up to a minute, checking every five seconds.
func DefaultCheckOptions() CheckOptions {
	return CheckOptions{
		Mode:          CheckModeWait,
		Timeout:       60 * time.Second,
		RetryInterval: 5 * time.Second,
	}
}

/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import (
	"fmt"
	"runtime"
)

// Version is the current version of Torque.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/torque/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the git revision, set at build time.
var Commit = "unknown"

// String renders the version line printed by `torque version` and logged at startup.
func String() string {
	return fmt.Sprintf("torque %s (%s, %s)", Version, Commit, runtime.Version())
}

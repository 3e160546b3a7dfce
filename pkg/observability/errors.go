// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import "errors"

var (
	// ErrAlreadyInstalled is returned when a second pipeline is installed in the same process.
	ErrAlreadyInstalled = errors.New("observability pipeline already installed")
	// ErrNoContext is returned when the pipeline is installed without a context.
	ErrNoContext = errors.New("observability pipeline requires a non-nil context")
	// ErrExporterInstall wraps failures to set up the trace exporter.
	ErrExporterInstall = errors.New("failed to install trace exporter")
	// ErrReloadTargetUnavailable is returned when a level change cannot be applied,
	// either because no pipeline is installed yet or because it was shut down.
	ErrReloadTargetUnavailable = errors.New("reload target unavailable")
)

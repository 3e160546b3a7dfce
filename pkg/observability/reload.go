// Copyright 2026 BWI GmbH and Solution Arsenal contributors
// SPDX-License-Identifier: Apache-2.0

package observability

import (
	"fmt"
	"sync/atomic"
)

// ReloadHandle holds the active Filter of a reloadable layer.
// It is safe for concurrent use; readers never block writers and vice versa.
type ReloadHandle struct {
	filter   atomic.Pointer[Filter]
	closed   atomic.Bool
	onChange atomic.Pointer[changeFunc]
}

type changeFunc func(old, next *Filter, parseErr error)

func newReloadHandle(f *Filter) *ReloadHandle {
	h := &ReloadHandle{}
	h.filter.Store(f)
	return h
}

// Filter returns the filter currently in effect.
func (h *ReloadHandle) Filter() *Filter {
	return h.filter.Load()
}

// Directive returns the normalized directive of the current filter.
func (h *ReloadHandle) Directive() string {
	return h.Filter().String()
}

// Modify replaces the current filter with one parsed from directive.
// Malformed directives fall back to DefaultDirective, as on construction.
// Records checked after Modify returns observe the new filter; records
// checked before are unaffected.
func (h *ReloadHandle) Modify(directive string) error {
	if h.closed.Load() {
		return fmt.Errorf("modify level to %q: %w", directive, ErrReloadTargetUnavailable)
	}

	f, parseErr := FilterOrDefault(directive)
	old := h.filter.Swap(f)

	if fn := h.onChange.Load(); fn != nil {
		(*fn)(old, f, parseErr)
	}
	return nil
}

func (h *ReloadHandle) notify(fn changeFunc) {
	h.onChange.Store(&fn)
}

func (h *ReloadHandle) close() {
	h.closed.Store(true)
}
